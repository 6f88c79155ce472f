// Package node parses node service flags and launches the service.
package node

import (
	"context"
	"flag"

	server "github.com/louisbranch/kiosk.market/internal/node"
	entrypoint "github.com/louisbranch/kiosk.market/internal/platform/cmd"
)

// Config holds node command configuration.
type Config struct {
	Port int `env:"KIOSK_MARKET_NODE_PORT" envDefault:"8080"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The node HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the node HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNode, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
