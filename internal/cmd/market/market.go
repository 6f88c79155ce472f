// Package market parses marketplace CLI flags and dispatches seller and
// buyer operations against a node.
package market

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/kiosk.market/internal/client"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/market"
	entrypoint "github.com/louisbranch/kiosk.market/internal/platform/cmd"
	"github.com/louisbranch/kiosk.market/internal/policy"
)

// Config holds marketplace command configuration.
type Config struct {
	NodeURL    string `env:"KIOSK_MARKET_NODE_URL" envDefault:"http://localhost:8080"`
	AuthSecret string `env:"KIOSK_MARKET_AUTH_SECRET" envDefault:"dev-secret"`
	Signer     string `env:"KIOSK_MARKET_SIGNER"`

	args []string
}

// ParseConfig parses environment and flags into Config. Remaining args
// select the operation and its parameters.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.NodeURL, "node", cfg.NodeURL, "Node API base URL")
	fs.StringVar(&cfg.Signer, "as", cfg.Signer, "Signer address for submitted settlements")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.args = fs.Args()
	return cfg, nil
}

// Run executes one marketplace operation.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMarket, func(ctx context.Context) error {
		return dispatch(ctx, cfg)
	})
}

func dispatch(ctx context.Context, cfg Config) error {
	if len(cfg.args) == 0 {
		return fmt.Errorf("usage: market [flags] <create-kiosk|mint|attach-policy|list|delist|withdraw|fund|quote|buy> [args]")
	}
	signer := ledger.Address(cfg.Signer)
	if signer == "" {
		return fmt.Errorf("a signer address is required (-as or KIOSK_MARKET_SIGNER)")
	}
	orch := market.New(client.New(cfg.NodeURL, []byte(cfg.AuthSecret)))

	op, rest := cfg.args[0], cfg.args[1:]
	switch op {
	case "create-kiosk":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		personal := fs.Bool("personal", false, "Seal the capability into a delegated-access wrapper")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		found, err := orch.CreateKiosk(ctx, signer, *personal)
		if err != nil {
			return err
		}
		log.Printf("kiosk %s cap %s personal=%t", found.KioskID, found.CapID, found.Personal)
		return nil

	case "mint":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		collection := fs.String("collection", "", "Collection the asset belongs to")
		name := fs.String("name", "", "Asset display name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		assetID, err := orch.MintAsset(ctx, signer, *collection, *name)
		if err != nil {
			return err
		}
		log.Printf("asset %s", assetID)
		return nil

	case "attach-policy":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		collection := fs.String("collection", "", "Collection the policy governs")
		ruleNames := fs.String("rules", "", "Comma-separated rules (royalty,kiosk_lock,personal_kiosk)")
		bps := fs.Uint("royalty-bps", 0, "Royalty share in basis points")
		minFee := fs.Uint64("royalty-min", 0, "Royalty absolute floor")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		rules, err := parseRules(*ruleNames)
		if err != nil {
			return err
		}
		var royalty *policy.RoyaltyConfig
		if rules.Has(policy.RuleRoyalty) {
			royalty = &policy.RoyaltyConfig{BasisPoints: uint32(*bps), MinAmount: *minFee}
		}
		policyID, err := orch.AttachPolicy(ctx, signer, *collection, rules, royalty)
		if err != nil {
			return err
		}
		log.Printf("policy %s", policyID)
		return nil

	case "list":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		asset := fs.String("asset", "", "Asset to list")
		price := fs.Uint64("price", 0, "Asking price")
		lock := fs.Bool("lock", true, "Lock the asset in place (exclusive listing)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return orch.ListAsset(ctx, signer, ledger.ObjectID(*asset), *price, *lock)

	case "delist":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		asset := fs.String("asset", "", "Asset to delist")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return orch.DelistAsset(ctx, signer, ledger.ObjectID(*asset))

	case "withdraw":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		amount := fs.Uint64("amount", 0, "Profits to withdraw")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return orch.Withdraw(ctx, signer, *amount)

	case "fund":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		amount := fs.Uint64("amount", 0, "Amount to credit")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return orch.Fund(ctx, signer, *amount)

	case "quote":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		kioskID := fs.String("kiosk", "", "Seller kiosk")
		asset := fs.String("asset", "", "Listed asset")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		plan, err := orch.BuildPurchase(ctx, signer, ledger.ObjectID(*kioskID), ledger.ObjectID(*asset))
		if err != nil {
			return err
		}
		log.Printf("price %d royalty %d total %d", plan.Quote.Price, plan.Quote.RoyaltyFee, plan.Quote.Total)
		return nil

	case "buy":
		fs := flag.NewFlagSet(op, flag.ContinueOnError)
		kioskID := fs.String("kiosk", "", "Seller kiosk")
		asset := fs.String("asset", "", "Listed asset")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		result, err := orch.Purchase(ctx, signer, ledger.ObjectID(*kioskID), ledger.ObjectID(*asset))
		if err != nil {
			return err
		}
		log.Printf("settled %s total %d (%d changes)", result.Digest, result.Quote.Total, len(result.Effects))
		return nil
	}

	return fmt.Errorf("unknown operation %q", op)
}

func parseRules(names string) (policy.RuleSet, error) {
	var rules policy.RuleSet
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		kind, err := policy.ParseRuleKind(name)
		if err != nil {
			return 0, err
		}
		rules = rules.Add(kind)
	}
	return rules, nil
}
