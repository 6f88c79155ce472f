package settlement

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
)

// Envelope is the wire form of a settlement submission. The signer rides
// in the transport's auth token, not in the body.
type Envelope struct {
	Inputs   []ledger.Ref `json:"inputs"`
	Commands []Command    `json:"commands"`
}

// Validate checks the envelope's shape: at least one command, every
// command well-formed, every input carrying an object id.
func (e Envelope) Validate() error {
	if len(e.Commands) == 0 {
		return errors.New(errors.CodeInvalidCommand, "settlement carries no commands")
	}
	for i, cmd := range e.Commands {
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
	}
	for i, ref := range e.Inputs {
		if ref.ID == "" {
			return errors.New(errors.CodeInvalidCommand, fmt.Sprintf("input %d has no object id", i))
		}
	}
	return nil
}

// Encode serializes an envelope for submission.
func Encode(env Envelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode settlement: %w", err)
	}
	return data, nil
}

// Decode parses and validates a submitted envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(errors.CodeInvalidCommand, "malformed settlement body", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
