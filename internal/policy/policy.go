package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/platform/id"
	"github.com/shopspring/decimal"
)

// Body is the persisted state of one transfer policy. One policy exists
// per collection; its rule set is fixed at attach time.
type Body struct {
	Collection string         `json:"collection"`
	Rules      RuleSet        `json:"rules"`
	Royalty    *RoyaltyConfig `json:"royalty,omitempty"`
	Balance    uint64         `json:"balance"`
}

// RoyaltyConfig configures the royalty rule: a basis-point share of the
// sale price with an absolute floor.
type RoyaltyConfig struct {
	BasisPoints uint32 `json:"basisPoints"`
	MinAmount   uint64 `json:"minAmount"`
}

const basisPointDenominator = 10_000

// ID derives the deterministic policy slot for a collection.
func ID(collection string) ledger.ObjectID {
	return ledger.ObjectID(id.Derive("transfer_policy", collection))
}

// Attach creates the transfer policy for a collection. Attaching twice
// fails: the policy slot is deterministic and unique.
func Attach(ctx context.Context, tx ledger.Txn, collection string, rules RuleSet, royalty *RoyaltyConfig) (ledger.ObjectID, error) {
	if collection == "" {
		return "", errors.New(errors.CodeInvalidCommand, "collection is required")
	}
	if rules.Has(RuleRoyalty) != (royalty != nil) {
		return "", errors.New(errors.CodeInvalidCommand, "royalty config must accompany the royalty rule exactly")
	}
	if royalty != nil && royalty.BasisPoints > basisPointDenominator {
		return "", errors.New(errors.CodeInvalidCommand, "royalty basis points cannot exceed 10000")
	}

	policyID := ID(collection)
	body, err := json.Marshal(Body{Collection: collection, Rules: rules, Royalty: royalty})
	if err != nil {
		return "", fmt.Errorf("encode policy body: %w", err)
	}
	if err := tx.Create(ctx, ledger.Object{ID: policyID, Type: ledger.TypePolicy, Body: body}); err != nil {
		return "", err
	}
	return policyID, nil
}

// RoyaltyFee computes the fee the royalty rule demands for a sale price:
// the basis-point share rounded up, with the configured absolute floor.
func RoyaltyFee(price uint64, cfg RoyaltyConfig) uint64 {
	share := decimal.NewFromBigInt(new(big.Int).SetUint64(price), 0).
		Mul(decimal.NewFromInt(int64(cfg.BasisPoints))).
		Div(decimal.NewFromInt(basisPointDenominator)).
		Ceil()
	fee := share.BigInt().Uint64()
	if fee < cfg.MinAmount {
		return cfg.MinAmount
	}
	return fee
}

// Confirm consumes a transfer request: it succeeds only when every rule
// the policy registers has stamped the request. This is the single choke
// point preventing a sale from bypassing a seller-mandated condition.
func Confirm(ctx context.Context, tx ledger.Txn, policyID ledger.ObjectID, req *TransferRequest) error {
	_, body, err := load(ctx, tx, policyID)
	if err != nil {
		return err
	}
	if body.Collection != req.Collection {
		return policyMismatch(policyID, req)
	}
	if !req.Satisfied().Equal(body.Rules) {
		missing := make([]string, 0, 3)
		for _, kind := range body.Rules.Kinds() {
			if !req.Satisfied().Has(kind) {
				missing = append(missing, kind.String())
			}
		}
		return errors.WithMetadata(errors.CodeIncompleteRules,
			fmt.Sprintf("transfer request for asset %s is missing rule proofs: %v", req.Asset, missing),
			map[string]string{"policy": string(policyID), "asset": string(req.Asset)},
		)
	}
	req.consume()
	return nil
}

// Load returns the policy object and its decoded body.
func Load(ctx context.Context, tx ledger.Txn, policyID ledger.ObjectID) (ledger.Object, Body, error) {
	return load(ctx, tx, policyID)
}

// DecodeBody decodes a policy object body.
func DecodeBody(obj ledger.Object) (Body, error) {
	if obj.Type != ledger.TypePolicy {
		return Body{}, errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("object %s is not a transfer policy", obj.ID),
			map[string]string{"object": string(obj.ID)},
		)
	}
	var body Body
	if err := json.Unmarshal(obj.Body, &body); err != nil {
		return Body{}, fmt.Errorf("decode policy body: %w", err)
	}
	return body, nil
}

func load(ctx context.Context, tx ledger.Txn, policyID ledger.ObjectID) (ledger.Object, Body, error) {
	obj, err := tx.Get(ctx, policyID)
	if err != nil {
		return ledger.Object{}, Body{}, err
	}
	body, err := DecodeBody(obj)
	if err != nil {
		return ledger.Object{}, Body{}, err
	}
	return obj, body, nil
}

func save(ctx context.Context, tx ledger.Txn, obj ledger.Object, body Body) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode policy body: %w", err)
	}
	obj.Body = encoded
	return tx.Update(ctx, obj)
}

func policyMismatch(policyID ledger.ObjectID, req *TransferRequest) error {
	return errors.WithMetadata(errors.CodePolicyMismatch,
		fmt.Sprintf("policy %s does not cover collection %q", policyID, req.Collection),
		map[string]string{"policy": string(policyID), "asset": string(req.Asset)},
	)
}
