// Package market builds and submits multi-step purchase settlements: it
// resolves the listing and its policy, quotes the full cost, assembles
// the command sequence satisfying every registered rule, and retries
// from fresh reads when a competing settlement wins the race.
package market

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/louisbranch/kiosk.market/internal/kiosk"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/node"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/policy"
	"github.com/louisbranch/kiosk.market/internal/settlement"
)

// API is the node surface the orchestrator reads and submits through.
type API interface {
	FindKiosk(ctx context.Context, addr ledger.Address, personal bool) (node.KioskLookupResponse, error)
	Listing(ctx context.Context, kioskID, assetID ledger.ObjectID) (node.ListingResponse, error)
	Policy(ctx context.Context, policyID ledger.ObjectID) (node.PolicyResponse, error)
	Object(ctx context.Context, objID ledger.ObjectID) (node.ObjectResponse, error)
	Submit(ctx context.Context, signer ledger.Address, env settlement.Envelope) (node.SettlementResponse, error)
}

// Orchestrator drives buyer-side purchases against one node.
type Orchestrator struct {
	api API
}

// New creates an orchestrator over the node API.
func New(api API) *Orchestrator {
	return &Orchestrator{api: api}
}

// Quote is the full cost of a purchase before submission.
type Quote struct {
	Price      uint64 `json:"price"`
	RoyaltyFee uint64 `json:"royaltyFee"`
	Total      uint64 `json:"total"`
}

// Plan is a fully assembled purchase settlement ready to submit. Inputs
// pin the object versions the plan was built from.
type Plan struct {
	Quote    Quote
	Envelope settlement.Envelope
}

// Result reports a committed purchase.
type Result struct {
	Quote   Quote
	Digest  string
	Effects []ledger.Change
}

// BuildPurchase assembles the settlement buying one listed asset: it
// reads the listing, the asset's collection policy, and the buyer's
// kiosk, then emits the command sequence that pays the price, satisfies
// every registered rule, confirms the transfer, and restores any
// borrowed capability.
func (o *Orchestrator) BuildPurchase(ctx context.Context, buyer ledger.Address, sellerKiosk, assetID ledger.ObjectID) (Plan, error) {
	listing, err := o.api.Listing(ctx, sellerKiosk, assetID)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve listing: %w", err)
	}

	assetObj, err := o.api.Object(ctx, assetID)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve asset: %w", err)
	}
	var assetBody kiosk.AssetBody
	if err := decodeBody(assetObj.Body, &assetBody); err != nil {
		return Plan{}, err
	}

	pol, err := o.api.Policy(ctx, policy.ID(assetBody.Collection))
	if err != nil {
		return Plan{}, fmt.Errorf("resolve policy: %w", err)
	}

	quote := Quote{Price: listing.Price, Total: listing.Price}
	if pol.Rules.Has(policy.RuleRoyalty) {
		if pol.Royalty == nil {
			return Plan{}, errors.New(errors.CodePolicyMismatch, "policy registers royalty rule without a config")
		}
		quote.RoyaltyFee = policy.RoyaltyFee(listing.Price, *pol.Royalty)
		quote.Total += quote.RoyaltyFee
	}

	needKiosk := pol.Rules.Has(policy.RuleKioskLock) || pol.Rules.Has(policy.RulePersonalKiosk)
	var buyerKiosk node.KioskLookupResponse
	if needKiosk {
		buyerKiosk, err = o.resolveKiosk(ctx, buyer)
		if err != nil {
			return Plan{}, fmt.Errorf("resolve buyer kiosk: %w", err)
		}
	}

	var cmds []settlement.Command
	if buyerKiosk.Personal {
		cmds = append(cmds, settlement.Command{Kind: settlement.KindBorrowCap,
			BorrowCap: &settlement.BorrowCap{PersonalCap: kiosk.PersonalCapID(buyer)}})
	}
	cmds = append(cmds, settlement.Command{Kind: settlement.KindPurchase,
		Purchase: &settlement.Purchase{Kiosk: sellerKiosk, Asset: assetID, Payment: listing.Price}})
	if pol.Rules.Has(policy.RuleKioskLock) {
		cmds = append(cmds,
			settlement.Command{Kind: settlement.KindPlaceAndLock,
				PlaceAndLock: &settlement.PlaceAndLock{Kiosk: buyerKiosk.KioskID, Cap: buyerKiosk.CapID, Asset: assetID}},
			settlement.Command{Kind: settlement.KindProveLock,
				ProveLock: &settlement.ProveLock{Policy: pol.PolicyID, Kiosk: buyerKiosk.KioskID}},
		)
	}
	if pol.Rules.Has(policy.RuleRoyalty) {
		cmds = append(cmds, settlement.Command{Kind: settlement.KindProveRoyalty,
			ProveRoyalty: &settlement.ProveRoyalty{Policy: pol.PolicyID, Payment: quote.RoyaltyFee}})
	}
	if pol.Rules.Has(policy.RulePersonalKiosk) {
		cmds = append(cmds, settlement.Command{Kind: settlement.KindProvePersonal,
			ProvePersonal: &settlement.ProvePersonal{Policy: pol.PolicyID, Kiosk: buyerKiosk.KioskID}})
	}
	cmds = append(cmds, settlement.Command{Kind: settlement.KindConfirm,
		Confirm: &settlement.Confirm{Policy: pol.PolicyID}})
	if buyerKiosk.Personal {
		cmds = append(cmds, settlement.Command{Kind: settlement.KindRestoreCap})
	}

	return Plan{
		Quote: quote,
		Envelope: settlement.Envelope{
			Inputs: []ledger.Ref{
				{ID: sellerKiosk, Version: listing.KioskVersion},
				{ID: pol.PolicyID, Version: pol.Version},
			},
			Commands: cmds,
		},
	}, nil
}

// Purchase builds and submits the purchase, rebuilding from fresh reads
// and resubmitting when a competing settlement moved an input object.
func (o *Orchestrator) Purchase(ctx context.Context, buyer ledger.Address, sellerKiosk, assetID ledger.ObjectID) (Result, error) {
	var result Result
	attempt := func() error {
		plan, err := o.BuildPurchase(ctx, buyer, sellerKiosk, assetID)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := o.api.Submit(ctx, buyer, plan.Envelope)
		if err != nil {
			if stderrors.Is(err, errors.New(errors.CodeVersionConflict, "")) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = Result{Quote: plan.Quote, Digest: resp.Digest, Effects: resp.Effects}
		return nil
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(attempt, retry); err != nil {
		return Result{}, err
	}
	return result, nil
}

// resolveKiosk prefers the account's owner-bound kiosk and falls back to
// a directly held capability.
func (o *Orchestrator) resolveKiosk(ctx context.Context, buyer ledger.Address) (node.KioskLookupResponse, error) {
	found, err := o.api.FindKiosk(ctx, buyer, true)
	if err == nil {
		return found, nil
	}
	if !stderrors.Is(err, errors.New(errors.CodeNotFound, "")) {
		return node.KioskLookupResponse{}, err
	}
	return o.api.FindKiosk(ctx, buyer, false)
}

func decodeBody(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode object body: %w", err)
	}
	return nil
}
