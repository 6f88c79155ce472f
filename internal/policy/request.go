package policy

import (
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
)

// TransferRequest is the ephemeral proof aggregator created at purchase
// time. It is never persisted: it lives inside one settlement, collects
// one stamp per satisfied rule, and is consumed by a successful Confirm.
// A request that outlives its settlement aborts it.
type TransferRequest struct {
	Asset      ledger.ObjectID
	Collection string
	Price      uint64
	From       ledger.ObjectID

	satisfied RuleSet
	consumed  bool
}

// NewTransferRequest creates the aggregator for one purchase.
func NewTransferRequest(asset ledger.ObjectID, collection string, price uint64, from ledger.ObjectID) *TransferRequest {
	return &TransferRequest{
		Asset:      asset,
		Collection: collection,
		Price:      price,
		From:       from,
	}
}

// Satisfied returns the set of rules that have stamped the request.
func (r *TransferRequest) Satisfied() RuleSet {
	return r.satisfied
}

// Consumed reports whether a successful confirmation retired the request.
func (r *TransferRequest) Consumed() bool {
	return r.consumed
}

// stamp records one rule's proof. Proving the same rule twice is a hard
// failure so a fee can never be charged twice.
func (r *TransferRequest) stamp(kind RuleKind) error {
	if r.consumed {
		return errors.New(errors.CodeRequestLeaked, "transfer request already consumed")
	}
	if r.satisfied.Has(kind) {
		return errors.WithMetadata(errors.CodeRuleAlreadyProven,
			fmt.Sprintf("rule %s already proven for asset %s", kind, r.Asset),
			map[string]string{"rule": kind.String(), "asset": string(r.Asset)},
		)
	}
	r.satisfied = r.satisfied.Add(kind)
	return nil
}

func (r *TransferRequest) consume() {
	r.consumed = true
}
