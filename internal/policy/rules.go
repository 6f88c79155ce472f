package policy

import (
	"context"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/kiosk"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
)

// ProveRoyalty validates the royalty obligation: the exact computed fee
// must accompany the call. The fee accrues to the policy's balance and
// the royalty stamp is set on the request.
//
// The caller is responsible for debiting the payer; this function only
// accepts or rejects the amount.
func ProveRoyalty(ctx context.Context, tx ledger.Txn, policyID ledger.ObjectID, req *TransferRequest, payment uint64) error {
	obj, body, err := load(ctx, tx, policyID)
	if err != nil {
		return err
	}
	if err := checkRegistered(body, policyID, req, RuleRoyalty); err != nil {
		return err
	}
	fee := RoyaltyFee(req.Price, *body.Royalty)
	if payment != fee {
		return errors.WithMetadata(errors.CodeRoyaltyMismatch,
			fmt.Sprintf("royalty payment %d does not match required fee %d", payment, fee),
			map[string]string{"policy": string(policyID), "asset": string(req.Asset)},
		)
	}
	if err := req.stamp(RuleRoyalty); err != nil {
		return err
	}
	body.Balance += payment
	return save(ctx, tx, obj, body)
}

// ProveKioskLock validates the destination-lock obligation: the purchased
// asset must already be locked inside the buyer's kiosk.
func ProveKioskLock(ctx context.Context, tx ledger.Txn, policyID, buyerKiosk ledger.ObjectID, req *TransferRequest) error {
	_, body, err := load(ctx, tx, policyID)
	if err != nil {
		return err
	}
	if err := checkRegistered(body, policyID, req, RuleKioskLock); err != nil {
		return err
	}
	_, kioskBody, err := kiosk.Load(ctx, tx, buyerKiosk)
	if err != nil {
		return err
	}
	item, ok := kioskBody.Items[req.Asset]
	if !ok || !item.Locked {
		return errors.WithMetadata(errors.CodeRuleUnsatisfied,
			fmt.Sprintf("asset %s is not locked in kiosk %s", req.Asset, buyerKiosk),
			map[string]string{"kiosk": string(buyerKiosk), "asset": string(req.Asset)},
		)
	}
	return req.stamp(RuleKioskLock)
}

// ProvePersonalKiosk validates the buyer-eligibility obligation: the
// destination kiosk must be owner-bound (backed by a delegated-access
// capability).
func ProvePersonalKiosk(ctx context.Context, tx ledger.Txn, policyID, buyerKiosk ledger.ObjectID, req *TransferRequest) error {
	_, body, err := load(ctx, tx, policyID)
	if err != nil {
		return err
	}
	if err := checkRegistered(body, policyID, req, RulePersonalKiosk); err != nil {
		return err
	}
	_, kioskBody, err := kiosk.Load(ctx, tx, buyerKiosk)
	if err != nil {
		return err
	}
	if !kioskBody.Personal {
		return errors.WithMetadata(errors.CodeRuleUnsatisfied,
			fmt.Sprintf("kiosk %s is not owner-bound", buyerKiosk),
			map[string]string{"kiosk": string(buyerKiosk), "asset": string(req.Asset)},
		)
	}
	return req.stamp(RulePersonalKiosk)
}

func checkRegistered(body Body, policyID ledger.ObjectID, req *TransferRequest, kind RuleKind) error {
	if body.Collection != req.Collection {
		return policyMismatch(policyID, req)
	}
	if !body.Rules.Has(kind) {
		return errors.WithMetadata(errors.CodeRuleNotRegistered,
			fmt.Sprintf("rule %s is not registered on policy %s", kind, policyID),
			map[string]string{"policy": string(policyID), "rule": kind.String()},
		)
	}
	return nil
}
