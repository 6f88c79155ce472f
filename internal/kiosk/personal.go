package kiosk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/platform/id"
)

// PersonalCapBody is the persisted state of one delegated-access capability.
// It holds custody of the wrapped ownership capability so a protocol layer
// can act as the kiosk owner without the raw capability ever moving.
type PersonalCapBody struct {
	Owner ledger.Address  `json:"owner"`
	Cap   ledger.ObjectID `json:"cap"`
}

// Receipt is the ephemeral proof of one outstanding borrow. It exists only
// inside a settlement; Restore must consume it before the settlement ends.
type Receipt struct {
	ID          string
	PersonalCap ledger.ObjectID
	Cap         ledger.ObjectID
}

// PersonalCapID derives the deterministic identity of an owner's delegated
// capability, so a lookup by owner address reliably finds the delegate.
func PersonalCapID(owner ledger.Address) ledger.ObjectID {
	return ledger.ObjectID(id.Derive("personal_kiosk_cap", string(owner)))
}

// Wrap moves the ownership capability into a new delegated-access
// capability held by owner, and marks the governed kiosk as personal.
// Wrapping is one-way: the ownership capability's custody transfers to the
// wrapper and can only be exercised through Borrow/Restore.
func Wrap(ctx context.Context, tx ledger.Txn, capID ledger.ObjectID, owner ledger.Address) (ledger.ObjectID, error) {
	capObj, err := tx.Get(ctx, capID)
	if err != nil {
		return "", err
	}
	if capObj.Owner != owner {
		return "", errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("capability %s is not held by %s", capID, owner),
			map[string]string{"capability": string(capID)},
		)
	}
	var capBody OwnerCapBody
	if err := json.Unmarshal(capObj.Body, &capBody); err != nil {
		return "", fmt.Errorf("decode owner cap body: %w", err)
	}

	personalID := PersonalCapID(owner)
	body, err := json.Marshal(PersonalCapBody{Owner: owner, Cap: capID})
	if err != nil {
		return "", fmt.Errorf("encode personal cap body: %w", err)
	}
	if err := tx.Create(ctx, ledger.Object{
		ID:    personalID,
		Type:  ledger.TypePersonalCap,
		Owner: owner,
		Body:  body,
	}); err != nil {
		return "", err
	}

	capObj.Owner = ledger.Address(personalID)
	if err := tx.Update(ctx, capObj); err != nil {
		return "", err
	}

	kioskObj, kioskBody, err := load(ctx, tx, capBody.Kiosk)
	if err != nil {
		return "", err
	}
	kioskBody.Personal = true
	if err := save(ctx, tx, kioskObj, kioskBody); err != nil {
		return "", err
	}
	return personalID, nil
}

// Borrow temporarily exposes the wrapped ownership capability. The caller
// must hold the delegated capability; the returned receipt must be
// consumed by Restore before the settlement ends.
func Borrow(ctx context.Context, tx ledger.Txn, personalCapID ledger.ObjectID, signer ledger.Address) (ledger.ObjectID, Receipt, error) {
	obj, err := tx.Get(ctx, personalCapID)
	if err != nil {
		return "", Receipt{}, err
	}
	if obj.Type != ledger.TypePersonalCap {
		return "", Receipt{}, errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("object %s is not a delegated kiosk capability", personalCapID),
			map[string]string{"capability": string(personalCapID)},
		)
	}
	if obj.Owner != signer {
		return "", Receipt{}, errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("delegated capability %s is not held by %s", personalCapID, signer),
			map[string]string{"capability": string(personalCapID)},
		)
	}
	var body PersonalCapBody
	if err := json.Unmarshal(obj.Body, &body); err != nil {
		return "", Receipt{}, fmt.Errorf("decode personal cap body: %w", err)
	}
	return body.Cap, Receipt{
		ID:          uuid.NewString(),
		PersonalCap: personalCapID,
		Cap:         body.Cap,
	}, nil
}

// Restore retires a borrow. The exact borrowed capability and the exact
// receipt must be presented together; any mismatch fails and the borrow
// stays outstanding, which aborts the settlement.
func Restore(receipt Receipt, personalCapID, capID ledger.ObjectID) error {
	if receipt.ID == "" {
		return errors.New(errors.CodeReceiptMismatch, "no outstanding borrow to restore")
	}
	if receipt.PersonalCap != personalCapID || receipt.Cap != capID {
		return errors.WithMetadata(errors.CodeReceiptMismatch,
			"restore does not match the outstanding borrow",
			map[string]string{
				"capability": string(capID),
				"delegate":   string(personalCapID),
			},
		)
	}
	return nil
}
