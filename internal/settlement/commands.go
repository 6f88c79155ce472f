// Package settlement defines the wire vocabulary of ledger commands and
// the interpreter that executes an ordered command list as one atomic
// settlement against the object store.
package settlement

import (
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/policy"
)

// Kind tags one command in the closed settlement vocabulary.
type Kind string

const (
	KindFundAccount   Kind = "fund_account"
	KindCreateKiosk   Kind = "create_kiosk"
	KindMintAsset     Kind = "mint_asset"
	KindAttachPolicy  Kind = "attach_policy"
	KindPlace         Kind = "place"
	KindPlaceAndLock  Kind = "place_and_lock"
	KindList          Kind = "list"
	KindDelist        Kind = "delist"
	KindLockForSale   Kind = "lock_for_sale"
	KindWithdraw      Kind = "withdraw"
	KindWrapCap       Kind = "wrap_cap"
	KindBorrowCap     Kind = "borrow_cap"
	KindRestoreCap    Kind = "restore_cap"
	KindPurchase      Kind = "purchase"
	KindProveRoyalty  Kind = "prove_royalty"
	KindProveLock     Kind = "prove_lock"
	KindProvePersonal Kind = "prove_personal"
	KindConfirm       Kind = "confirm"
)

// Command is one step of a settlement: a kind tag plus exactly the
// payload that kind requires. create_kiosk and restore_cap carry no
// payload.
type Command struct {
	Kind Kind `json:"kind"`

	FundAccount   *FundAccount   `json:"fundAccount,omitempty"`
	MintAsset     *MintAsset     `json:"mintAsset,omitempty"`
	AttachPolicy  *AttachPolicy  `json:"attachPolicy,omitempty"`
	Place         *Place         `json:"place,omitempty"`
	PlaceAndLock  *PlaceAndLock  `json:"placeAndLock,omitempty"`
	List          *List          `json:"list,omitempty"`
	Delist        *Delist        `json:"delist,omitempty"`
	LockForSale   *LockForSale   `json:"lockForSale,omitempty"`
	Withdraw      *Withdraw      `json:"withdraw,omitempty"`
	WrapCap       *WrapCap       `json:"wrapCap,omitempty"`
	BorrowCap     *BorrowCap     `json:"borrowCap,omitempty"`
	Purchase      *Purchase      `json:"purchase,omitempty"`
	ProveRoyalty  *ProveRoyalty  `json:"proveRoyalty,omitempty"`
	ProveLock     *ProveLock     `json:"proveLock,omitempty"`
	ProvePersonal *ProvePersonal `json:"provePersonal,omitempty"`
	Confirm       *Confirm       `json:"confirm,omitempty"`
}

// FundAccount credits the signer's balance. Development faucet.
type FundAccount struct {
	Amount uint64 `json:"amount"`
}

// MintAsset creates a new asset owned by the signer.
type MintAsset struct {
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

// AttachPolicy creates the transfer policy for a collection.
type AttachPolicy struct {
	Collection string                `json:"collection"`
	Rules      policy.RuleSet        `json:"rules"`
	Royalty    *policy.RoyaltyConfig `json:"royalty,omitempty"`
}

// Place moves an asset into a kiosk.
type Place struct {
	Kiosk ledger.ObjectID `json:"kiosk"`
	Cap   ledger.ObjectID `json:"cap"`
	Asset ledger.ObjectID `json:"asset"`
}

// PlaceAndLock moves an asset into a kiosk and locks it there.
type PlaceAndLock struct {
	Kiosk ledger.ObjectID `json:"kiosk"`
	Cap   ledger.ObjectID `json:"cap"`
	Asset ledger.ObjectID `json:"asset"`
}

// List offers a placed asset for sale.
type List struct {
	Kiosk ledger.ObjectID `json:"kiosk"`
	Cap   ledger.ObjectID `json:"cap"`
	Asset ledger.ObjectID `json:"asset"`
	Price uint64          `json:"price"`
}

// Delist withdraws an active listing and returns the asset to the owner.
type Delist struct {
	Kiosk ledger.ObjectID `json:"kiosk"`
	Cap   ledger.ObjectID `json:"cap"`
	Asset ledger.ObjectID `json:"asset"`
}

// LockForSale places an asset locked and lists it exclusively.
type LockForSale struct {
	Kiosk ledger.ObjectID `json:"kiosk"`
	Cap   ledger.ObjectID `json:"cap"`
	Asset ledger.ObjectID `json:"asset"`
	Price uint64          `json:"price"`
}

// Withdraw moves accrued kiosk profits to the owner's balance.
type Withdraw struct {
	Kiosk  ledger.ObjectID `json:"kiosk"`
	Cap    ledger.ObjectID `json:"cap"`
	Amount uint64          `json:"amount"`
}

// WrapCap seals the signer's ownership capability inside a new
// delegated-access capability, marking the kiosk owner-bound. One way:
// there is no unwrap.
type WrapCap struct {
	Cap ledger.ObjectID `json:"cap"`
}

// BorrowCap takes the ownership capability out of a delegated-access
// capability for the remainder of the settlement. It must be matched by
// a restore_cap before the settlement ends.
type BorrowCap struct {
	PersonalCap ledger.ObjectID `json:"personalCap"`
}

// Purchase settles an active listing at its exact asking price, debiting
// the signer's balance. The purchased asset stays in transit inside the
// settlement until a place command lands it or confirm hands it to the
// signer.
type Purchase struct {
	Kiosk   ledger.ObjectID `json:"kiosk"`
	Asset   ledger.ObjectID `json:"asset"`
	Payment uint64          `json:"payment"`
}

// ProveRoyalty pays the royalty fee from the signer's balance and stamps
// the in-flight transfer request.
type ProveRoyalty struct {
	Policy  ledger.ObjectID `json:"policy"`
	Payment uint64          `json:"payment"`
}

// ProveLock proves the purchased asset is locked in the given kiosk.
type ProveLock struct {
	Policy ledger.ObjectID `json:"policy"`
	Kiosk  ledger.ObjectID `json:"kiosk"`
}

// ProvePersonal proves the given kiosk is owner-bound.
type ProvePersonal struct {
	Policy ledger.ObjectID `json:"policy"`
	Kiosk  ledger.ObjectID `json:"kiosk"`
}

// Confirm consumes the in-flight transfer request against a policy.
type Confirm struct {
	Policy ledger.ObjectID `json:"policy"`
}

// Validate checks that the command carries the payload its kind requires
// and that every referenced object identifier is present.
func (c Command) Validate() error {
	switch c.Kind {
	case KindFundAccount:
		if c.FundAccount == nil {
			return missingPayload(c.Kind)
		}
	case KindCreateKiosk, KindRestoreCap:
		// No payload.
	case KindMintAsset:
		if c.MintAsset == nil {
			return missingPayload(c.Kind)
		}
		if c.MintAsset.Collection == "" {
			return invalid(c.Kind, "collection is required")
		}
	case KindAttachPolicy:
		if c.AttachPolicy == nil {
			return missingPayload(c.Kind)
		}
		if c.AttachPolicy.Collection == "" {
			return invalid(c.Kind, "collection is required")
		}
	case KindPlace:
		if c.Place == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.Place.Kiosk, c.Place.Cap, c.Place.Asset)
	case KindPlaceAndLock:
		if c.PlaceAndLock == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.PlaceAndLock.Kiosk, c.PlaceAndLock.Cap, c.PlaceAndLock.Asset)
	case KindList:
		if c.List == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.List.Kiosk, c.List.Cap, c.List.Asset)
	case KindDelist:
		if c.Delist == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.Delist.Kiosk, c.Delist.Cap, c.Delist.Asset)
	case KindLockForSale:
		if c.LockForSale == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.LockForSale.Kiosk, c.LockForSale.Cap, c.LockForSale.Asset)
	case KindWithdraw:
		if c.Withdraw == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.Withdraw.Kiosk, c.Withdraw.Cap)
	case KindWrapCap:
		if c.WrapCap == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.WrapCap.Cap)
	case KindBorrowCap:
		if c.BorrowCap == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.BorrowCap.PersonalCap)
	case KindPurchase:
		if c.Purchase == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.Purchase.Kiosk, c.Purchase.Asset)
	case KindProveRoyalty:
		if c.ProveRoyalty == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.ProveRoyalty.Policy)
	case KindProveLock:
		if c.ProveLock == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.ProveLock.Policy, c.ProveLock.Kiosk)
	case KindProvePersonal:
		if c.ProvePersonal == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.ProvePersonal.Policy, c.ProvePersonal.Kiosk)
	case KindConfirm:
		if c.Confirm == nil {
			return missingPayload(c.Kind)
		}
		return requireIDs(c.Kind, c.Confirm.Policy)
	default:
		return errors.WithMetadata(errors.CodeInvalidCommand,
			fmt.Sprintf("unknown command kind %q", c.Kind),
			map[string]string{"kind": string(c.Kind)},
		)
	}
	return nil
}

func missingPayload(kind Kind) error {
	return invalid(kind, "payload is required")
}

func invalid(kind Kind, msg string) error {
	return errors.WithMetadata(errors.CodeInvalidCommand,
		fmt.Sprintf("%s: %s", kind, msg),
		map[string]string{"kind": string(kind)},
	)
}

func requireIDs(kind Kind, ids ...ledger.ObjectID) error {
	for _, objID := range ids {
		if objID == "" {
			return invalid(kind, "object reference is required")
		}
	}
	return nil
}
