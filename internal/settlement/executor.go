package settlement

import (
	"context"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/kiosk"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/policy"
)

// Submission is one settlement ready to execute: the authenticated
// signer, the object versions the submitter's pre-reads observed, and
// the ordered command list.
type Submission struct {
	Signer   ledger.Address
	Inputs   []ledger.Ref
	Commands []Command
}

// Executor interprets settlements against the object store. Each
// settlement runs inside one store transaction: either every command
// takes effect or none does.
type Executor struct {
	store ledger.Store
}

// NewExecutor creates an executor over the given store.
func NewExecutor(store ledger.Store) *Executor {
	return &Executor{store: store}
}

// Execute runs one settlement atomically. Before any command runs, every
// input reference is checked against the store's current version; a
// stale read fails the settlement with VERSION_CONFLICT. After the last
// command, the execution scope must be empty: an unconsumed transfer
// request or an unreturned borrowed capability aborts everything.
func (e *Executor) Execute(ctx context.Context, sub Submission) (ledger.Effects, error) {
	if sub.Signer == "" {
		return ledger.Effects{}, errors.New(errors.CodeUnauthenticated, "settlement has no signer")
	}
	env := Envelope{Inputs: sub.Inputs, Commands: sub.Commands}
	if err := env.Validate(); err != nil {
		return ledger.Effects{}, err
	}

	return e.store.RunSettlement(ctx, func(tx ledger.Txn) error {
		if err := checkInputs(ctx, tx, sub.Inputs); err != nil {
			return err
		}
		sc := &scope{signer: sub.Signer}
		for i, cmd := range sub.Commands {
			if err := apply(ctx, tx, sc, cmd); err != nil {
				return fmt.Errorf("command %d (%s): %w", i, cmd.Kind, err)
			}
		}
		return sc.close()
	})
}

func checkInputs(ctx context.Context, tx ledger.Txn, inputs []ledger.Ref) error {
	for _, ref := range inputs {
		obj, err := tx.Get(ctx, ref.ID)
		if err != nil {
			if errors.CodeOf(err) == errors.CodeNotFound {
				return errors.WithMetadata(errors.CodeVersionConflict,
					fmt.Sprintf("input object %s no longer exists", ref.ID),
					map[string]string{"object": string(ref.ID)},
				)
			}
			return err
		}
		if obj.Version != ref.Version {
			return errors.WithMetadata(errors.CodeVersionConflict,
				fmt.Sprintf("object %s is at version %d, submission read version %d", ref.ID, obj.Version, ref.Version),
				map[string]string{"object": string(ref.ID)},
			)
		}
	}
	return nil
}

// scope carries the settlement's ephemeral values: the asset in transit
// after a purchase, the transfer request collecting rule proofs, and the
// capability taken out of a delegated-access wrapper. None of these may
// survive the settlement.
type scope struct {
	signer ledger.Address

	heldAsset ledger.ObjectID
	request   *policy.TransferRequest

	borrowedCap ledger.ObjectID
	borrowedOf  ledger.ObjectID
	receipt     kiosk.Receipt
}

func (s *scope) close() error {
	if s.request != nil {
		return errors.WithMetadata(errors.CodeRequestLeaked,
			fmt.Sprintf("transfer request for asset %s was never confirmed", s.request.Asset),
			map[string]string{"asset": string(s.request.Asset)},
		)
	}
	if s.borrowedCap != "" {
		return errors.WithMetadata(errors.CodeCapabilityNotRestored,
			fmt.Sprintf("capability %s was borrowed but not restored", s.borrowedCap),
			map[string]string{"capability": string(s.borrowedCap)},
		)
	}
	if s.heldAsset != "" {
		return errors.WithMetadata(errors.CodeSettlementFailed,
			fmt.Sprintf("asset %s was left in transit", s.heldAsset),
			map[string]string{"asset": string(s.heldAsset)},
		)
	}
	return nil
}

// holdCap verifies the signer may wield the capability: either it was
// borrowed earlier in this settlement, or the signer's address owns it.
func (s *scope) holdCap(ctx context.Context, tx ledger.Txn, capID ledger.ObjectID) error {
	if capID == s.borrowedCap {
		return nil
	}
	capObj, err := tx.Get(ctx, capID)
	if err != nil {
		return err
	}
	if capObj.Owner != s.signer {
		return errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("signer %s does not hold capability %s", s.signer, capID),
			map[string]string{"capability": string(capID)},
		)
	}
	return nil
}

// holdAsset verifies the signer may move the asset into a kiosk: either
// it is the purchase's in-transit asset, or the signer's address owns it.
// Assets held by other addresses or escrowed in other kiosks are out of
// reach.
func (s *scope) holdAsset(ctx context.Context, tx ledger.Txn, assetID ledger.ObjectID) error {
	if assetID == s.heldAsset {
		return nil
	}
	asset, err := tx.Get(ctx, assetID)
	if err != nil {
		return err
	}
	if asset.Owner != s.signer {
		return errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("signer %s does not hold asset %s", s.signer, assetID),
			map[string]string{"asset": string(assetID)},
		)
	}
	return nil
}

func (s *scope) requireRequest() (*policy.TransferRequest, error) {
	if s.request == nil {
		return nil, errors.New(errors.CodeInvalidCommand, "no transfer request in flight")
	}
	return s.request, nil
}

func apply(ctx context.Context, tx ledger.Txn, sc *scope, cmd Command) error {
	switch cmd.Kind {
	case KindFundAccount:
		return ledger.Credit(ctx, tx, sc.signer, cmd.FundAccount.Amount)

	case KindCreateKiosk:
		_, _, err := kiosk.Create(ctx, tx, sc.signer)
		return err

	case KindMintAsset:
		_, err := kiosk.Mint(ctx, tx, sc.signer, cmd.MintAsset.Collection, cmd.MintAsset.Name)
		return err

	case KindAttachPolicy:
		_, err := policy.Attach(ctx, tx, cmd.AttachPolicy.Collection, cmd.AttachPolicy.Rules, cmd.AttachPolicy.Royalty)
		return err

	case KindPlace:
		p := cmd.Place
		if err := sc.holdCap(ctx, tx, p.Cap); err != nil {
			return err
		}
		if err := sc.holdAsset(ctx, tx, p.Asset); err != nil {
			return err
		}
		if err := kiosk.Place(ctx, tx, p.Kiosk, p.Cap, p.Asset); err != nil {
			return err
		}
		if p.Asset == sc.heldAsset {
			sc.heldAsset = ""
		}
		return nil

	case KindPlaceAndLock:
		p := cmd.PlaceAndLock
		if err := sc.holdCap(ctx, tx, p.Cap); err != nil {
			return err
		}
		if err := sc.holdAsset(ctx, tx, p.Asset); err != nil {
			return err
		}
		if err := kiosk.PlaceAndLock(ctx, tx, p.Kiosk, p.Cap, p.Asset); err != nil {
			return err
		}
		if p.Asset == sc.heldAsset {
			sc.heldAsset = ""
		}
		return nil

	case KindList:
		p := cmd.List
		if err := sc.holdCap(ctx, tx, p.Cap); err != nil {
			return err
		}
		return kiosk.List(ctx, tx, p.Kiosk, p.Cap, p.Asset, p.Price)

	case KindDelist:
		p := cmd.Delist
		if err := sc.holdCap(ctx, tx, p.Cap); err != nil {
			return err
		}
		_, err := kiosk.Delist(ctx, tx, p.Kiosk, p.Cap, p.Asset)
		return err

	case KindLockForSale:
		p := cmd.LockForSale
		if err := sc.holdCap(ctx, tx, p.Cap); err != nil {
			return err
		}
		if err := sc.holdAsset(ctx, tx, p.Asset); err != nil {
			return err
		}
		return kiosk.LockForSale(ctx, tx, p.Kiosk, p.Cap, p.Asset, p.Price)

	case KindWithdraw:
		p := cmd.Withdraw
		if err := sc.holdCap(ctx, tx, p.Cap); err != nil {
			return err
		}
		return kiosk.Withdraw(ctx, tx, p.Kiosk, p.Cap, p.Amount)

	case KindWrapCap:
		_, err := kiosk.Wrap(ctx, tx, cmd.WrapCap.Cap, sc.signer)
		return err

	case KindBorrowCap:
		if sc.borrowedCap != "" {
			return errors.New(errors.CodeInvalidCommand, "a capability is already borrowed")
		}
		capID, receipt, err := kiosk.Borrow(ctx, tx, cmd.BorrowCap.PersonalCap, sc.signer)
		if err != nil {
			return err
		}
		sc.borrowedCap = capID
		sc.borrowedOf = cmd.BorrowCap.PersonalCap
		sc.receipt = receipt
		return nil

	case KindRestoreCap:
		if sc.borrowedCap == "" {
			return errors.New(errors.CodeInvalidCommand, "no capability is borrowed")
		}
		if err := kiosk.Restore(sc.receipt, sc.borrowedOf, sc.borrowedCap); err != nil {
			return err
		}
		sc.borrowedCap = ""
		sc.borrowedOf = ""
		sc.receipt = kiosk.Receipt{}
		return nil

	case KindPurchase:
		p := cmd.Purchase
		if sc.request != nil {
			return errors.New(errors.CodeInvalidCommand, "a transfer request is already in flight")
		}
		if err := ledger.Debit(ctx, tx, sc.signer, p.Payment); err != nil {
			return err
		}
		asset, listing, err := kiosk.Purchase(ctx, tx, p.Kiosk, p.Asset, p.Payment)
		if err != nil {
			return err
		}
		assetBody, err := kiosk.DecodeAssetBody(asset)
		if err != nil {
			return err
		}
		sc.heldAsset = p.Asset
		sc.request = policy.NewTransferRequest(p.Asset, assetBody.Collection, listing.Price, p.Kiosk)
		return nil

	case KindProveRoyalty:
		p := cmd.ProveRoyalty
		req, err := sc.requireRequest()
		if err != nil {
			return err
		}
		if err := ledger.Debit(ctx, tx, sc.signer, p.Payment); err != nil {
			return err
		}
		return policy.ProveRoyalty(ctx, tx, p.Policy, req, p.Payment)

	case KindProveLock:
		p := cmd.ProveLock
		req, err := sc.requireRequest()
		if err != nil {
			return err
		}
		return policy.ProveKioskLock(ctx, tx, p.Policy, p.Kiosk, req)

	case KindProvePersonal:
		p := cmd.ProvePersonal
		req, err := sc.requireRequest()
		if err != nil {
			return err
		}
		return policy.ProvePersonalKiosk(ctx, tx, p.Policy, p.Kiosk, req)

	case KindConfirm:
		req, err := sc.requireRequest()
		if err != nil {
			return err
		}
		if err := policy.Confirm(ctx, tx, cmd.Confirm.Policy, req); err != nil {
			return err
		}
		if sc.heldAsset != "" {
			asset, err := tx.Get(ctx, sc.heldAsset)
			if err != nil {
				return err
			}
			asset.Owner = sc.signer
			if err := tx.Update(ctx, asset); err != nil {
				return err
			}
			sc.heldAsset = ""
		}
		sc.request = nil
		return nil
	}

	return errors.WithMetadata(errors.CodeInvalidCommand,
		fmt.Sprintf("unknown command kind %q", cmd.Kind),
		map[string]string{"kind": string(cmd.Kind)},
	)
}
