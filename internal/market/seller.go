package market

import (
	"context"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/kiosk"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/node"
	"github.com/louisbranch/kiosk.market/internal/policy"
	"github.com/louisbranch/kiosk.market/internal/settlement"
)

// CreateKiosk creates a kiosk for owner. With personal set, the
// ownership capability is immediately sealed into a delegated-access
// capability, making the kiosk owner-bound.
func (o *Orchestrator) CreateKiosk(ctx context.Context, owner ledger.Address, personal bool) (node.KioskLookupResponse, error) {
	if _, err := o.submit(ctx, owner, settlement.Command{Kind: settlement.KindCreateKiosk}); err != nil {
		return node.KioskLookupResponse{}, err
	}
	found, err := o.api.FindKiosk(ctx, owner, false)
	if err != nil {
		return node.KioskLookupResponse{}, fmt.Errorf("resolve created kiosk: %w", err)
	}
	if !personal {
		return found, nil
	}
	if _, err := o.submit(ctx, owner, settlement.Command{Kind: settlement.KindWrapCap,
		WrapCap: &settlement.WrapCap{Cap: found.CapID}}); err != nil {
		return node.KioskLookupResponse{}, err
	}
	return o.api.FindKiosk(ctx, owner, true)
}

// MintAsset mints a new asset owned by owner and returns its identifier.
func (o *Orchestrator) MintAsset(ctx context.Context, owner ledger.Address, collection, name string) (ledger.ObjectID, error) {
	resp, err := o.submit(ctx, owner, settlement.Command{Kind: settlement.KindMintAsset,
		MintAsset: &settlement.MintAsset{Collection: collection, Name: name}})
	if err != nil {
		return "", err
	}
	for _, change := range resp.Effects {
		if change.Kind == ledger.ChangeCreated && change.Type == ledger.TypeAsset {
			return change.ID, nil
		}
	}
	return "", fmt.Errorf("settlement %s reported no created asset", resp.Digest)
}

// AttachPolicy attaches the transfer policy for a collection.
func (o *Orchestrator) AttachPolicy(ctx context.Context, signer ledger.Address, collection string, rules policy.RuleSet, royalty *policy.RoyaltyConfig) (ledger.ObjectID, error) {
	if _, err := o.submit(ctx, signer, settlement.Command{Kind: settlement.KindAttachPolicy,
		AttachPolicy: &settlement.AttachPolicy{Collection: collection, Rules: rules, Royalty: royalty}}); err != nil {
		return "", err
	}
	return policy.ID(collection), nil
}

// ListAsset places an asset into the seller's kiosk and lists it at
// price. With lock set, the asset is locked in place and listed
// exclusively: it can then only leave through a purchase.
func (o *Orchestrator) ListAsset(ctx context.Context, seller ledger.Address, assetID ledger.ObjectID, price uint64, lock bool) error {
	found, cmds, err := o.sellerCommands(ctx, seller)
	if err != nil {
		return err
	}
	if lock {
		cmds = append(cmds, settlement.Command{Kind: settlement.KindLockForSale,
			LockForSale: &settlement.LockForSale{Kiosk: found.KioskID, Cap: found.CapID, Asset: assetID, Price: price}})
	} else {
		cmds = append(cmds,
			settlement.Command{Kind: settlement.KindPlace,
				Place: &settlement.Place{Kiosk: found.KioskID, Cap: found.CapID, Asset: assetID}},
			settlement.Command{Kind: settlement.KindList,
				List: &settlement.List{Kiosk: found.KioskID, Cap: found.CapID, Asset: assetID, Price: price}},
		)
	}
	_, err = o.submit(ctx, seller, closeBorrow(found, cmds)...)
	return err
}

// DelistAsset withdraws an active listing, returning the asset to the
// seller. Locked listings cannot be delisted.
func (o *Orchestrator) DelistAsset(ctx context.Context, seller ledger.Address, assetID ledger.ObjectID) error {
	found, cmds, err := o.sellerCommands(ctx, seller)
	if err != nil {
		return err
	}
	cmds = append(cmds, settlement.Command{Kind: settlement.KindDelist,
		Delist: &settlement.Delist{Kiosk: found.KioskID, Cap: found.CapID, Asset: assetID}})
	_, err = o.submit(ctx, seller, closeBorrow(found, cmds)...)
	return err
}

// Withdraw moves accrued kiosk profits to the seller's balance.
func (o *Orchestrator) Withdraw(ctx context.Context, seller ledger.Address, amount uint64) error {
	found, cmds, err := o.sellerCommands(ctx, seller)
	if err != nil {
		return err
	}
	cmds = append(cmds, settlement.Command{Kind: settlement.KindWithdraw,
		Withdraw: &settlement.Withdraw{Kiosk: found.KioskID, Cap: found.CapID, Amount: amount}})
	_, err = o.submit(ctx, seller, closeBorrow(found, cmds)...)
	return err
}

// Fund credits an account's balance. Development faucet.
func (o *Orchestrator) Fund(ctx context.Context, addr ledger.Address, amount uint64) error {
	_, err := o.submit(ctx, addr, settlement.Command{Kind: settlement.KindFundAccount,
		FundAccount: &settlement.FundAccount{Amount: amount}})
	return err
}

// closeBorrow appends the restore matching the borrow sellerCommands
// opened for an owner-bound kiosk.
func closeBorrow(found node.KioskLookupResponse, cmds []settlement.Command) []settlement.Command {
	if !found.Personal {
		return cmds
	}
	return append(cmds, settlement.Command{Kind: settlement.KindRestoreCap})
}

// sellerCommands resolves the seller's kiosk and, for owner-bound
// kiosks, opens the settlement with a borrow that closeBorrow must
// close before submission.
func (o *Orchestrator) sellerCommands(ctx context.Context, seller ledger.Address) (node.KioskLookupResponse, []settlement.Command, error) {
	found, err := o.resolveKiosk(ctx, seller)
	if err != nil {
		return node.KioskLookupResponse{}, nil, fmt.Errorf("resolve seller kiosk: %w", err)
	}
	if !found.Personal {
		return found, nil, nil
	}
	cmds := []settlement.Command{{Kind: settlement.KindBorrowCap,
		BorrowCap: &settlement.BorrowCap{PersonalCap: kiosk.PersonalCapID(seller)}}}
	return found, cmds, nil
}

func (o *Orchestrator) submit(ctx context.Context, signer ledger.Address, cmds ...settlement.Command) (node.SettlementResponse, error) {
	return o.api.Submit(ctx, signer, settlement.Envelope{Commands: cmds})
}
