package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/louisbranch/kiosk.market/internal/kiosk"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/ledger/sqlite"
	perrors "github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/policy"
	"github.com/louisbranch/kiosk.market/internal/settlement"
)

const (
	seller     = ledger.Address("0xseller")
	buyer      = ledger.Address("0xbuyer")
	collection = "relics"
	askPrice   = uint64(100)
)

// fixture is a seeded market: a seller kiosk holding one exclusively
// listed asset under an attached policy, and a funded buyer with an
// owner-bound kiosk.
type fixture struct {
	ex    *settlement.Executor
	store *sqlite.Store

	sellerKiosk ledger.ObjectID
	sellerCap   ledger.ObjectID
	asset       ledger.ObjectID
	policyID    ledger.ObjectID

	buyerKiosk  ledger.ObjectID
	buyerCap    ledger.ObjectID
	personalCap ledger.ObjectID
}

func newExecutor(t *testing.T) (*settlement.Executor, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return settlement.NewExecutor(store), store
}

func execute(t *testing.T, ex *settlement.Executor, signer ledger.Address, cmds ...settlement.Command) ledger.Effects {
	t.Helper()

	effects, err := ex.Execute(context.Background(), settlement.Submission{Signer: signer, Commands: cmds})
	if err != nil {
		t.Fatalf("execute settlement: %v", err)
	}
	return effects
}

func newMarketFixture(t *testing.T, rules policy.RuleSet, royalty *policy.RoyaltyConfig) *fixture {
	t.Helper()

	ex, store := newExecutor(t)
	ctx := context.Background()
	f := &fixture{ex: ex, store: store}

	execute(t, ex, seller,
		settlement.Command{Kind: settlement.KindCreateKiosk},
		settlement.Command{Kind: settlement.KindMintAsset, MintAsset: &settlement.MintAsset{Collection: collection, Name: "ancient sword"}},
		settlement.Command{Kind: settlement.KindAttachPolicy, AttachPolicy: &settlement.AttachPolicy{Collection: collection, Rules: rules, Royalty: royalty}},
	)
	f.sellerKiosk, f.sellerCap = ownedKiosk(t, store, seller)
	f.policyID = policy.ID(collection)

	assetObj, err := store.FindOwnedObject(ctx, seller, ledger.TypeAsset)
	if err != nil {
		t.Fatalf("find minted asset: %v", err)
	}
	f.asset = assetObj.ID

	execute(t, ex, seller,
		settlement.Command{Kind: settlement.KindLockForSale, LockForSale: &settlement.LockForSale{
			Kiosk: f.sellerKiosk, Cap: f.sellerCap, Asset: f.asset, Price: askPrice,
		}},
	)

	execute(t, ex, buyer,
		settlement.Command{Kind: settlement.KindCreateKiosk},
		settlement.Command{Kind: settlement.KindFundAccount, FundAccount: &settlement.FundAccount{Amount: 200}},
	)
	f.buyerKiosk, f.buyerCap = ownedKiosk(t, store, buyer)

	execute(t, ex, buyer,
		settlement.Command{Kind: settlement.KindWrapCap, WrapCap: &settlement.WrapCap{Cap: f.buyerCap}},
	)
	f.personalCap = kiosk.PersonalCapID(buyer)
	return f
}

func ownedKiosk(t *testing.T, store *sqlite.Store, owner ledger.Address) (kioskID, capID ledger.ObjectID) {
	t.Helper()

	capObj, err := store.FindOwnedObject(context.Background(), owner, ledger.TypeOwnerCap)
	if err != nil {
		t.Fatalf("find owner cap: %v", err)
	}
	var capBody kiosk.OwnerCapBody
	if err := json.Unmarshal(capObj.Body, &capBody); err != nil {
		t.Fatalf("decode owner cap body: %v", err)
	}
	return capBody.Kiosk, capObj.ID
}

func kioskState(t *testing.T, store *sqlite.Store, kioskID ledger.ObjectID) kiosk.Body {
	t.Helper()

	obj, err := store.GetObject(context.Background(), kioskID)
	if err != nil {
		t.Fatalf("get kiosk: %v", err)
	}
	body, err := kiosk.DecodeBody(obj)
	if err != nil {
		t.Fatalf("decode kiosk: %v", err)
	}
	return body
}

func balanceOf(t *testing.T, store *sqlite.Store, addr ledger.Address) uint64 {
	t.Helper()

	obj, err := store.GetObject(context.Background(), ledger.BalanceID(addr))
	if err != nil {
		if perrors.CodeOf(err) == perrors.CodeNotFound {
			return 0
		}
		t.Fatalf("get balance: %v", err)
	}
	var body ledger.BalanceBody
	if err := json.Unmarshal(obj.Body, &body); err != nil {
		t.Fatalf("decode balance body: %v", err)
	}
	return body.Amount
}

func TestSellerListsAsset(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)

	body := kioskState(t, f.store, f.sellerKiosk)
	listing, ok := body.Listings[f.asset]
	if !ok {
		t.Fatal("expected an active listing")
	}
	if listing.Price != askPrice || !listing.Exclusive {
		t.Fatalf("listing = %+v, want price %d exclusive", listing, askPrice)
	}
	if !body.Items[f.asset].Locked {
		t.Fatal("expected the listed asset to be locked")
	}

	asset, err := f.store.GetObject(context.Background(), f.asset)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Owner != ledger.Address(f.sellerKiosk) {
		t.Fatalf("asset owner = %s, want kiosk %s", asset.Owner, f.sellerKiosk)
	}
}

func TestPurchaseSettlesAllRules(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t,
		policy.NewRuleSet(policy.RuleRoyalty, policy.RuleKioskLock, policy.RulePersonalKiosk),
		&policy.RoyaltyConfig{BasisPoints: 200, MinAmount: 5},
	)

	effects := execute(t, f.ex, buyer,
		settlement.Command{Kind: settlement.KindBorrowCap, BorrowCap: &settlement.BorrowCap{PersonalCap: f.personalCap}},
		settlement.Command{Kind: settlement.KindPurchase, Purchase: &settlement.Purchase{Kiosk: f.sellerKiosk, Asset: f.asset, Payment: askPrice}},
		settlement.Command{Kind: settlement.KindPlaceAndLock, PlaceAndLock: &settlement.PlaceAndLock{Kiosk: f.buyerKiosk, Cap: f.buyerCap, Asset: f.asset}},
		settlement.Command{Kind: settlement.KindProveRoyalty, ProveRoyalty: &settlement.ProveRoyalty{Policy: f.policyID, Payment: 5}},
		settlement.Command{Kind: settlement.KindProveLock, ProveLock: &settlement.ProveLock{Policy: f.policyID, Kiosk: f.buyerKiosk}},
		settlement.Command{Kind: settlement.KindProvePersonal, ProvePersonal: &settlement.ProvePersonal{Policy: f.policyID, Kiosk: f.buyerKiosk}},
		settlement.Command{Kind: settlement.KindConfirm, Confirm: &settlement.Confirm{Policy: f.policyID}},
		settlement.Command{Kind: settlement.KindRestoreCap},
	)
	if effects.Digest == "" || len(effects.Changes) == 0 {
		t.Fatalf("effects = %+v, want digest and changes", effects)
	}

	// 100 price + 5 royalty out of the 200 the buyer was funded with.
	if got := balanceOf(t, f.store, buyer); got != 95 {
		t.Fatalf("buyer balance = %d, want 95", got)
	}
	if got := kioskState(t, f.store, f.sellerKiosk).Profits; got != askPrice {
		t.Fatalf("seller profits = %d, want %d", got, askPrice)
	}

	policyObj, err := f.store.GetObject(context.Background(), f.policyID)
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	policyBody, err := policy.DecodeBody(policyObj)
	if err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if policyBody.Balance != 5 {
		t.Fatalf("policy balance = %d, want 5", policyBody.Balance)
	}

	buyerBody := kioskState(t, f.store, f.buyerKiosk)
	if !buyerBody.Items[f.asset].Locked {
		t.Fatal("expected the asset locked in the buyer kiosk")
	}
	asset, err := f.store.GetObject(context.Background(), f.asset)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Owner != ledger.Address(f.buyerKiosk) {
		t.Fatalf("asset owner = %s, want buyer kiosk %s", asset.Owner, f.buyerKiosk)
	}

	sellerBody := kioskState(t, f.store, f.sellerKiosk)
	if len(sellerBody.Listings) != 0 || len(sellerBody.Items) != 0 {
		t.Fatalf("seller kiosk not emptied: %+v", sellerBody)
	}
}

func TestUnconfirmedPurchaseRollsBack(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)

	_, err := f.ex.Execute(context.Background(), settlement.Submission{
		Signer: buyer,
		Commands: []settlement.Command{
			{Kind: settlement.KindBorrowCap, BorrowCap: &settlement.BorrowCap{PersonalCap: f.personalCap}},
			{Kind: settlement.KindPurchase, Purchase: &settlement.Purchase{Kiosk: f.sellerKiosk, Asset: f.asset, Payment: askPrice}},
			{Kind: settlement.KindPlaceAndLock, PlaceAndLock: &settlement.PlaceAndLock{Kiosk: f.buyerKiosk, Cap: f.buyerCap, Asset: f.asset}},
			{Kind: settlement.KindProveLock, ProveLock: &settlement.ProveLock{Policy: f.policyID, Kiosk: f.buyerKiosk}},
			{Kind: settlement.KindRestoreCap},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeRequestLeaked, "")) {
		t.Fatalf("execute error = %v, want REQUEST_LEAKED", err)
	}

	// Nothing moved: listing intact, buyer untouched.
	if _, ok := kioskState(t, f.store, f.sellerKiosk).Listings[f.asset]; !ok {
		t.Fatal("expected the listing to survive the rollback")
	}
	if got := balanceOf(t, f.store, buyer); got != 200 {
		t.Fatalf("buyer balance = %d, want 200", got)
	}
	if len(kioskState(t, f.store, f.buyerKiosk).Items) != 0 {
		t.Fatal("expected the buyer kiosk to stay empty")
	}
}

func TestUnrestoredBorrowRollsBack(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)

	_, err := f.ex.Execute(context.Background(), settlement.Submission{
		Signer: buyer,
		Commands: []settlement.Command{
			{Kind: settlement.KindBorrowCap, BorrowCap: &settlement.BorrowCap{PersonalCap: f.personalCap}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeCapabilityNotRestored, "")) {
		t.Fatalf("execute error = %v, want CAPABILITY_NOT_RESTORED", err)
	}
}

func TestConfirmWithMissingProofRollsBack(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t,
		policy.NewRuleSet(policy.RuleRoyalty, policy.RuleKioskLock),
		&policy.RoyaltyConfig{BasisPoints: 200, MinAmount: 5},
	)

	_, err := f.ex.Execute(context.Background(), settlement.Submission{
		Signer: buyer,
		Commands: []settlement.Command{
			{Kind: settlement.KindBorrowCap, BorrowCap: &settlement.BorrowCap{PersonalCap: f.personalCap}},
			{Kind: settlement.KindPurchase, Purchase: &settlement.Purchase{Kiosk: f.sellerKiosk, Asset: f.asset, Payment: askPrice}},
			{Kind: settlement.KindPlaceAndLock, PlaceAndLock: &settlement.PlaceAndLock{Kiosk: f.buyerKiosk, Cap: f.buyerCap, Asset: f.asset}},
			{Kind: settlement.KindProveRoyalty, ProveRoyalty: &settlement.ProveRoyalty{Policy: f.policyID, Payment: 5}},
			{Kind: settlement.KindConfirm, Confirm: &settlement.Confirm{Policy: f.policyID}},
			{Kind: settlement.KindRestoreCap},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeIncompleteRules, "")) {
		t.Fatalf("execute error = %v, want INCOMPLETE_RULES", err)
	}
	if got := balanceOf(t, f.store, buyer); got != 200 {
		t.Fatalf("buyer balance = %d, want 200 after rollback", got)
	}
}

func TestVersionConflictRejectsStaleReads(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)
	ctx := context.Background()

	stale, err := f.store.GetObject(ctx, f.sellerKiosk)
	if err != nil {
		t.Fatalf("get kiosk: %v", err)
	}

	// A competing settlement moves the kiosk forward.
	execute(t, f.ex, seller,
		settlement.Command{Kind: settlement.KindMintAsset, MintAsset: &settlement.MintAsset{Collection: collection, Name: "second sword"}},
	)
	second, err := f.store.FindOwnedObject(ctx, seller, ledger.TypeAsset)
	if err != nil {
		t.Fatalf("find second asset: %v", err)
	}
	execute(t, f.ex, seller,
		settlement.Command{Kind: settlement.KindPlace, Place: &settlement.Place{Kiosk: f.sellerKiosk, Cap: f.sellerCap, Asset: second.ID}},
	)

	_, err = f.ex.Execute(ctx, settlement.Submission{
		Signer: buyer,
		Inputs: []ledger.Ref{stale.Ref()},
		Commands: []settlement.Command{
			{Kind: settlement.KindFundAccount, FundAccount: &settlement.FundAccount{Amount: 1}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeVersionConflict, "")) {
		t.Fatalf("execute error = %v, want VERSION_CONFLICT", err)
	}
}

func TestForeignCapabilityRejected(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)

	_, err := f.ex.Execute(context.Background(), settlement.Submission{
		Signer: buyer,
		Commands: []settlement.Command{
			{Kind: settlement.KindWithdraw, Withdraw: &settlement.Withdraw{Kiosk: f.sellerKiosk, Cap: f.sellerCap, Amount: 1}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeUnauthorizedCapability, "")) {
		t.Fatalf("execute error = %v, want UNAUTHORIZED_CAPABILITY", err)
	}
}

func TestForeignAssetPlacementRejected(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)
	ctx := context.Background()
	thief := ledger.Address("0xthief")

	execute(t, f.ex, seller,
		settlement.Command{Kind: settlement.KindMintAsset, MintAsset: &settlement.MintAsset{Collection: collection, Name: "bronze shield"}},
	)
	loose, err := f.store.FindOwnedObject(ctx, seller, ledger.TypeAsset)
	if err != nil {
		t.Fatalf("find loose asset: %v", err)
	}

	execute(t, f.ex, thief, settlement.Command{Kind: settlement.KindCreateKiosk})
	thiefKiosk, thiefCap := ownedKiosk(t, f.store, thief)

	// An asset held by another address cannot be placed, even with the
	// signer's own valid capability.
	_, err = f.ex.Execute(ctx, settlement.Submission{
		Signer: thief,
		Commands: []settlement.Command{
			{Kind: settlement.KindPlace, Place: &settlement.Place{Kiosk: thiefKiosk, Cap: thiefCap, Asset: loose.ID}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeUnauthorizedCapability, "")) {
		t.Fatalf("place error = %v, want UNAUTHORIZED_CAPABILITY", err)
	}
	after, err := f.store.GetObject(ctx, loose.ID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if after.Owner != seller {
		t.Fatalf("asset owner = %s, want untouched %s", after.Owner, seller)
	}

	// Neither can an asset escrowed in someone else's kiosk.
	_, err = f.ex.Execute(ctx, settlement.Submission{
		Signer: thief,
		Commands: []settlement.Command{
			{Kind: settlement.KindPlaceAndLock, PlaceAndLock: &settlement.PlaceAndLock{Kiosk: thiefKiosk, Cap: thiefCap, Asset: f.asset}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeUnauthorizedCapability, "")) {
		t.Fatalf("place and lock error = %v, want UNAUTHORIZED_CAPABILITY", err)
	}
	if _, ok := kioskState(t, f.store, f.sellerKiosk).Listings[f.asset]; !ok {
		t.Fatal("expected the victim listing to survive")
	}

	_, err = f.ex.Execute(ctx, settlement.Submission{
		Signer: thief,
		Commands: []settlement.Command{
			{Kind: settlement.KindLockForSale, LockForSale: &settlement.LockForSale{Kiosk: thiefKiosk, Cap: thiefCap, Asset: loose.ID, Price: 1}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeUnauthorizedCapability, "")) {
		t.Fatalf("lock for sale error = %v, want UNAUTHORIZED_CAPABILITY", err)
	}
}

func TestPurchaseWithoutFundsRollsBack(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(policy.RuleKioskLock), nil)

	_, err := f.ex.Execute(context.Background(), settlement.Submission{
		Signer: ledger.Address("0xpauper"),
		Commands: []settlement.Command{
			{Kind: settlement.KindPurchase, Purchase: &settlement.Purchase{Kiosk: f.sellerKiosk, Asset: f.asset, Payment: askPrice}},
		},
	})
	if !errors.Is(err, perrors.New(perrors.CodeInsufficientFunds, "")) {
		t.Fatalf("execute error = %v, want INSUFFICIENT_FUNDS", err)
	}
}

func TestConfirmHandsUnplacedAssetToSigner(t *testing.T) {
	t.Parallel()

	f := newMarketFixture(t, policy.NewRuleSet(), nil)

	execute(t, f.ex, buyer,
		settlement.Command{Kind: settlement.KindPurchase, Purchase: &settlement.Purchase{Kiosk: f.sellerKiosk, Asset: f.asset, Payment: askPrice}},
		settlement.Command{Kind: settlement.KindConfirm, Confirm: &settlement.Confirm{Policy: f.policyID}},
	)

	asset, err := f.store.GetObject(context.Background(), f.asset)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Owner != buyer {
		t.Fatalf("asset owner = %s, want %s", asset.Owner, buyer)
	}
}

func TestEnvelopeRoundTripsThroughCodec(t *testing.T) {
	t.Parallel()

	env := settlement.Envelope{
		Inputs: []ledger.Ref{{ID: "0xabc", Version: 3}},
		Commands: []settlement.Command{
			{Kind: settlement.KindFundAccount, FundAccount: &settlement.FundAccount{Amount: 7}},
			{Kind: settlement.KindPurchase, Purchase: &settlement.Purchase{Kiosk: "0xk", Asset: "0xa", Payment: 100}},
		},
	}
	data, err := settlement.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := settlement.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Commands[1].Purchase.Payment != 100 || decoded.Inputs[0].Version != 3 {
		t.Fatalf("decoded = %+v, want original envelope", decoded)
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"no commands", `{"inputs":[],"commands":[]}`},
		{"unknown kind", `{"commands":[{"kind":"teleport"}]}`},
		{"missing payload", `{"commands":[{"kind":"purchase"}]}`},
		{"blank input id", `{"inputs":[{"id":"","version":1}],"commands":[{"kind":"create_kiosk"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := settlement.Decode([]byte(tc.body)); err == nil {
				t.Fatal("expected a decode error")
			}
		})
	}
}
