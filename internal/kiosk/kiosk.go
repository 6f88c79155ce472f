// Package kiosk implements the escrow container holding assets for sale:
// placement, listings, locking, purchase, and the ownership capability
// gate on every mutating operation.
package kiosk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/platform/id"
)

// Body is the persisted state of one kiosk.
type Body struct {
	Owner    ledger.Address              `json:"owner"`
	Personal bool                        `json:"personal"`
	Profits  uint64                      `json:"profits"`
	Items    map[ledger.ObjectID]Item    `json:"items"`
	Listings map[ledger.ObjectID]Listing `json:"listings"`
}

// Item is one asset placed inside a kiosk. Locked items can leave only
// through the purchase path.
type Item struct {
	Locked bool `json:"locked"`
}

// Listing offers one placed asset for sale.
type Listing struct {
	Price     uint64 `json:"price"`
	Exclusive bool   `json:"exclusive"`
}

// OwnerCapBody is the persisted state of one kiosk ownership capability.
type OwnerCapBody struct {
	Kiosk ledger.ObjectID `json:"kiosk"`
}

// AssetBody is the persisted state of one tradable asset.
type AssetBody struct {
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

// Create creates an empty kiosk and the single ownership capability
// governing it. The kiosk is shared; the capability is owned by owner.
func Create(ctx context.Context, tx ledger.Txn, owner ledger.Address) (kioskID, capID ledger.ObjectID, err error) {
	kioskID = ledger.ObjectID(id.New())
	capID = ledger.ObjectID(id.New())

	body, err := json.Marshal(Body{
		Owner:    owner,
		Items:    map[ledger.ObjectID]Item{},
		Listings: map[ledger.ObjectID]Listing{},
	})
	if err != nil {
		return "", "", fmt.Errorf("encode kiosk body: %w", err)
	}
	if err := tx.Create(ctx, ledger.Object{ID: kioskID, Type: ledger.TypeKiosk, Body: body}); err != nil {
		return "", "", err
	}

	capBody, err := json.Marshal(OwnerCapBody{Kiosk: kioskID})
	if err != nil {
		return "", "", fmt.Errorf("encode owner cap body: %w", err)
	}
	if err := tx.Create(ctx, ledger.Object{ID: capID, Type: ledger.TypeOwnerCap, Owner: owner, Body: capBody}); err != nil {
		return "", "", err
	}
	return kioskID, capID, nil
}

// Mint creates a new tradable asset owned by owner.
func Mint(ctx context.Context, tx ledger.Txn, owner ledger.Address, collection, name string) (ledger.ObjectID, error) {
	if collection == "" {
		return "", errors.New(errors.CodeInvalidCommand, "collection is required")
	}
	assetID := ledger.ObjectID(id.New())
	body, err := json.Marshal(AssetBody{Collection: collection, Name: name})
	if err != nil {
		return "", fmt.Errorf("encode asset body: %w", err)
	}
	if err := tx.Create(ctx, ledger.Object{ID: assetID, Type: ledger.TypeAsset, Owner: owner, Body: body}); err != nil {
		return "", err
	}
	return assetID, nil
}

// Place moves an asset into the kiosk. The capability must govern the
// target kiosk.
func Place(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID) error {
	return place(ctx, tx, kioskID, capID, assetID, false)
}

// PlaceAndLock moves an asset into the kiosk and locks it in place, so it
// can only leave through a purchase. This is the destination-lock side
// effect the kiosk-lock rule later proves.
func PlaceAndLock(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID) error {
	return place(ctx, tx, kioskID, capID, assetID, true)
}

func place(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID, locked bool) error {
	kioskObj, body, err := load(ctx, tx, kioskID)
	if err != nil {
		return err
	}
	if err := Authorize(ctx, tx, kioskID, capID); err != nil {
		return err
	}
	asset, err := tx.Get(ctx, assetID)
	if err != nil {
		return err
	}
	if _, ok := body.Items[assetID]; ok {
		return errors.WithMetadata(errors.CodeAlreadyExists,
			fmt.Sprintf("asset %s is already placed in kiosk %s", assetID, kioskID),
			objectMeta(kioskID, assetID),
		)
	}
	body.Items[assetID] = Item{Locked: locked}
	if err := save(ctx, tx, kioskObj, body); err != nil {
		return err
	}
	asset.Owner = ledger.Address(kioskID)
	return tx.Update(ctx, asset)
}

// List offers a placed asset for sale at price.
func List(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID, price uint64) error {
	return list(ctx, tx, kioskID, capID, assetID, price, false)
}

func list(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID, price uint64, exclusive bool) error {
	kioskObj, body, err := load(ctx, tx, kioskID)
	if err != nil {
		return err
	}
	if err := Authorize(ctx, tx, kioskID, capID); err != nil {
		return err
	}
	if _, ok := body.Items[assetID]; !ok {
		return errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("asset %s is not placed in kiosk %s", assetID, kioskID),
			objectMeta(kioskID, assetID),
		)
	}
	if _, ok := body.Listings[assetID]; ok {
		return errors.WithMetadata(errors.CodeDuplicateListing,
			fmt.Sprintf("asset %s already has an active listing in kiosk %s", assetID, kioskID),
			objectMeta(kioskID, assetID),
		)
	}
	body.Listings[assetID] = Listing{Price: price, Exclusive: exclusive}
	return save(ctx, tx, kioskObj, body)
}

// LockForSale places the asset locked and lists it exclusively: from this
// point it can only leave the kiosk through the purchase path.
func LockForSale(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID, price uint64) error {
	if err := PlaceAndLock(ctx, tx, kioskID, capID, assetID); err != nil {
		return err
	}
	return list(ctx, tx, kioskID, capID, assetID, price, true)
}

// Delist removes an active listing and returns the asset to the kiosk
// owner. Locked assets cannot be delisted.
func Delist(ctx context.Context, tx ledger.Txn, kioskID, capID, assetID ledger.ObjectID) (ledger.Object, error) {
	kioskObj, body, err := load(ctx, tx, kioskID)
	if err != nil {
		return ledger.Object{}, err
	}
	if err := Authorize(ctx, tx, kioskID, capID); err != nil {
		return ledger.Object{}, err
	}
	if _, ok := body.Listings[assetID]; !ok {
		return ledger.Object{}, errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("no active listing for asset %s in kiosk %s", assetID, kioskID),
			objectMeta(kioskID, assetID),
		)
	}
	item := body.Items[assetID]
	if item.Locked {
		return ledger.Object{}, errors.WithMetadata(errors.CodeItemLocked,
			fmt.Sprintf("asset %s is locked and can only leave kiosk %s through a purchase", assetID, kioskID),
			objectMeta(kioskID, assetID),
		)
	}
	delete(body.Listings, assetID)
	delete(body.Items, assetID)
	if err := save(ctx, tx, kioskObj, body); err != nil {
		return ledger.Object{}, err
	}

	asset, err := tx.Get(ctx, assetID)
	if err != nil {
		return ledger.Object{}, err
	}
	asset.Owner = body.Owner
	if err := tx.Update(ctx, asset); err != nil {
		return ledger.Object{}, err
	}
	return asset, nil
}

// Purchase settles an active listing: the exact asking price must be paid,
// the listing and item are removed, and the proceeds accrue to the kiosk's
// profits. The returned asset is in transit and must be handed over (or
// locked into the buyer's kiosk) by the caller.
func Purchase(ctx context.Context, tx ledger.Txn, kioskID, assetID ledger.ObjectID, payment uint64) (ledger.Object, Listing, error) {
	kioskObj, body, err := load(ctx, tx, kioskID)
	if err != nil {
		return ledger.Object{}, Listing{}, err
	}
	listing, ok := body.Listings[assetID]
	if !ok {
		return ledger.Object{}, Listing{}, errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("no active listing for asset %s in kiosk %s", assetID, kioskID),
			objectMeta(kioskID, assetID),
		)
	}
	if payment != listing.Price {
		return ledger.Object{}, Listing{}, errors.WithMetadata(errors.CodePriceMismatch,
			fmt.Sprintf("payment %d does not match listing price %d", payment, listing.Price),
			objectMeta(kioskID, assetID),
		)
	}
	delete(body.Listings, assetID)
	delete(body.Items, assetID)
	body.Profits += listing.Price
	if err := save(ctx, tx, kioskObj, body); err != nil {
		return ledger.Object{}, Listing{}, err
	}

	asset, err := tx.Get(ctx, assetID)
	if err != nil {
		return ledger.Object{}, Listing{}, err
	}
	asset.Owner = ""
	if err := tx.Update(ctx, asset); err != nil {
		return ledger.Object{}, Listing{}, err
	}
	return asset, listing, nil
}

// Withdraw moves accrued profits from the kiosk to its owner's balance.
func Withdraw(ctx context.Context, tx ledger.Txn, kioskID, capID ledger.ObjectID, amount uint64) error {
	kioskObj, body, err := load(ctx, tx, kioskID)
	if err != nil {
		return err
	}
	if err := Authorize(ctx, tx, kioskID, capID); err != nil {
		return err
	}
	if body.Profits < amount {
		return errors.WithMetadata(errors.CodeInsufficientFunds,
			fmt.Sprintf("kiosk profits %d cannot cover withdrawal of %d", body.Profits, amount),
			map[string]string{"kiosk": string(kioskID)},
		)
	}
	body.Profits -= amount
	if err := save(ctx, tx, kioskObj, body); err != nil {
		return err
	}
	return ledger.Credit(ctx, tx, body.Owner, amount)
}

// Authorize verifies that the presented capability governs the target
// kiosk. Mismatch fails with UNAUTHORIZED_CAPABILITY and performs no
// mutation.
func Authorize(ctx context.Context, tx ledger.Txn, kioskID, capID ledger.ObjectID) error {
	capObj, err := tx.Get(ctx, capID)
	if err != nil {
		return err
	}
	if capObj.Type != ledger.TypeOwnerCap {
		return errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("object %s is not a kiosk ownership capability", capID),
			map[string]string{"capability": string(capID)},
		)
	}
	var capBody OwnerCapBody
	if err := json.Unmarshal(capObj.Body, &capBody); err != nil {
		return fmt.Errorf("decode owner cap body: %w", err)
	}
	if capBody.Kiosk != kioskID {
		return errors.WithMetadata(errors.CodeUnauthorizedCapability,
			fmt.Sprintf("capability %s does not govern kiosk %s", capID, kioskID),
			map[string]string{"kiosk": string(kioskID), "capability": string(capID)},
		)
	}
	return nil
}

// Load returns the kiosk object and its decoded body.
func Load(ctx context.Context, tx ledger.Txn, kioskID ledger.ObjectID) (ledger.Object, Body, error) {
	return load(ctx, tx, kioskID)
}

// DecodeBody decodes a kiosk object body.
func DecodeBody(obj ledger.Object) (Body, error) {
	if obj.Type != ledger.TypeKiosk {
		return Body{}, errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("object %s is not a kiosk", obj.ID),
			map[string]string{"object": string(obj.ID)},
		)
	}
	var body Body
	if err := json.Unmarshal(obj.Body, &body); err != nil {
		return Body{}, fmt.Errorf("decode kiosk body: %w", err)
	}
	if body.Items == nil {
		body.Items = map[ledger.ObjectID]Item{}
	}
	if body.Listings == nil {
		body.Listings = map[ledger.ObjectID]Listing{}
	}
	return body, nil
}

// DecodeAssetBody decodes an asset object body.
func DecodeAssetBody(obj ledger.Object) (AssetBody, error) {
	if obj.Type != ledger.TypeAsset {
		return AssetBody{}, errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("object %s is not an asset", obj.ID),
			map[string]string{"object": string(obj.ID)},
		)
	}
	var body AssetBody
	if err := json.Unmarshal(obj.Body, &body); err != nil {
		return AssetBody{}, fmt.Errorf("decode asset body: %w", err)
	}
	return body, nil
}

func load(ctx context.Context, tx ledger.Txn, kioskID ledger.ObjectID) (ledger.Object, Body, error) {
	obj, err := tx.Get(ctx, kioskID)
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
		return fmt.Errorf("encode kiosk body: %w", err)
	}
	obj.Body = encoded
	return tx.Update(ctx, obj)
}

func objectMeta(kioskID, assetID ledger.ObjectID) map[string]string {
	return map[string]string{"kiosk": string(kioskID), "asset": string(assetID)}
}
