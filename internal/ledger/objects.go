// Package ledger defines the shared object model every settlement executes
// against: versioned objects, the transactional store contract, and the
// effects a committed settlement reports.
package ledger

// ObjectID identifies one ledger object (0x-prefixed hex).
type ObjectID string

// Address identifies an account (0x-prefixed hex).
type Address string

// ObjectType is the closed vocabulary of object kinds on this ledger.
type ObjectType string

const (
	TypeKiosk       ObjectType = "kiosk"
	TypeOwnerCap    ObjectType = "kiosk_owner_cap"
	TypePersonalCap ObjectType = "personal_kiosk_cap"
	TypeAsset       ObjectType = "asset"
	TypePolicy      ObjectType = "transfer_policy"
	TypeBalance     ObjectType = "balance"
)

// Object is one versioned ledger object. Owner is empty for shared objects
// (kiosks and policies); owned objects carry the holding address, or the
// holding object's ID for objects held inside another object.
type Object struct {
	ID      ObjectID
	Type    ObjectType
	Version uint64
	Owner   Address
	Body    []byte
}

// Ref pins an object to the version a pre-settlement read observed.
type Ref struct {
	ID      ObjectID `json:"id"`
	Version uint64   `json:"version"`
}

// Ref returns the object's current reference.
func (o Object) Ref() Ref {
	return Ref{ID: o.ID, Version: o.Version}
}
