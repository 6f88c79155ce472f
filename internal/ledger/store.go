package ledger

import "context"

// ChangeKind describes how a settlement affected one object.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeMutated ChangeKind = "mutated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is one object-state change reported by a committed settlement.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	ID      ObjectID   `json:"id"`
	Type    ObjectType `json:"type"`
	Version uint64     `json:"version"`
}

// Effects is the object-change summary of one committed settlement.
type Effects struct {
	Digest  string   `json:"digest"`
	Changes []Change `json:"changes"`
}

// Txn is the mutable object view a settlement executes against. All
// mutations stay invisible to other readers until the settlement commits;
// a returned error discards every staged change.
type Txn interface {
	// Get returns an object, observing staged changes. Missing objects
	// yield a NOT_FOUND coded error.
	Get(ctx context.Context, id ObjectID) (Object, error)
	// Create stages a new object at version 1. An existing ID yields an
	// ALREADY_EXISTS coded error.
	Create(ctx context.Context, obj Object) error
	// Update stages a new state for an existing object and bumps its
	// version by one.
	Update(ctx context.Context, obj Object) error
	// Delete stages removal of an existing object.
	Delete(ctx context.Context, id ObjectID) error
}

// Reader serves pre-settlement queries against committed state.
type Reader interface {
	// GetObject returns one committed object by ID.
	GetObject(ctx context.Context, id ObjectID) (Object, error)
	// FindOwnedObject returns at most one committed object of the given
	// type held by owner, or a NOT_FOUND coded error.
	FindOwnedObject(ctx context.Context, owner Address, objType ObjectType) (Object, error)
}

// Store is the durable object store settlements execute against.
type Store interface {
	Reader
	// RunSettlement executes fn atomically: either every staged change
	// commits and the resulting effects are returned, or none do.
	RunSettlement(ctx context.Context, fn func(Txn) error) (Effects, error)
	Close() error
}
