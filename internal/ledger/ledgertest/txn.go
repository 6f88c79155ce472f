// Package ledgertest provides an in-memory Txn for domain unit tests.
package ledgertest

import (
	"context"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
)

// Txn is an in-memory ledger.Txn. It is not safe for concurrent use and
// has no commit/rollback semantics: tests exercise domain operations
// directly against it.
type Txn struct {
	objects map[ledger.ObjectID]ledger.Object
}

// NewTxn creates an empty in-memory transaction.
func NewTxn() *Txn {
	return &Txn{objects: make(map[ledger.ObjectID]ledger.Object)}
}

// Seed inserts an object directly, bypassing version bookkeeping. Zero
// versions default to 1.
func (t *Txn) Seed(obj ledger.Object) {
	if obj.Version == 0 {
		obj.Version = 1
	}
	t.objects[obj.ID] = obj
}

// Get implements ledger.Txn.
func (t *Txn) Get(ctx context.Context, objID ledger.ObjectID) (ledger.Object, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Object{}, err
	}
	obj, ok := t.objects[objID]
	if !ok {
		return ledger.Object{}, errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("object %s not found", objID),
			map[string]string{"object": string(objID)},
		)
	}
	return obj, nil
}

// Create implements ledger.Txn.
func (t *Txn) Create(ctx context.Context, obj ledger.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.objects[obj.ID]; ok {
		return errors.WithMetadata(errors.CodeAlreadyExists,
			fmt.Sprintf("object %s already exists", obj.ID),
			map[string]string{"object": string(obj.ID)},
		)
	}
	obj.Version = 1
	t.objects[obj.ID] = obj
	return nil
}

// Update implements ledger.Txn.
func (t *Txn) Update(ctx context.Context, obj ledger.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := t.objects[obj.ID]
	if !ok {
		return errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("object %s not found", obj.ID),
			map[string]string{"object": string(obj.ID)},
		)
	}
	obj.Version = current.Version + 1
	t.objects[obj.ID] = obj
	return nil
}

// Delete implements ledger.Txn.
func (t *Txn) Delete(ctx context.Context, objID ledger.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.objects[objID]; !ok {
		return errors.WithMetadata(errors.CodeNotFound,
			fmt.Sprintf("object %s not found", objID),
			map[string]string{"object": string(objID)},
		)
	}
	delete(t.objects, objID)
	return nil
}

// Has reports whether an object currently exists.
func (t *Txn) Has(objID ledger.ObjectID) bool {
	_, ok := t.objects[objID]
	return ok
}

var _ ledger.Txn = (*Txn)(nil)
