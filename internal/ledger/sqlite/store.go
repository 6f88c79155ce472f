// Package sqlite provides the SQLite-backed ledger object store and the
// atomic settlement transaction it executes against.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/ledger/sqlite/migrations"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	sqlitemigrate "github.com/louisbranch/kiosk.market/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store persists ledger objects in SQLite. Settlements run inside a single
// write transaction, so either every staged change commits or none do.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite object store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetObject returns one committed object by ID.
func (s *Store) GetObject(ctx context.Context, objID ledger.ObjectID) (ledger.Object, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Object{}, err
	}
	if s == nil || s.sqlDB == nil {
		return ledger.Object{}, fmt.Errorf("storage is not configured")
	}
	return scanObject(s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, type, version, owner, body FROM objects WHERE id = ?`,
		string(objID),
	), objID)
}

// FindOwnedObject returns at most one committed object of the given type
// held by owner.
func (s *Store) FindOwnedObject(ctx context.Context, owner ledger.Address, objType ledger.ObjectType) (ledger.Object, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Object{}, err
	}
	if s == nil || s.sqlDB == nil {
		return ledger.Object{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, type, version, owner, body
		   FROM objects
		  WHERE owner = ? AND type = ?
		  ORDER BY id ASC
		  LIMIT 1`,
		string(owner),
		string(objType),
	)
	obj, err := scanObject(row, "")
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return ledger.Object{}, errors.WithMetadata(errors.CodeNotFound,
				fmt.Sprintf("no %s object held by %s", objType, owner),
				map[string]string{"owner": string(owner), "type": string(objType)},
			)
		}
		return ledger.Object{}, err
	}
	return obj, nil
}

// RunSettlement executes fn inside one write transaction and reports the
// committed object changes. Any error from fn rolls everything back.
func (s *Store) RunSettlement(ctx context.Context, fn func(ledger.Txn) error) (ledger.Effects, error) {
	if s == nil || s.sqlDB == nil {
		return ledger.Effects{}, fmt.Errorf("storage is not configured")
	}
	if fn == nil {
		return ledger.Effects{}, fmt.Errorf("settlement function is required")
	}

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Effects{}, errors.Wrap(errors.CodeSettlementFailed, "begin settlement", err)
	}

	txn := &settlementTxn{tx: sqlTx, changeIdx: make(map[ledger.ObjectID]int)}
	if err := fn(txn); err != nil {
		_ = sqlTx.Rollback()
		if errors.CodeOf(err) != errors.CodeUnknown {
			return ledger.Effects{}, err
		}
		return ledger.Effects{}, errors.Wrap(errors.CodeSettlementFailed, "execute settlement", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return ledger.Effects{}, errors.Wrap(errors.CodeSettlementFailed, "commit settlement", err)
	}

	return ledger.Effects{
		Digest:  uuid.NewString(),
		Changes: txn.changes,
	}, nil
}

// settlementTxn implements ledger.Txn over one SQLite transaction, recording
// the net change per object for the settlement effects.
type settlementTxn struct {
	tx        *sql.Tx
	changes   []ledger.Change
	changeIdx map[ledger.ObjectID]int
}

func (t *settlementTxn) Get(ctx context.Context, objID ledger.ObjectID) (ledger.Object, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Object{}, err
	}
	return scanObject(t.tx.QueryRowContext(
		ctx,
		`SELECT id, type, version, owner, body FROM objects WHERE id = ?`,
		string(objID),
	), objID)
}

func (t *settlementTxn) Create(ctx context.Context, obj ledger.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	obj.Version = 1
	_, err := t.tx.ExecContext(
		ctx,
		`INSERT INTO objects (id, type, version, owner, body, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(obj.ID),
		string(obj.Type),
		obj.Version,
		string(obj.Owner),
		obj.Body,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WithMetadata(errors.CodeAlreadyExists,
				fmt.Sprintf("object %s already exists", obj.ID),
				map[string]string{"object": string(obj.ID)},
			)
		}
		return fmt.Errorf("create object %s: %w", obj.ID, err)
	}
	t.record(ledger.Change{Kind: ledger.ChangeCreated, ID: obj.ID, Type: obj.Type, Version: obj.Version})
	return nil
}

func (t *settlementTxn) Update(ctx context.Context, obj ledger.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := t.Get(ctx, obj.ID)
	if err != nil {
		return err
	}
	next := current.Version + 1
	if _, err := t.tx.ExecContext(
		ctx,
		`UPDATE objects SET version = ?, owner = ?, body = ?, updated_at = ? WHERE id = ?`,
		next,
		string(obj.Owner),
		obj.Body,
		time.Now().UTC().UnixMilli(),
		string(obj.ID),
	); err != nil {
		return fmt.Errorf("update object %s: %w", obj.ID, err)
	}
	t.record(ledger.Change{Kind: ledger.ChangeMutated, ID: obj.ID, Type: current.Type, Version: next})
	return nil
}

func (t *settlementTxn) Delete(ctx context.Context, objID ledger.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := t.Get(ctx, objID)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, string(objID)); err != nil {
		return fmt.Errorf("delete object %s: %w", objID, err)
	}
	t.record(ledger.Change{Kind: ledger.ChangeDeleted, ID: objID, Type: current.Type, Version: current.Version + 1})
	return nil
}

// record keeps one net change per object. A create followed by updates stays
// a create at the final version; a create followed by a delete leaves no
// entry at all, since no observer ever sees the object committed.
func (t *settlementTxn) record(change ledger.Change) {
	idx, ok := t.changeIdx[change.ID]
	if !ok {
		t.changeIdx[change.ID] = len(t.changes)
		t.changes = append(t.changes, change)
		return
	}
	prev := t.changes[idx]
	switch {
	case prev.Kind == ledger.ChangeCreated && change.Kind == ledger.ChangeDeleted:
		t.changes = append(t.changes[:idx], t.changes[idx+1:]...)
		delete(t.changeIdx, change.ID)
		for objID, i := range t.changeIdx {
			if i > idx {
				t.changeIdx[objID] = i - 1
			}
		}
	case prev.Kind == ledger.ChangeCreated:
		prev.Version = change.Version
		t.changes[idx] = prev
	default:
		t.changes[idx] = change
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner, objID ledger.ObjectID) (ledger.Object, error) {
	var obj ledger.Object
	var rawID, rawType, rawOwner string
	err := row.Scan(&rawID, &rawType, &obj.Version, &rawOwner, &obj.Body)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return ledger.Object{}, errors.WithMetadata(errors.CodeNotFound,
				fmt.Sprintf("object %s not found", objID),
				map[string]string{"object": string(objID)},
			)
		}
		return ledger.Object{}, fmt.Errorf("scan object: %w", err)
	}
	obj.ID = ledger.ObjectID(rawID)
	obj.Type = ledger.ObjectType(rawType)
	obj.Owner = ledger.Address(rawOwner)
	return obj, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed")
}

var _ ledger.Store = (*Store)(nil)
