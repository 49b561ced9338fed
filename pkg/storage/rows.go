package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/types"

	"gorm.io/gorm"
)

// CleanupTimeout bounds compensating actions. They run on a context detached
// from the caller's, so a cancelled request still gets its partial write undone.
var CleanupTimeout = 30 * time.Second

// NewItem builds the row describing data about to be stored by a backend of kind.
// For inline kinds the payload is attached; external kinds get location.
func NewItem(kind types.BackendKind, name, location string, data []byte) *meta.Item {
	item := &meta.Item{
		Name:       name,
		Filename:   name,
		Backend:    kind,
		Size:       int64(len(data)),
		Checksum:   Checksum(data),
		Attributes: attributesFor(name, data),
	}
	if kind.ExternalContent() {
		item.Location = &location
	} else {
		if data == nil {
			data = []byte{}
		}
		item.Content = data
	}
	return item
}

// LoadRow fetches the row for id and checks that kind created it.
// Only one backend is active per deployment, so a row of another kind is
// unreachable from here and reported as unavailable rather than not found.
func LoadRow(ctx context.Context, db *gorm.DB, id types.ItemID, kind types.BackendKind, withContent bool) (*meta.Item, error) {
	repo := meta.NewRepository(db)
	var (
		item *meta.Item
		err  error
	)
	if withContent {
		item, err = repo.GetItemWithContent(ctx, id)
	} else {
		item, err = repo.GetItem(ctx, id)
	}
	if errors.Is(err, meta.ErrItemNotFound) {
		return nil, NotFound(id)
	}
	if err != nil {
		return nil, Failure("query metadata", err)
	}
	if item.Backend != kind {
		return nil, Unavailable("load metadata", fmt.Errorf("item %s is held by the %s backend, not %s", id, item.Backend, kind))
	}
	return item, nil
}

// Commit inserts item inside a transaction on db (a savepoint when db is
// already a transaction). Content has been written by then; if the insert
// fails, undo removes it again so no orphan survives. This is a compensating
// action, not a two-phase commit: a crash between the write and the insert
// still leaves orphan content behind for fsck to find.
func Commit(ctx context.Context, db *gorm.DB, item *meta.Item, undo func(context.Context) error, log *slog.Logger) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return meta.NewRepository(tx).CreateItem(ctx, item)
	})
	if err == nil {
		return nil
	}

	if undo != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
		defer cancel()
		if undoErr := undo(cleanupCtx); undoErr != nil {
			// The original error still wins; the orphan is logged for repair.
			LoggerOr(log).Warn("compensating delete failed, content orphaned",
				slog.String("backend", item.Backend.String()),
				slog.String("location", item.LocationString()),
				slog.String("err", undoErr.Error()),
			)
		} else {
			LoggerOr(log).Debug("rolled back content after metadata insert failure",
				slog.String("location", item.LocationString()),
			)
		}
	}
	return Failure("insert metadata", err)
}

// DeleteRow removes the row for id in a transaction on db.
func DeleteRow(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return meta.NewRepository(tx).DeleteItem(ctx, id)
	})
	if errors.Is(err, meta.ErrItemNotFound) {
		return NotFound(id)
	}
	return Failure("delete metadata", err)
}

// DeleteWithContent deletes the row for id and then runs remove in the same
// transaction. A failed remove rolls the row back, so the row is never gone
// while its content survives. Readers that already hold the row and miss the
// content wait on the row lock in ResolveMissing and see NotFound.
//
// Once started the transaction is detached from ctx: a cancellation between
// remove and commit would otherwise leave a row without content.
func DeleteWithContent(ctx context.Context, db *gorm.DB, id types.ItemID, op string, remove func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return Failure(op, err)
	}
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
	defer cancel()

	err := db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := meta.NewRepository(tx).DeleteItem(txCtx, id); err != nil {
			return err
		}
		if err := remove(txCtx); err != nil {
			return Failure(op, err)
		}
		return nil
	})
	if errors.Is(err, meta.ErrItemNotFound) {
		return NotFound(id)
	}
	return Failure("delete metadata", err)
}

// ResolveMissing classifies content that could not be found under a row.
// The row is re-read under a shared lock, which waits out a Delete that is
// removing it. If the row is gone the Delete won the race and the caller sees
// NotFound; otherwise the row dangles and that is surfaced.
func ResolveMissing(ctx context.Context, db *gorm.DB, id types.ItemID, op string, cause error) error {
	exists, err := meta.NewRepository(db).ExistsLocked(ctx, id)
	if err == nil && !exists {
		return NotFound(id)
	}
	return Unavailable(op, fmt.Errorf("item %s: content missing: %w", id, cause))
}

// LoggerOr returns log, or the process default when nil.
func LoggerOr(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
