package storage

import (
	"context"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/types"

	"gorm.io/gorm"
)

// Backend is the storage facade. Every medium (local disk, inline database
// column, object store) implements it independently; callers never depend on
// a concrete backend.
//
// The db argument is the metadata session owned by the caller. It may be the
// shared pool or an open transaction; backends run their row writes as a
// (possibly nested) transaction on top of it.
//
// All errors returned are classified as one of ErrInvalidInput, ErrNotFound,
// ErrStorageUnavailable or ErrBackendFailure.
type Backend interface {
	// Kind is the backend_kind stamped on every row this backend creates.
	Kind() types.BackendKind

	// Save persists data and creates exactly one Item row referencing it.
	// On success the content is retrievable via Load until deleted.
	Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error)

	// Load returns the full payload for id.
	Load(ctx context.Context, db *gorm.DB, id types.ItemID) ([]byte, error)

	// Delete removes both the content and the row.
	Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error
}

// ContentInfo describes one unit of physical content.
type ContentInfo struct {
	Location string
	Size     int64
	ModTime  time.Time
}

// Inventory is implemented by backends whose content lives outside the
// metadata store. It is used by consistency checks, never by the facade.
type Inventory interface {
	// Contents lists every unit of content the backend holds.
	Contents(ctx context.Context) ([]ContentInfo, error)
	// Exists reports whether content is present at location.
	Exists(ctx context.Context, location string) (bool, error)
	// Remove deletes the content at location.
	Remove(ctx context.Context, location string) error
}

// Wrapper is implemented by decorators so the concrete backend can be reached.
type Wrapper interface {
	Unwrap() Backend
}

// InventoryOf unwraps decorators until it finds a backend with an Inventory.
// It returns nil for backends that keep content inline.
func InventoryOf(b Backend) Inventory {
	for b != nil {
		if inv, ok := b.(Inventory); ok {
			return inv
		}
		w, ok := b.(Wrapper)
		if !ok {
			return nil
		}
		b = w.Unwrap()
	}
	return nil
}
