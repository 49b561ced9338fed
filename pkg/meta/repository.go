package meta

import (
	"context"
	"errors"
	"fmt"

	"assetvault/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrItemNotFound = errors.New("item not found in metadata")
)

// Repository runs item queries against one session. The session may be the
// shared pool or a transaction handed in by the caller; the repository never
// opens a transaction of its own.
type Repository struct {
	conn *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{conn: conn}
}

// Repository returns a repository bound to the shared pool.
func (d *DB) Repository() *Repository {
	return NewRepository(d.conn)
}

// CreateItem inserts the row and fills in the generated id.
func (r *Repository) CreateItem(ctx context.Context, item *Item) error {
	if err := r.conn.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// GetItem loads the row without its inline payload.
func (r *Repository) GetItem(ctx context.Context, id types.ItemID) (*Item, error) {
	var item Item
	err := r.conn.WithContext(ctx).
		Select(metadataColumns).
		Where("id = ?", id).
		First(&item).Error
	return r.found(&item, err)
}

// GetItemWithContent loads the row including the inline payload.
func (r *Repository) GetItemWithContent(ctx context.Context, id types.ItemID) (*Item, error) {
	var item Item
	err := r.conn.WithContext(ctx).
		Where("id = ?", id).
		First(&item).Error
	return r.found(&item, err)
}

func (r *Repository) found(item *Item, err error) (*Item, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Exists is an existence check that never touches the payload column.
func (r *Repository) Exists(ctx context.Context, id types.ItemID) (bool, error) {
	var count int64
	err := r.conn.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExistsLocked is Exists under a shared row lock (FOR SHARE on postgres), so
// it blocks until a transaction deleting the row commits or rolls back.
// SQLite has no row locks; its writers hold the whole database instead.
func (r *Repository) ExistsLocked(ctx context.Context, id types.ItemID) (bool, error) {
	var ids []types.ItemID
	err := r.conn.WithContext(ctx).
		Model(&Item{}).
		Clauses(clause.Locking{Strength: clause.LockingStrengthShare}).
		Where("id = ?", id).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// DeleteItem removes the row. Zero affected rows means someone else got there
// first, which is reported as ErrItemNotFound.
func (r *Repository) DeleteItem(ctx context.Context, id types.ItemID) error {
	result := r.conn.WithContext(ctx).
		Where("id = ?", id).
		Delete(&Item{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ListItems pages through rows in id order, without payloads.
func (r *Repository) ListItems(ctx context.Context, offset, limit int) ([]Item, error) {
	var items []Item
	err := r.conn.WithContext(ctx).
		Select(metadataColumns).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	return items, err
}

// CountItems counts rows of one backend kind.
func (r *Repository) CountItems(ctx context.Context, kind types.BackendKind) (int64, error) {
	var count int64
	err := r.conn.WithContext(ctx).
		Model(&Item{}).
		Where("backend = ?", kind).
		Count(&count).Error
	return count, err
}

// ScanItems walks every row of one backend kind in batches.
// fn must not retain the slice beyond the call.
func (r *Repository) ScanItems(ctx context.Context, kind types.BackendKind, batchSize int, fn func([]Item) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []Item
	result := r.conn.WithContext(ctx).
		Select(metadataColumns).
		Where("backend = ?", kind).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	return result.Error
}

// RenameItem changes the display name. Hooks are skipped: only the name
// column is written, the storage columns are untouched.
func (r *Repository) RenameItem(ctx context.Context, id types.ItemID, name string) error {
	result := r.conn.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", id).
		UpdateColumn("name", name)
	if result.Error != nil {
		return fmt.Errorf("failed to rename item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// CountAll counts every row regardless of backend kind.
func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.conn.WithContext(ctx).Model(&Item{}).Count(&count).Error
	return count, err
}
