// Package service composes the storage facade into the item operations the
// HTTP API and CLI expose.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"assetvault/pkg/meta"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
	maxNameRunes    = 255
)

// Options tunes ItemService.
type Options struct {
	// RequireModelExtension rejects filenames other than .gltf and .glb.
	RequireModelExtension bool
}

// ItemService is the caller-level API over one storage backend.
type ItemService struct {
	db    *gorm.DB
	store storage.Backend
	repo  *meta.Repository
	opts  Options
	log   *slog.Logger
}

func NewItemService(db *gorm.DB, store storage.Backend, opts Options, log *slog.Logger) *ItemService {
	return &ItemService{
		db:    db,
		store: store,
		repo:  meta.NewRepository(db),
		opts:  opts,
		log:   storage.LoggerOr(log),
	}
}

// Backend returns the storage backend items are written to.
func (s *ItemService) Backend() storage.Backend { return s.store }

// Page is one slice of the item listing.
type Page struct {
	Items  []meta.Item
	Total  int64
	Offset int
	Limit  int
}

func validateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return storage.InvalidInput("name must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return storage.InvalidInput("name longer than %d characters", maxNameRunes)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return storage.InvalidInput("name contains control characters")
		}
	}
	return nil
}

func (s *ItemService) validateFilename(filename string) error {
	if err := storage.ValidateName(filename); err != nil {
		return err
	}
	if s.opts.RequireModelExtension {
		switch strings.ToLower(path.Ext(filename)) {
		case ".gltf", ".glb":
		default:
			return storage.InvalidInput("file %q is not a .gltf or .glb model", filename)
		}
	}
	return nil
}

// Create stores data as a new item. filename names the stored file and
// defaults to name; name is the display name shown in listings.
func (s *ItemService) Create(ctx context.Context, name, filename string, data []byte) (*meta.Item, error) {
	if filename == "" {
		filename = name
	}
	if err := validateDisplayName(name); err != nil {
		return nil, err
	}
	if err := s.validateFilename(filename); err != nil {
		return nil, err
	}

	if name == filename {
		return s.store.Save(ctx, s.db, filename, data)
	}

	// The row is inserted under filename and renamed in the same transaction,
	// so no reader sees the interim name.
	var saved *meta.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.store.Save(ctx, tx, filename, data)
		if err != nil {
			return err
		}
		saved = item
		if err := meta.NewRepository(tx).RenameItem(ctx, item.ID, name); err != nil {
			return storage.Failure("rename item", err)
		}
		return nil
	})
	if err != nil {
		if saved != nil {
			s.discard(ctx, saved)
		}
		return nil, storage.Failure("create item", err)
	}
	saved.Name = name
	return saved, nil
}

// Get returns the row for id without content.
func (s *ItemService) Get(ctx context.Context, id types.ItemID) (*meta.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if errors.Is(err, meta.ErrItemNotFound) {
		return nil, storage.NotFound(id)
	}
	if err != nil {
		return nil, storage.Failure("query metadata", err)
	}
	return item, nil
}

// List pages through all items in id order.
func (s *ItemService) List(ctx context.Context, offset, limit int) (*Page, error) {
	if offset < 0 {
		return nil, storage.InvalidInput("offset must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	items, err := s.repo.ListItems(ctx, offset, limit)
	if err != nil {
		return nil, storage.Failure("list metadata", err)
	}
	total, err := s.repo.CountAll(ctx)
	if err != nil {
		return nil, storage.Failure("count metadata", err)
	}
	return &Page{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// Download returns the row and the full payload for id.
func (s *ItemService) Download(ctx context.Context, id types.ItemID) (*meta.Item, []byte, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.store.Load(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	return item, data, nil
}

// Replace stores data as a new item and then deletes the old one. Content
// is immutable, so this is the update operation; the caller gets a new id.
// If the old item cannot be deleted the new one is removed again, so a
// failed Replace leaves exactly the old item behind.
func (s *ItemService) Replace(ctx context.Context, id types.ItemID, name string, data []byte) (*meta.Item, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = old.Name
	}

	created, err := s.Create(ctx, name, old.Filename, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, s.db, id); err != nil {
		s.undo(ctx, created.ID, "replace failed")
		return nil, err
	}

	s.log.Info("replaced item", slog.String("old", id.String()), slog.String("new", created.ID.String()))
	return created, nil
}

// Delete removes content and row.
func (s *ItemService) Delete(ctx context.Context, id types.ItemID) error {
	return s.store.Delete(ctx, s.db, id)
}

// discard removes the content of an item whose row was rolled back. Inline
// content went with the row; external content is removed through the
// backend's inventory.
func (s *ItemService) discard(ctx context.Context, item *meta.Item) {
	inv := storage.InventoryOf(s.store)
	if inv == nil || item.Location == nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storage.CleanupTimeout)
	defer cancel()
	if err := inv.Remove(cleanupCtx, *item.Location); err != nil {
		s.log.Warn("failed to remove content after rollback, content orphaned",
			slog.String("location", *item.Location),
			slog.String("err", err.Error()),
		)
	}
}

// undo deletes an item created earlier in a failed composite operation.
func (s *ItemService) undo(ctx context.Context, id types.ItemID, reason string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storage.CleanupTimeout)
	defer cancel()
	if err := s.store.Delete(cleanupCtx, s.db, id); err != nil {
		s.log.Warn("failed to remove item after "+reason,
			slog.String("item", id.String()),
			slog.String("err", err.Error()),
		)
	}
}
