// Package dbblob stores payloads inline in the items table, so content and
// metadata commit in the same transaction.
package dbblob

import (
	"context"
	"log/slog"

	"assetvault/pkg/meta"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"gorm.io/gorm"
)

// Adapter is the database storage backend.
type Adapter struct {
	log *slog.Logger
}

var _ storage.Backend = (*Adapter)(nil)

func NewAdapter(log *slog.Logger) *Adapter {
	return &Adapter{log: storage.LoggerOr(log)}
}

func (a *Adapter) Kind() types.BackendKind { return types.KindDB }

// Save inserts one row carrying the payload. There is nothing to compensate:
// a failed insert leaves no content anywhere.
func (a *Adapter) Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("insert item", err)
	}
	item := storage.NewItem(types.KindDB, name, "", data)
	if err := storage.Commit(ctx, db, item, nil, a.log); err != nil {
		return nil, err
	}
	a.log.Debug("saved item", slog.String("item", item.ID.String()), slog.Int("size", len(data)))

	// The caller gets metadata only, like the external backends return.
	item.Content = nil
	return item, nil
}

func (a *Adapter) Load(ctx context.Context, db *gorm.DB, id types.ItemID) ([]byte, error) {
	item, err := storage.LoadRow(ctx, db, id, types.KindDB, true)
	if err != nil {
		return nil, err
	}
	if item.Content == nil {
		if item.Size > 0 {
			// NULL content on a non-empty db row: the invariant was broken out of band.
			return nil, storage.Unavailable("load content", nil)
		}
		item.Content = []byte{}
	}
	if err := storage.Verify(item, item.Content); err != nil {
		return nil, err
	}
	return item.Content, nil
}

func (a *Adapter) Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	if _, err := storage.LoadRow(ctx, db, id, types.KindDB, false); err != nil {
		return err
	}
	return storage.DeleteRow(ctx, db, id)
}
