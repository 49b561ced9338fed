package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"assetvault/pkg/meta"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"gorm.io/gorm"
)

const (
	tempPrefix = ".tmp-"
	// writeChunk bounds each write so cancellation is noticed mid-file.
	writeChunk = 1 << 20
)

// Adapter is the file storage backend. Content lives under rootPath, the row
// records the absolute path.
type Adapter struct {
	rootPath string // e.g. /var/lib/assetvault/objects
	log      *slog.Logger
}

var (
	_ storage.Backend   = (*Adapter)(nil)
	_ storage.Inventory = (*Adapter)(nil)
)

// NewAdapter creates the root directory if needed and returns the backend.
func NewAdapter(root string, log *slog.Logger) (*Adapter, error) {
	if root == "" {
		return nil, errors.New("storage path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: abs, log: storage.LoggerOr(log)}, nil
}

func (s *Adapter) Kind() types.BackendKind { return types.KindFile }

// Root returns the absolute storage root.
func (s *Adapter) Root() string { return s.rootPath }

// layout maps an object key ("ab/abcd...-name") to its path under the root.
func (s *Adapter) layout(key string) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(key))
}

// contains reports whether p is strictly inside the root.
func (s *Adapter) contains(p string) bool {
	rel, err := filepath.Rel(s.rootPath, filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (s *Adapter) Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error) {
	// 1. Validate before anything touches the disk
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	target := s.layout(storage.NewObjectKey(name))
	if !s.contains(target) {
		return nil, storage.InvalidInput("name %q escapes the storage root", name)
	}

	// 2. Content first, atomically
	if err := s.writeAtomic(ctx, target, data); err != nil {
		return nil, storage.Failure("write file", err)
	}

	// 3. Then the row; a failed insert removes the file again
	item := storage.NewItem(types.KindFile, name, target, data)
	undo := func(context.Context) error { return s.removeFile(target) }
	if err := storage.Commit(ctx, db, item, undo, s.log); err != nil {
		return nil, err
	}

	s.log.Debug("saved item", slog.String("item", item.ID.String()), slog.String("path", target), slog.Int("size", len(data)))
	return item, nil
}

// writeAtomic writes data to a temp file next to target, syncs it and renames
// it into place, so target is either absent or complete.
func (s *Adapter) writeAtomic(ctx context.Context, target string, data []byte) error {
	tempFile, err := s.createTemp(filepath.Dir(target))
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tempFile.Close()
			_ = os.Remove(tempName)
		}
	}()

	for off := 0; off < len(data); off += writeChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+writeChunk, len(data))
		if _, err := tempFile.Write(data[off:end]); err != nil {
			return err
		}
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tempName, target); err != nil {
		return err
	}
	committed = true
	return nil
}

// createTemp creates a temp file in dir. A concurrent Delete may prune the
// shard directory between MkdirAll and CreateTemp, so that case is retried.
func (s *Adapter) createTemp(dir string) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		f, err := os.CreateTemp(dir, tempPrefix+"*")
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Adapter) Load(ctx context.Context, db *gorm.DB, id types.ItemID) ([]byte, error) {
	item, err := storage.LoadRow(ctx, db, id, types.KindFile, false)
	if err != nil {
		return nil, err
	}
	path := item.LocationString()
	if !s.contains(path) {
		return nil, storage.Unavailable("open file", fmt.Errorf("item %s: path %q outside storage root", id, path))
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ResolveMissing(ctx, db, id, "open file", err)
	}
	if err != nil {
		return nil, storage.Unavailable("open file", err)
	}
	defer f.Close()

	data, err := storage.ReadAll(ctx, f, item.Size)
	if err != nil {
		return nil, storage.Unavailable("read file", err)
	}
	if err := storage.Verify(item, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the row and the file in one transaction. If the file cannot
// be removed the row delete is rolled back, so the item stays consistently
// loadable. A file that is already gone (an earlier attempt failed after
// removing it) is not an error, which keeps Delete retryable.
func (s *Adapter) Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	item, err := storage.LoadRow(ctx, db, id, types.KindFile, false)
	if err != nil {
		return err
	}
	path := item.LocationString()
	if !s.contains(path) {
		return storage.Unavailable("remove file", fmt.Errorf("item %s: path %q outside storage root", id, path))
	}

	return storage.DeleteWithContent(ctx, db, id, "remove file", func(context.Context) error {
		return s.removeFile(path)
	})
}

func (s *Adapter) removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.cleanupEmptyDirectories(filepath.Dir(path))
	return nil
}

// cleanupEmptyDirectories removes now-empty shard directories up to the root.
func (s *Adapter) cleanupEmptyDirectories(dir string) {
	for dir != s.rootPath && s.contains(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Contents walks the root. Temp files of in-flight writes are skipped.
func (s *Adapter) Contents(ctx context.Context) ([]storage.ContentInfo, error) {
	var out []storage.ContentInfo
	err := filepath.WalkDir(s.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, storage.ContentInfo{Location: p, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage root: %w", err)
	}
	return out, nil
}

func (s *Adapter) Exists(ctx context.Context, location string) (bool, error) {
	_, err := os.Stat(location)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Remove(ctx context.Context, location string) error {
	if !s.contains(location) {
		return fmt.Errorf("refusing to remove %q outside storage root", location)
	}
	return s.removeFile(location)
}
