// Package fsck finds rows whose content is gone (dangling) and content no
// row references (orphans). Orphans are expected after a crash between a
// content write and its row insert; Repair removes them.
package fsck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/metrics"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Options tunes a Checker.
type Options struct {
	// Workers bounds concurrent content checks.
	Workers int
	// MinAge protects in-flight saves: content younger than this is never
	// reported as an orphan, since its row may not be committed yet.
	MinAge time.Duration
	// Deep loads and verifies every payload instead of probing existence.
	Deep bool
}

const (
	defaultWorkers = 8
	DefaultMinAge  = time.Hour
	scanBatchSize  = 500
)

// Dangling is a row whose content cannot be retrieved.
type Dangling struct {
	ID       types.ItemID
	Location string
	Reason   string
}

// Report is the outcome of one Check.
type Report struct {
	Backend  types.BackendKind
	Rows     int
	Contents int
	Dangling []Dangling
	Orphans  []storage.ContentInfo
	// Removed counts orphans deleted by Repair.
	Removed int
}

// Clean reports whether no problem was found.
func (r *Report) Clean() bool {
	return len(r.Dangling) == 0 && len(r.Orphans) == 0
}

// Checker compares the rows of one backend kind with the backend's content.
type Checker struct {
	db    *gorm.DB
	store storage.Backend
	inv   storage.Inventory // nil for inline backends
	opts  Options
	log   *slog.Logger
}

func New(db *gorm.DB, store storage.Backend, opts Options, log *slog.Logger) *Checker {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Checker{
		db:    db,
		store: store,
		inv:   storage.InventoryOf(store),
		opts:  opts,
		log:   storage.LoggerOr(log),
	}
}

// Check scans without changing anything.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	kind := c.store.Kind()
	report := &Report{Backend: kind}

	// 1. Snapshot content before rows: content written after this point
	// cannot be misreported, content written before it is aged by MinAge.
	var contents []storage.ContentInfo
	if c.inv != nil {
		var err error
		contents, err = c.inv.Contents(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list content: %w", err)
		}
	}
	cutoff := time.Now().Add(-c.opts.MinAge)

	// 2. Rows of this backend kind, metadata only
	var rows []meta.Item
	err := meta.NewRepository(c.db).ScanItems(ctx, kind, scanBatchSize, func(batch []meta.Item) error {
		rows = append(rows, batch...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	report.Rows = len(rows)
	report.Contents = len(contents)

	// 3. Every row must resolve to content
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, row := range rows {
		g.Go(func() error {
			reason, err := c.checkRow(gctx, &row)
			if err != nil || reason == "" {
				return err
			}
			mu.Lock()
			report.Dangling = append(report.Dangling, Dangling{ID: row.ID, Location: row.LocationString(), Reason: reason})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 4. Every old-enough piece of content must be referenced
	referenced := make(map[string]bool, len(rows))
	for _, row := range rows {
		referenced[row.LocationString()] = true
	}
	for _, content := range contents {
		if referenced[content.Location] || content.ModTime.After(cutoff) {
			continue
		}
		report.Orphans = append(report.Orphans, content)
	}

	metrics.SetFsckFindings(kind.String(), len(report.Dangling), len(report.Orphans))
	c.log.Info("consistency check finished",
		slog.String("backend", kind.String()),
		slog.Int("rows", report.Rows),
		slog.Int("contents", report.Contents),
		slog.Int("dangling", len(report.Dangling)),
		slog.Int("orphans", len(report.Orphans)),
	)
	return report, nil
}

// checkRow returns a non-empty reason when row's content is unusable.
// Rows deleted while the check runs are not findings.
func (c *Checker) checkRow(ctx context.Context, row *meta.Item) (string, error) {
	if c.inv == nil || c.opts.Deep {
		_, err := c.store.Load(ctx, c.db, row.ID)
		switch {
		case err == nil, errors.Is(err, storage.ErrNotFound):
			return "", nil
		case errors.Is(err, storage.ErrStorageUnavailable):
			return err.Error(), nil
		default:
			return "", err
		}
	}

	ok, err := c.inv.Exists(ctx, row.LocationString())
	if err != nil {
		return "", fmt.Errorf("failed to check %q: %w", row.LocationString(), err)
	}
	if !ok {
		return "content missing", nil
	}
	return "", nil
}

// Repair removes the orphans found by report. Dangling rows are left for an
// operator to decide on; their content may come back (e.g. a remounted disk).
func (c *Checker) Repair(ctx context.Context, report *Report) error {
	if c.inv == nil {
		return nil
	}
	var errs []error
	for _, orphan := range report.Orphans {
		if err := c.inv.Remove(ctx, orphan.Location); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", orphan.Location, err))
			continue
		}
		report.Removed++
		c.log.Info("removed orphan", slog.String("location", orphan.Location), slog.Int64("size", orphan.Size))
	}
	return errors.Join(errs...)
}
