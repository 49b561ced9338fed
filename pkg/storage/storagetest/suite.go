// Package storagetest holds the behavioural contract every storage.Backend
// must satisfy, so each backend's tests can run the same cases.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"assetvault/pkg/meta/metatest"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Factory builds a fresh backend over a fresh metadata store.
type Factory func(t *testing.T) (storage.Backend, *gorm.DB)

// LargePayloadSize exceeds every internal copy buffer used by the backends.
const LargePayloadSize = 3<<20 + 17

const raceRounds = 100

// Run executes the full contract against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newBackend) })
	t.Run("UnknownID", func(t *testing.T) { testUnknownID(t, newBackend) })
	t.Run("NoResurrection", func(t *testing.T) { testNoResurrection(t, newBackend) })
	t.Run("InvalidNames", func(t *testing.T) { testInvalidNames(t, newBackend) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, newBackend) })
	t.Run("InsertFailureLeavesNoOrphan", func(t *testing.T) { testInsertFailure(t, newBackend) })
	t.Run("CancelledSave", func(t *testing.T) { testCancelledSave(t, newBackend) })
	t.Run("LoadRacingDelete", func(t *testing.T) { testLoadRacingDelete(t, newBackend) })
}

// Payload returns n deterministic, non-repeating-looking bytes.
func Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/251)
	}
	return b
}

func testRoundTrip(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()

	cases := []struct {
		name string
		data []byte
	}{
		{"a.gltf", bytes.Repeat([]byte{0}, 1024)},
		{"empty.glb", []byte{}},
		{"nil.glb", nil},
		{"large.glb", Payload(LargePayloadSize)},
		{"same name twice.gltf", []byte("first")},
		{"same name twice.gltf", []byte("second")},
	}

	ids := make([]types.ItemID, len(cases))
	for i, c := range cases {
		item, err := store.Save(ctx, db, c.name, c.data)
		require.NoError(t, err, "save %s", c.name)
		assert.False(t, item.ID.IsZero())
		assert.Equal(t, c.name, item.Name)
		assert.Equal(t, store.Kind(), item.Backend)
		assert.Equal(t, int64(len(c.data)), item.Size)
		ids[i] = item.ID
	}

	for i, c := range cases {
		got, err := store.Load(ctx, db, ids[i])
		require.NoError(t, err, "load %s", c.name)
		assert.Len(t, got, len(c.data))
		assert.True(t, bytes.Equal(c.data, got), "payload of %s should round-trip", c.name)
	}
}

func testUnknownID(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()

	_, err := store.Load(ctx, db, 999999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Delete(ctx, db, 999999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testNoResurrection(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()

	item, err := store.Save(ctx, db, "a.gltf", bytes.Repeat([]byte{0}, 1024))
	require.NoError(t, err)

	got, err := store.Load(ctx, db, item.ID)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0}, 1024), got)

	require.NoError(t, store.Delete(ctx, db, item.ID))

	_, err = store.Load(ctx, db, item.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, db, item.ID), storage.ErrNotFound)
	assert.Equal(t, int64(0), metatest.CountItems(t, db))

	if inv := storage.InventoryOf(store); inv != nil {
		contents, err := inv.Contents(ctx)
		require.NoError(t, err)
		assert.Empty(t, contents, "content should be gone with its row")
	}
}

func testInvalidNames(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()

	for _, name := range []string{"", "   ", "../etc/passwd", "a/b.gltf", `..\evil.glb`, "..", "bad\x00name"} {
		_, err := store.Save(ctx, db, name, []byte("x"))
		assert.ErrorIs(t, err, storage.ErrInvalidInput, "name %q", name)
	}
	assert.Equal(t, int64(0), metatest.CountItems(t, db))
}

func testConcurrentSaves(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()

	const n = 50
	var (
		mu  sync.Mutex
		ids = make(map[int]types.ItemID, n)
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			item, err := store.Save(gctx, db, fmt.Sprintf("model-%d.glb", i), []byte(fmt.Sprintf("{%d}", i)))
			if err != nil {
				return err
			}
			mu.Lock()
			ids[i] = item.ID
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	distinct := make(map[types.ItemID]bool, n)
	for _, id := range ids {
		distinct[id] = true
	}
	require.Len(t, distinct, n, "every save should get its own id")

	g, gctx = errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			got, err := store.Load(gctx, db, ids[i])
			if err != nil {
				return err
			}
			if want := fmt.Sprintf("{%d}", i); string(got) != want {
				return fmt.Errorf("item %s: got %q, want %q", ids[i], got, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func testInsertFailure(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()
	metatest.FailInserts(t, db)

	_, err := store.Save(ctx, db, "doomed.glb", Payload(4096))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBackendFailure)
	assert.ErrorIs(t, err, metatest.ErrInjected)

	assert.Equal(t, int64(0), metatest.CountItems(t, db), "no row may survive a failed save")
	if inv := storage.InventoryOf(store); inv != nil {
		contents, err := inv.Contents(ctx)
		require.NoError(t, err)
		assert.Empty(t, contents, "written content must be rolled back")
	}
}

func testCancelledSave(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, db, "cancelled.glb", Payload(1024))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(0), metatest.CountItems(t, db))
	if inv := storage.InventoryOf(store); inv != nil {
		contents, err := inv.Contents(context.Background())
		require.NoError(t, err)
		assert.Empty(t, contents)
	}
}

// A Load overlapping a Delete of the same item sees either the whole payload
// or NotFound.
func testLoadRacingDelete(t *testing.T, newBackend Factory) {
	store, db := newBackend(t)
	ctx := context.Background()
	payload := Payload(4096)

	for round := 0; round < raceRounds; round++ {
		item, err := store.Save(ctx, db, "racy.glb", payload)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			got       []byte
			loadErr   error
			deleteErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			got, loadErr = store.Load(ctx, db, item.ID)
		}()
		go func() {
			defer wg.Done()
			deleteErr = store.Delete(ctx, db, item.ID)
		}()
		wg.Wait()

		require.NoError(t, deleteErr, "round %d", round)
		if loadErr != nil {
			require.ErrorIs(t, loadErr, storage.ErrNotFound, "round %d", round)
			continue
		}
		require.True(t, bytes.Equal(payload, got), "round %d: load returned a partial payload", round)
	}
	assert.Equal(t, int64(0), metatest.CountItems(t, db))
}
