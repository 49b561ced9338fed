package instrumented

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"assetvault/pkg/meta/metatest"
	"assetvault/pkg/metrics"
	"assetvault/pkg/storage"
	"assetvault/pkg/storage/dbblob"
	"assetvault/pkg/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// sample scrapes the metrics endpoint and returns the value of one series,
// or 0 when it has not been recorded yet.
func sample(t *testing.T, series string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, series+" "); ok {
			v, err := strconv.ParseFloat(rest, 64)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.Backend, *gorm.DB) {
		return New(dbblob.NewAdapter(nil)), metatest.NewDB(t)
	})
}

func TestStore_RecordsOutcomes(t *testing.T) {
	const (
		saveOK       = `assetvault_storage_operations_total{backend="db",op="save",outcome="ok"}`
		saveInvalid  = `assetvault_storage_operations_total{backend="db",op="save",outcome="invalid_input"}`
		loadNotFound = `assetvault_storage_operations_total{backend="db",op="load",outcome="not_found"}`
		deleteOK     = `assetvault_storage_operations_total{backend="db",op="delete",outcome="ok"}`
		bytesIn      = `assetvault_storage_bytes_total{backend="db",direction="in"}`
		bytesOut     = `assetvault_storage_bytes_total{backend="db",direction="out"}`
	)
	before := map[string]float64{}
	for _, s := range []string{saveOK, saveInvalid, loadNotFound, deleteOK, bytesIn, bytesOut} {
		before[s] = sample(t, s)
	}

	store := New(dbblob.NewAdapter(nil))
	db := metatest.NewDB(t)
	ctx := context.Background()

	item, err := store.Save(ctx, db, "a.gltf", []byte("12345"))
	require.NoError(t, err)
	_, err = store.Save(ctx, db, "../etc/passwd", []byte("x"))
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = store.Load(ctx, db, item.ID)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, db, item.ID))
	_, err = store.Load(ctx, db, item.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, before[saveOK]+1, sample(t, saveOK))
	assert.Equal(t, before[saveInvalid]+1, sample(t, saveInvalid))
	assert.Equal(t, before[loadNotFound]+1, sample(t, loadNotFound))
	assert.Equal(t, before[deleteOK]+1, sample(t, deleteOK))
	assert.Equal(t, before[bytesIn]+5, sample(t, bytesIn))
	assert.Equal(t, before[bytesOut]+5, sample(t, bytesOut))
}
