// Package instrumented records Prometheus metrics for every facade call.
package instrumented

import (
	"context"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/metrics"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"gorm.io/gorm"
)

// Store wraps a backend and records count, latency and bytes per operation.
type Store struct {
	backend storage.Backend
}

var (
	_ storage.Backend = (*Store)(nil)
	_ storage.Wrapper = (*Store)(nil)
)

func New(backend storage.Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Unwrap() storage.Backend { return s.backend }

func (s *Store) Kind() types.BackendKind { return s.backend.Kind() }

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.RecordStorageOp(s.Kind().String(), op, storage.KindName(err), time.Since(start))
}

func (s *Store) Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error) {
	start := time.Now()
	item, err := s.backend.Save(ctx, db, name, data)
	s.observe("save", start, err)
	if err == nil {
		metrics.RecordBytes(s.Kind().String(), "in", len(data))
	}
	return item, err
}

func (s *Store) Load(ctx context.Context, db *gorm.DB, id types.ItemID) ([]byte, error) {
	start := time.Now()
	data, err := s.backend.Load(ctx, db, id)
	s.observe("load", start, err)
	if err == nil {
		metrics.RecordBytes(s.Kind().String(), "out", len(data))
	}
	return data, err
}

func (s *Store) Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	start := time.Now()
	err := s.backend.Delete(ctx, db, id)
	s.observe("delete", start, err)
	return err
}
