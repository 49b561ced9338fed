package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"assetvault/pkg/config"
	"assetvault/pkg/fsck"
	"assetvault/pkg/meta"
	"assetvault/pkg/service"
	"assetvault/pkg/storage"
	"assetvault/pkg/storage/cache"
	"assetvault/pkg/storage/dbblob"
	"assetvault/pkg/storage/disk"
	"assetvault/pkg/storage/instrumented"
	"assetvault/pkg/storage/minio"
	"assetvault/pkg/storage/s3"
	"assetvault/pkg/types"
)

// App is the dependency container. The metadata pool and the storage
// backend (with its object store client) are built once here and shared by
// every request for the life of the process.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *meta.DB
	Store  storage.Backend
	Items  *service.ItemService

	closers []io.Closer
}

// NewApp builds the App from the global configuration.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.Current()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New wires every component for cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	db, err := meta.Open(ctx, meta.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogSQL:          cfg.Database.LogSQL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, DB: db, closers: []io.Closer{db}}

	store, err := initStore(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	if cfg.Cache.Enabled() {
		cached, err := cache.New(store, cache.Config{
			RedisURL:     cfg.Cache.RedisURL,
			TTL:          cfg.Cache.TTL,
			MaxItemBytes: cfg.Cache.MaxItemBytes,
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, cached)
		store = cached
	}
	if cfg.Storage.Metrics {
		store = instrumented.New(store)
	}

	a.Store = store
	a.Items = service.NewItemService(db.Conn(), store, service.Options{
		RequireModelExtension: cfg.Server.RequireModelExtension,
	}, logger)

	logger.Info("storage ready",
		slog.String("backend", store.Kind().String()),
		slog.Bool("cache", cfg.Cache.Enabled()),
	)
	return a, nil
}

// initStore is the backend selector: exactly one backend per process,
// chosen by storage.backend.
func initStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Backend, error) {
	kind, err := cfg.BackendKind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case types.KindFile:
		return disk.NewAdapter(cfg.Storage.Path, log)

	case types.KindDB:
		return dbblob.NewAdapter(log), nil

	case types.KindObject:
		obj := cfg.Storage.Object
		if obj.Bucket == "" {
			return nil, errors.New("bucket is required for the object backend")
		}
		switch driver := cfg.ObjectDriver(); driver {
		case "minio":
			return minio.NewAdapter(ctx, minio.Config{
				Endpoint:        obj.Endpoint,
				Region:          obj.Region,
				Bucket:          obj.Bucket,
				AccessKeyID:     obj.AccessKey,
				SecretAccessKey: obj.SecretKey,
				UseSSL:          obj.UseSSL,
				PartSize:        uint64(max(obj.PartSize, 0)),
			}, log)
		case "", "s3":
			return s3.NewAdapter(ctx, s3.Config{
				Endpoint:        obj.Endpoint,
				Region:          obj.Region,
				Bucket:          obj.Bucket,
				AccessKeyID:     obj.AccessKey,
				SecretAccessKey: obj.SecretKey,
				PartSize:        obj.PartSize,
				Concurrency:     obj.Concurrency,
			}, log)
		default:
			return nil, fmt.Errorf("unsupported object driver: %q", driver)
		}
	}
	return nil, fmt.Errorf("unsupported storage backend: %q", kind)
}

// Checker returns a consistency checker over the configured backend.
func (a *App) Checker(opts fsck.Options) *fsck.Checker {
	return fsck.New(a.DB.Conn(), a.Store, opts, a.Logger)
}

// Ready reports whether the metadata store is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

// Close releases pools and clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger and installs it as the slog default.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %q", cfg.Format)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
