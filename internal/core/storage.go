package core

import (
	"context"
	"fmt"

	"relcore/internal/blob"
	"relcore/internal/config"
	"relcore/internal/infra/persistence/memory"
	"relcore/internal/infra/persistence/postgres"
	"relcore/internal/infra/persistence/sqlite"
	"relcore/pkg/domain"
)

// Storage bundles the data source root transactions load from and the store
// their snapshots are kept in.
type Storage struct {
	Source    domain.DataSource
	Snapshots SnapshotStore
	close     func() error
}

// Close releases the backend connections, if any.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage selects the backends for cfg.SnapshotDriver:
//
//	memory:   in-process records and in-process snapshot blobs
//	sqlite:   records and snapshots in the file at cfg.SQLitePath
//	postgres: records and snapshots in the database at cfg.PostgresDSN
//	s3:       in-process records, snapshots in cfg.S3.Bucket under cfg.S3.Prefix
//
// The snapshot store is traced with the global OpenTelemetry provider.
func OpenStorage(ctx context.Context, cfg config.Config) (*Storage, error) {
	switch cfg.SnapshotDriver {
	case config.DriverMemory, config.DriverS3:
		objects, err := blob.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		prefix := ""
		if cfg.SnapshotDriver == config.DriverS3 {
			prefix = cfg.S3.Prefix
		}
		return &Storage{
			Source:    memory.NewStore(),
			Snapshots: TraceSnapshotStore(NewBlobSnapshotStore(objects, prefix), nil),
		}, nil
	case config.DriverSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Source:    store,
			Snapshots: TraceSnapshotStore(NewSnapshotStore(store), nil),
			close:     store.Close,
		}, nil
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Source:    store,
			Snapshots: TraceSnapshotStore(NewSnapshotStore(store), nil),
			close:     store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver %s", cfg.SnapshotDriver)
	}
}
