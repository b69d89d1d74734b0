package blob

import (
	"context"
	"fmt"

	"relcore/internal/config"
)

// Open selects the blob store for the configured snapshot driver: s3 uses
// the RELCORE_S3_* settings, memory keeps blobs in process.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch Driver(cfg.SnapshotDriver) {
	case DriverS3:
		return NewS3(ctx, S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("snapshot driver %s is not blob-backed", cfg.SnapshotDriver)
	}
}
