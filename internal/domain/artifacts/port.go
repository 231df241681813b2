package artifacts

import "context"

// Store port (interface for artifact storage)
type Store interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}
