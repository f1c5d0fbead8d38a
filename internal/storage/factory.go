package storage

import (
	"fmt"
	"strings"

	appconfig "github.com/timmy/tunematch/internal/config"
)

// NewStorage creates an ObjectStorage from the storage configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if storage is not configured or the client cannot be created.
func NewStorage(cfg *appconfig.StorageConfig) (ObjectStorage, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object storage is not configured: set storage.endpoint and storage.bucket")
	}
	return NewS3Storage(&S3Config{
		Type:      detectStorageType(cfg.Endpoint),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
}

// detectStorageType guesses the provider from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
