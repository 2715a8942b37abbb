package storage

import (
	"github.com/deploymenttheory/go-installer-metadata/internal/types"
)

// Storage defines the interface for persisting analysis reports
type Storage interface {
	// Store saves one analyzed file's report
	Store(report types.Report) error

	// Close finalizes the storage
	Close() error

	// Stats returns storage statistics
	Stats() types.StorageStats
}
