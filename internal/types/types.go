package types

import (
	"time"
)

// Report is one analyzed file's record in a report file.
type Report struct {
	Path          string                 `json:"path"`
	Filename      string                 `json:"filename"`
	AnalyzedAt    time.Time              `json:"analyzed_at"`
	SHA256        string                 `json:"sha256"`
	FileSizeBytes int64                  `json:"file_size_bytes"`
	Format        string                 `json:"format"`
	FormatVersion string                 `json:"format_version,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// StorageStats holds report-file statistics
type StorageStats struct {
	FilesStored   int            `json:"files_stored"`
	FailureCount  int            `json:"failure_count"`
	SignedCount   int            `json:"signed_count"`
	FilesByFormat map[string]int `json:"files_by_format"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
}
