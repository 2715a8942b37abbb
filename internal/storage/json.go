package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
	"github.com/deploymenttheory/go-installer-metadata/internal/types"
)

// JSONOutput represents the JSON report file structure
type JSONOutput struct {
	LastUpdated time.Time          `json:"last_updated"`
	Stats       types.StorageStats `json:"stats"`
	Reports     []types.Report     `json:"reports"`
}

// JSONStorage implements the Storage interface using a JSON file
type JSONStorage struct {
	filePath  string
	data      JSONOutput
	hashIndex map[string]bool
	pathIndex map[string]bool
	mutex     sync.RWMutex
}

// New creates a new JSONStorage
func New(filePath string) (*JSONStorage, error) {
	storage := &JSONStorage{
		filePath:  filePath,
		hashIndex: make(map[string]bool),
		pathIndex: make(map[string]bool),
		data: JSONOutput{
			LastUpdated: time.Now(),
			Stats: types.StorageStats{
				LastUpdatedAt: time.Now(),
				FilesByFormat: make(map[string]int),
			},
			Reports: make([]types.Report, 0),
		},
	}

	// Try to load existing data
	if _, err := os.Stat(filePath); err == nil {
		err = storage.loadExistingData()
		if err != nil {
			return nil, fmt.Errorf("failed to load existing data: %w", err)
		}
	}

	return storage, nil
}

// Store saves one analyzed file's report
func (s *JSONStorage) Store(report types.Report) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Skip files we already analyzed, by content hash or path
	if s.hashIndex[report.SHA256] || s.pathIndex[report.Path] {
		return nil
	}

	s.data.Reports = append(s.data.Reports, report)
	if report.SHA256 != "" {
		s.hashIndex[report.SHA256] = true
	}
	s.pathIndex[report.Path] = true

	s.data.Stats.FilesStored++
	s.data.LastUpdated = time.Now()
	s.data.Stats.LastUpdatedAt = time.Now()
	s.updateStats(report)

	return s.saveToFile()
}

// updateStats updates the per-format and outcome counters
func (s *JSONStorage) updateStats(report types.Report) {
	if report.Format != "" {
		if s.data.Stats.FilesByFormat == nil {
			s.data.Stats.FilesByFormat = make(map[string]int)
		}
		s.data.Stats.FilesByFormat[report.Format]++
	}
	if report.Error != "" {
		s.data.Stats.FailureCount++
	}
	if _, ok := report.Metadata["SignedBy"]; ok {
		s.data.Stats.SignedCount++
	}
}

// Close finalizes the storage
func (s *JSONStorage) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sortReports()
	s.data.LastUpdated = time.Now()
	s.data.Stats.LastUpdatedAt = time.Now()

	logger.Infof("Closing storage with %d files stored", s.data.Stats.FilesStored)
	logger.Infof("Files by format: %v", s.data.Stats.FilesByFormat)
	logger.Infof("Failure count: %d", s.data.Stats.FailureCount)

	return s.saveToFile()
}

// Stats returns storage statistics
func (s *JSONStorage) Stats() types.StorageStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data.Stats
}

// loadExistingData loads existing data from the JSON file
func (s *JSONStorage) loadExistingData() error {
	file, err := os.Open(s.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	var output JSONOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return err
	}

	if output.Stats.FilesByFormat == nil {
		output.Stats.FilesByFormat = make(map[string]int)
	}

	// Rebuild the indexes and counters from the loaded reports
	output.Stats.FailureCount = 0
	output.Stats.SignedCount = 0
	for _, report := range output.Reports {
		if report.SHA256 != "" {
			s.hashIndex[report.SHA256] = true
		}
		s.pathIndex[report.Path] = true
		if report.Error != "" {
			output.Stats.FailureCount++
		}
		if _, ok := report.Metadata["SignedBy"]; ok {
			output.Stats.SignedCount++
		}
	}

	s.data = output
	s.data.Stats.LastUpdatedAt = time.Now()

	logger.Infof("Loaded %d existing reports from %s", len(output.Reports), s.filePath)
	return nil
}

// saveToFile saves the current data to the JSON file
func (s *JSONStorage) saveToFile() error {
	s.sortReports()

	file, err := os.Create(s.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	return encoder.Encode(s.data)
}

// sortReports sorts the reports by format and filename so the output file is
// stable across runs
func (s *JSONStorage) sortReports() {
	sort.Slice(s.data.Reports, func(i, j int) bool {
		if s.data.Reports[i].Format != s.data.Reports[j].Format {
			return s.data.Reports[i].Format < s.data.Reports[j].Format
		}
		return s.data.Reports[i].Filename < s.data.Reports[j].Filename
	})
}
