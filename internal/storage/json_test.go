package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-installer-metadata/internal/types"
)

func testReport(path, format, sha string) types.Report {
	return types.Report{
		Path:          path,
		Filename:      filepath.Base(path),
		AnalyzedAt:    time.Now(),
		SHA256:        sha,
		FileSizeBytes: 1234,
		Format:        format,
		Metadata:      map[string]interface{}{"ProductName": "Example"},
	}
}

func TestJSONStorageRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.json")
	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(testReport("/tmp/a.msi", "MSI", "aa")))
	require.NoError(t, s.Store(testReport("/tmp/b.deb", "DEB", "bb")))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out JSONOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Reports, 2)
	require.Equal(t, 2, out.Stats.FilesStored)
	require.Equal(t, 1, out.Stats.FilesByFormat["MSI"])
	require.Equal(t, 1, out.Stats.FilesByFormat["DEB"])
}

func TestJSONStorageDeduplicates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.json")
	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, s.Store(testReport("/tmp/a.msi", "MSI", "same")))
	require.NoError(t, s.Store(testReport("/tmp/copy.msi", "MSI", "same")))
	require.Equal(t, 1, s.Stats().FilesStored)
}

func TestJSONStorageLoadsExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.json")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Store(testReport("/tmp/a.rpm", "RPM", "aa")))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	// the same file is recognized and skipped
	require.NoError(t, reopened.Store(testReport("/tmp/a.rpm", "RPM", "aa")))
	require.Equal(t, 1, reopened.Stats().FilesStored)
}

func TestJSONStorageCountsFailures(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.json")
	s, err := New(path)
	require.NoError(t, err)

	r := testReport("/tmp/broken.rpm", "RPM", "cc")
	r.Metadata = nil
	r.Error = "corrupt main header: magic mismatch"
	require.NoError(t, s.Store(r))
	require.Equal(t, 1, s.Stats().FailureCount)
}
