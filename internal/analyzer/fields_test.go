package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-installer-metadata/internal/sniff"
)

func TestNormalizeSetsFormatAndDropsEmpty(t *testing.T) {
	t.Parallel()

	f := normalize(sniff.FormatRPM, Fields{
		FieldProductName: "pkg",
		"Release":        "",
	})

	require.Equal(t, "RPM", f[FieldFormat])
	require.Equal(t, "pkg", f[FieldProductName])
	_, present := f["Release"]
	require.False(t, present)
}

func TestNormalizeCollapsesPublisherAliases(t *testing.T) {
	t.Parallel()

	// the same fact under two keys collapses onto the format's primary
	f := normalize(sniff.FormatPE, Fields{
		FieldCompanyName: "Example Corp",
		FieldPublisher:   "Example Corp",
	})

	require.Equal(t, "Example Corp", f[FieldCompanyName])
	_, present := f[FieldPublisher]
	require.False(t, present)
}

func TestNormalizeKeepsDistinctPublisherValues(t *testing.T) {
	t.Parallel()

	f := normalize(sniff.FormatPE, Fields{
		FieldCompanyName: "Example Corp",
		FieldPublisher:   "Example Corporation GmbH",
	})

	require.Equal(t, "Example Corp", f[FieldCompanyName])
	require.Equal(t, "Example Corporation GmbH", f[FieldPublisher])
}

func TestNormalizeCollapsesVersionAliases(t *testing.T) {
	t.Parallel()

	f := normalize(sniff.FormatMSI, Fields{
		FieldProductVersion: "1.0.0",
		FieldFileVersion:    "1.0.0",
	})

	require.Equal(t, "1.0.0", f[FieldProductVersion])
	_, present := f[FieldFileVersion]
	require.False(t, present)
}

func TestNormalizeCollapseWithoutPrimary(t *testing.T) {
	t.Parallel()

	// when the format's primary key is absent, the first present group
	// member is kept
	f := normalize(sniff.FormatDMG, Fields{
		FieldManufacturer: "Example Corp",
		FieldVendor:       "Example Corp",
	})

	kept := 0
	for _, k := range []string{FieldManufacturer, FieldVendor} {
		if _, ok := f[k]; ok {
			kept++
		}
	}
	require.Equal(t, 1, kept)
}

func TestFieldsSetSkipsEmpty(t *testing.T) {
	t.Parallel()

	f := Fields{}
	f.Set("Key", "")
	_, present := f["Key"]
	require.False(t, present)

	f.Set("Key", "value")
	require.Equal(t, "value", f["Key"])
}
