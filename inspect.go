// Package installermetadata identifies the container format of a raw binary
// buffer and extracts structured provenance metadata from Windows PE
// executables, MSI databases, Apple disk images, Debian packages and RPM
// packages.
//
// Both entry points are pure functions over an in-memory byte buffer: they
// hold no state, never mutate the input, and never panic on malformed or
// hostile bytes. Results are JSON with deterministic key order, and a value
// is present only when it was actually extracted.
package installermetadata

import (
	"encoding/json"

	"github.com/deploymenttheory/go-installer-metadata/internal/analyzer"
	"github.com/deploymenttheory/go-installer-metadata/internal/sniff"
)

// GetFileInfo classifies data by magic bytes only and returns a JSON object
// with Format, Size and, when the header encodes one, FormatVersion. It
// always succeeds: unrecognized input yields Format "Unknown", input too
// short to classify yields Format "Invalid binary".
func GetFileInfo(data []byte) string {
	info := sniff.Detect(data)
	out, err := json.Marshal(info)
	if err != nil {
		// FileInfo is a flat struct of marshalable fields; this cannot
		// happen, but the contract is "never fail"
		return `{"error":"internal serialization failure"}`
	}
	return string(out)
}

// AnalyzeFile runs the format's structural decoder over data and returns
// either the extracted metadata or an error object {error, details?,
// Format?} as JSON. It never panics; every failure path returns a value.
func AnalyzeFile(data []byte) string {
	fields, aerr := analyzer.Analyze(data)
	if aerr != nil {
		return marshalError(aerr)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return marshalError(&analyzer.Error{
			Kind: analyzer.KindExtraction,
			Msg:  "result serialization failed",
		})
	}
	return string(out)
}

// errorEnvelope is the wire shape of an analysis failure. Format is included
// when classification succeeded before the failure.
type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Format  string `json:"Format,omitempty"`
}

func marshalError(aerr *analyzer.Error) string {
	env := errorEnvelope{
		Error:   aerr.Msg,
		Details: aerr.Detail,
		Format:  aerr.Format,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return `{"error":"internal serialization failure"}`
	}
	return string(out)
}
