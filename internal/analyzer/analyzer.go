// Package analyzer extracts provenance metadata from installer and package
// containers. One decoder exists per detected format; the sniffer's
// classification selects exactly one of them, and the result is projected
// onto a single canonical, alias-free field schema.
package analyzer

import (
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
	"github.com/deploymenttheory/go-installer-metadata/internal/sniff"
)

// Analyze classifies data and runs the matching decoder. The format set is
// closed, so dispatch is an exhaustive switch rather than open-ended
// registration. Every failure path returns a structured *Error; nothing
// panics on hostile input.
func Analyze(data []byte) (Fields, *Error) {
	info := sniff.Detect(data)

	var (
		fields Fields
		aerr   *Error
	)
	switch info.Format {
	case sniff.FormatPE:
		fields, aerr = decodePE(data)
	case sniff.FormatMSI:
		fields, aerr = decodeMSI(data)
	case sniff.FormatDMG:
		fields, aerr = decodeDMG(data)
	case sniff.FormatDEB:
		fields, aerr = decodeDEB(data)
	case sniff.FormatRPM:
		fields, aerr = decodeRPM(data)
	case sniff.FormatInvalid:
		return nil, detectionErr("invalid binary: input too short to classify")
	default:
		return nil, detectionErr("unsupported file format: no recognizable signature")
	}

	if aerr != nil {
		logger.Debugf("analysis failed: format=%s kind=%d msg=%s", info.Format, aerr.Kind, aerr.Msg)
		return nil, aerr
	}
	return normalize(info.Format, fields), nil
}
