package analyzer

import "fmt"

// Kind classifies an analysis failure so callers can branch without string
// matching.
type Kind int

const (
	// KindDetection: no recognizable signature.
	KindDetection Kind = iota
	// KindStructural: a container-level header or offset failed validation
	// after the format was tentatively identified. Aborts the decode.
	KindStructural
	// KindUnsupported: recognized but unhandled variant, compression or
	// encryption.
	KindUnsupported
	// KindExtraction: a single table, stream or resource could not be
	// decoded. Absorbed by decoders; surfaces only in logs.
	KindExtraction
)

// Error is the structured failure value every decoder returns instead of
// panicking. Format is set when classification succeeded before the failure,
// to give the caller partial context.
type Error struct {
	Kind   Kind
	Format string
	Msg    string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Msg + ": " + e.Detail
	}
	return e.Msg
}

func detectionErr(msg string) *Error {
	return &Error{Kind: KindDetection, Msg: msg}
}

func structuralErr(format, msg string, args ...interface{}) *Error {
	return &Error{Kind: KindStructural, Format: format, Msg: fmt.Sprintf(msg, args...)}
}

func unsupportedErr(format, msg string, args ...interface{}) *Error {
	return &Error{Kind: KindUnsupported, Format: format, Msg: fmt.Sprintf(msg, args...)}
}
