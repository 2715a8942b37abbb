// Package sniff classifies raw byte buffers into the container formats this
// module understands. It is a leaf package: it looks at magic bytes only and
// never parses past a header, so it cannot fail on any input.
package sniff

import (
	"bytes"
	"fmt"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
)

// Format is the closed set of detected container formats.
type Format string

const (
	FormatPE      Format = "PE"
	FormatMSI     Format = "MSI"
	FormatDMG     Format = "DMG"
	FormatDEB     Format = "DEB"
	FormatRPM     Format = "RPM"
	FormatUnknown Format = "Unknown"
	FormatInvalid Format = "Invalid binary"
)

// FileInfo is the always-producible classification result.
type FileInfo struct {
	Format        Format `json:"Format"`
	Size          int    `json:"Size"`
	FormatVersion string `json:"FormatVersion,omitempty"`
}

// Magic byte sequences. REF: https://en.wikipedia.org/wiki/List_of_file_signatures
var (
	MagicCFB     = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	MagicAr      = []byte("!<arch>\n")
	MagicRPMLead = []byte{0xED, 0xAB, 0xEE, 0xDB}
	MagicKoly    = []byte("koly")
)

const (
	kolyTrailerSize = 512
	kolyTailScan    = 2048 // older images may carry trailing padding after the koly block
	minSniffLen     = 8
)

// Detect classifies data. It never fails: too-short or ambiguous input yields
// FormatInvalid or FormatUnknown with the observed size.
func Detect(data []byte) FileInfo {
	info := FileInfo{Format: FormatUnknown, Size: len(data)}

	if len(data) < minSniffLen {
		info.Format = FormatInvalid
		return info
	}

	switch {
	case bytes.HasPrefix(data, MagicCFB):
		info.Format = FormatMSI
		// CFB header carries the container version at offsets 24 (minor)
		// and 26 (major).
		minor, _ := binutil.U16At(data, 24)
		major, ok := binutil.U16At(data, 26)
		if ok {
			info.FormatVersion = fmt.Sprintf("%d.%d", major, minor)
		}

	case isDMG(data):
		info.Format = FormatDMG
		if off, ok := KolyOffset(data); ok {
			if v, ok := binutil.U32BEAt(data, off+4); ok {
				info.FormatVersion = fmt.Sprintf("%d", v)
			}
		}

	case isDEB(data):
		info.Format = FormatDEB

	case bytes.HasPrefix(data, MagicRPMLead):
		info.Format = FormatRPM
		if len(data) >= 6 {
			info.FormatVersion = fmt.Sprintf("%d.%d", data[4], data[5])
		}

	case isPE(data):
		info.Format = FormatPE
		info.FormatVersion = peClass(data)
	}

	return info
}

// KolyOffset locates the UDIF trailer: exactly at len-512, or within a
// bounded scan of the tail for images with trailing padding.
func KolyOffset(data []byte) (int, bool) {
	if len(data) < kolyTrailerSize {
		return 0, false
	}
	exact := len(data) - kolyTrailerSize
	if bytes.Equal(data[exact:exact+4], MagicKoly) {
		return exact, true
	}
	scanFrom := len(data) - kolyTailScan
	if scanFrom < 0 {
		scanFrom = 0
	}
	rel := bytes.LastIndex(data[scanFrom:], MagicKoly)
	if rel < 0 {
		return 0, false
	}
	off := scanFrom + rel
	if len(data)-off < kolyTrailerSize {
		return 0, false
	}
	return off, true
}

func isDMG(data []byte) bool {
	_, ok := KolyOffset(data)
	return ok
}

// isDEB requires the ar global magic and a first member literally named
// debian-binary. The member name occupies the first 16 bytes of the fixed
// 60-byte ar header.
func isDEB(data []byte) bool {
	if !bytes.HasPrefix(data, MagicAr) {
		return false
	}
	name, ok := binutil.Slice(data, len(MagicAr), 16)
	if !ok {
		return false
	}
	trimmed := string(bytes.TrimRight(name, " /"))
	return trimmed == "debian-binary"
}

// isPE checks MZ at offset 0 and e_lfanew at 0x3C pointing to an in-bounds
// PE\0\0 signature.
func isPE(data []byte) bool {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return false
	}
	lfanew, ok := binutil.U32At(data, 0x3C)
	if !ok {
		return false
	}
	sig, ok := binutil.Slice(data, int(lfanew), 4)
	if !ok {
		return false
	}
	return bytes.Equal(sig, []byte("PE\x00\x00"))
}

// peClass reports the optional-header class (PE32 vs PE32+) when readable.
func peClass(data []byte) string {
	lfanew, ok := binutil.U32At(data, 0x3C)
	if !ok {
		return ""
	}
	magic, ok := binutil.U16At(data, int(lfanew)+4+20)
	if !ok {
		return ""
	}
	switch magic {
	case 0x10B:
		return "PE32"
	case 0x20B:
		return "PE32+"
	}
	return ""
}
