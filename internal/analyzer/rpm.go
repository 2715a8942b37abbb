package analyzer

import (
	"bytes"
	"strconv"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

const (
	rpmLeadSize       = 96
	rpmIndexEntrySize = 16
	rpmMaxIndexCount  = 1 << 16
	rpmMaxStoreSize   = 1 << 26
)

var rpmHeaderMagic = []byte{0x8E, 0xAD, 0xE8, 0x01}

// Header index data types.
const (
	rpmTypeChar       = 1
	rpmTypeInt8       = 2
	rpmTypeInt16      = 3
	rpmTypeInt32      = 4
	rpmTypeInt64      = 5
	rpmTypeString     = 6
	rpmTypeBin        = 7
	rpmTypeStringArr  = 8
	rpmTypeI18NString = 9
)

// Well-known header tags projected onto canonical field names.
var rpmTagFields = map[uint32]string{
	1000: FieldProductName,    // NAME
	1001: FieldProductVersion, // VERSION
	1002: "Release",
	1004: "Summary",
	1005: FieldDescription,
	1011: FieldVendor,
	1014: FieldLicense,
	1016: "Group",
	1020: "URL",
	1022: FieldArchitecture,
	1044: "SourceRpm",
}

// Lead architecture numbers, a coarse hint superseded by the header's ARCH
// tag when present.
var rpmLeadArchNames = map[uint16]string{
	1:  "x86",
	2:  "alpha",
	3:  "sparc",
	4:  "mips",
	5:  "ppc",
	8:  "ia64",
	12: "arm",
	19: "aarch64",
}

// decodeRPM parses the fixed 96-byte lead, skips the signature header by its
// padded length, and resolves well-known tags in the main header against the
// store. Any magic or bounds failure in the header chain is structural.
func decodeRPM(data []byte) (Fields, *Error) {
	if len(data) < rpmLeadSize {
		return nil, structuralErr("RPM", "input too small for the lead")
	}

	f := Fields{}
	// lead layout: magic(4), major, minor, type(2), archnum(2), name(66),
	// osnum(2), signature type(2), reserved(16)
	archnum := uint16(data[8])<<8 | uint16(data[9])
	if name, known := rpmLeadArchNames[archnum]; known {
		f.Set(FieldArchitecture, name)
	}

	offset, err := skipSignatureHeader(data, rpmLeadSize)
	if err != nil {
		return nil, err
	}
	if err := parseMainHeader(data, offset, f); err != nil {
		return nil, err
	}
	return f, nil
}

// skipSignatureHeader validates the signature header's frame and returns the
// offset of the main header. The signature header is padded to 8 bytes; its
// content is not needed here.
func skipSignatureHeader(data []byte, offset int) (int, *Error) {
	frame, ok := binutil.Slice(data, offset, 16)
	if !ok {
		return 0, structuralErr("RPM", "input too small for the signature header")
	}
	if !bytes.Equal(frame[:4], rpmHeaderMagic) {
		return 0, structuralErr("RPM", "corrupt signature header: magic mismatch")
	}
	indexCount, _ := binutil.U32BEAt(frame, 8)
	storeSize, _ := binutil.U32BEAt(frame, 12)
	if indexCount > rpmMaxIndexCount || storeSize > rpmMaxStoreSize {
		return 0, structuralErr("RPM", "corrupt signature header: implausible index or store size")
	}
	total := 16 + int(indexCount)*rpmIndexEntrySize + int(storeSize)
	padded := (total + 7) &^ 7
	return offset + padded, nil
}

// parseMainHeader walks the immutable header's index entries and resolves
// every well-known tag against the store. An individual tag that cannot be
// read is omitted; a broken header frame aborts.
func parseMainHeader(data []byte, offset int, f Fields) *Error {
	frame, ok := binutil.Slice(data, offset, 16)
	if !ok {
		return structuralErr("RPM", "input too small for the main header")
	}
	if !bytes.Equal(frame[:4], rpmHeaderMagic) {
		return structuralErr("RPM", "corrupt main header: magic mismatch")
	}
	indexCount, _ := binutil.U32BEAt(frame, 8)
	storeSize, _ := binutil.U32BEAt(frame, 12)
	if indexCount > rpmMaxIndexCount || storeSize > rpmMaxStoreSize {
		return structuralErr("RPM", "corrupt main header: implausible index or store size")
	}

	indexStart := offset + 16
	storeStart := indexStart + int(indexCount)*rpmIndexEntrySize
	store, ok := binutil.Slice(data, storeStart, int(storeSize))
	if !ok {
		return structuralErr("RPM", "main header store truncated")
	}

	for i := 0; i < int(indexCount); i++ {
		entry, ok := binutil.Slice(data, indexStart+i*rpmIndexEntrySize, rpmIndexEntrySize)
		if !ok {
			return structuralErr("RPM", "main header index truncated")
		}
		tag, _ := binutil.U32BEAt(entry, 0)
		dtype, _ := binutil.U32BEAt(entry, 4)
		storeOff, _ := binutil.U32BEAt(entry, 8)

		field, wanted := rpmTagFields[tag]
		if !wanted {
			continue
		}
		value, ok := resolveTagValue(store, int(storeOff), dtype)
		if !ok {
			logger.Debugf("rpm: tag %d unresolvable at store offset %d", tag, storeOff)
			continue
		}
		f.Set(field, value)
	}
	return nil
}

// resolveTagValue reads one tag's value from the store according to its
// declared type. String arrays and I18N strings yield their first entry
// (locale resolution is not attempted).
func resolveTagValue(store []byte, offset int, dtype uint32) (string, bool) {
	switch dtype {
	case rpmTypeString, rpmTypeStringArr, rpmTypeI18NString:
		return binutil.CStringAt(store, offset, len(store))
	case rpmTypeInt32:
		v, ok := binutil.U32BEAt(store, offset)
		if !ok {
			return "", false
		}
		return strconv.FormatUint(uint64(v), 10), true
	case rpmTypeInt16:
		b, ok := binutil.Slice(store, offset, 2)
		if !ok {
			return "", false
		}
		return strconv.FormatUint(uint64(b[0])<<8|uint64(b[1]), 10), true
	case rpmTypeInt64:
		v, ok := binutil.U64BEAt(store, offset)
		if !ok {
			return "", false
		}
		return strconv.FormatUint(v, 10), true
	}
	return "", false
}
