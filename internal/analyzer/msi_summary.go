package analyzer

import (
	"strings"
	"time"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

// OLE property set variant types used in SummaryInformation.
const (
	vtI2       = 2
	vtI4       = 3
	vtLPStr    = 30
	vtFiletime = 64
)

// Summary-information property IDs.
const (
	pidTitle        = 2
	pidSubject      = 3
	pidAuthor       = 4
	pidKeywords     = 5
	pidComments     = 6
	pidTemplate     = 7
	pidRevision     = 9
	pidPageCount    = 14
	pidWordCount    = 15
	pidCreateTime   = 12
	pidLastSaveTime = 13
)

// FILETIME counts 100ns ticks since 1601-01-01; this is the offset to the
// Unix epoch in those ticks.
const filetimeUnixEpoch = 116444736000000000

// parseSummaryInfo reads the \x05SummaryInformation OLE property set.
// Subject and Author double as the product name and manufacturer when the
// Property table did not provide them; the revision number is the package
// code. A malformed set only omits its fields.
func parseSummaryInfo(stream []byte, f Fields) {
	if stream == nil {
		return
	}
	props, err := readPropertySet(stream)
	if err != nil {
		logger.Debugf("msi: summary information unreadable: %v", err)
		return
	}

	for pid, value := range props {
		switch pid {
		case pidTitle:
			if s, ok := value.(string); ok {
				f.Set(FieldTitle, s)
			}
		case pidSubject:
			if s, ok := value.(string); ok {
				if f[FieldProductName] == nil {
					f.Set(FieldProductName, s)
				} else if s != f[FieldProductName] {
					f.Set("Subject", s)
				}
			}
		case pidAuthor:
			if s, ok := value.(string); ok {
				if f[FieldManufacturer] == nil {
					f.Set(FieldManufacturer, s)
				} else if s != f[FieldManufacturer] {
					f.Set("Author", s)
				}
			}
		case pidKeywords:
			if s, ok := value.(string); ok {
				f.Set(FieldKeywords, s)
			}
		case pidComments:
			if s, ok := value.(string); ok {
				f.Set(FieldComments, s)
			}
		case pidTemplate:
			if s, ok := value.(string); ok {
				if arch := msiArchFromTemplate(s); arch != "" {
					f.Set(FieldArchitecture, arch)
				}
			}
		case pidRevision:
			if s, ok := value.(string); ok {
				// the revision number property holds the package code GUID
				f.Set(FieldPackageCode, strings.TrimSpace(s))
			}
		case pidCreateTime:
			if t, ok := value.(time.Time); ok {
				f.Set("CreateTime", t.UTC().Format(time.RFC3339))
			}
		case pidLastSaveTime:
			if t, ok := value.(time.Time); ok {
				f.Set("LastSaveTime", t.UTC().Format(time.RFC3339))
			}
		}
	}
}

// readPropertySet parses the single-section OLE property set layout:
// a stream header, one FMTID/offset pair, then a section of
// (propID, offset) pairs pointing at typed values.
func readPropertySet(stream []byte) (map[uint32]interface{}, error) {
	c := binutil.NewCursor(stream)
	byteOrder, err := c.U16()
	if err != nil || byteOrder != 0xFFFE {
		return nil, binutil.ErrOutOfBounds
	}
	// version, system identifier, CLSID
	if err := c.Skip(2 + 4 + 16); err != nil {
		return nil, err
	}
	numSets, err := c.U32()
	if err != nil || numSets == 0 {
		return nil, binutil.ErrOutOfBounds
	}
	// first set: FMTID then section offset
	if err := c.Skip(16); err != nil {
		return nil, err
	}
	sectionOff, err := c.U32()
	if err != nil {
		return nil, err
	}

	sec, err := binutil.At(stream, int(sectionOff))
	if err != nil {
		return nil, err
	}
	if err := sec.Skip(4); err != nil { // section byte size
		return nil, err
	}
	numProps, err := sec.U32()
	if err != nil || numProps > 64 {
		return nil, binutil.ErrOutOfBounds
	}

	props := map[uint32]interface{}{}
	for i := uint32(0); i < numProps; i++ {
		pid, err1 := sec.U32()
		off, err2 := sec.U32()
		if err1 != nil || err2 != nil {
			break
		}
		value, ok := readPropertyValue(stream, int(sectionOff)+int(off))
		if ok {
			props[pid] = value
		}
	}
	return props, nil
}

func readPropertyValue(stream []byte, offset int) (interface{}, bool) {
	c, err := binutil.At(stream, offset)
	if err != nil {
		return nil, false
	}
	vt, err := c.U32()
	if err != nil {
		return nil, false
	}
	switch vt {
	case vtI2:
		v, err := c.U16()
		if err != nil {
			return nil, false
		}
		return int64(int16(v)), true
	case vtI4:
		v, err := c.U32()
		if err != nil {
			return nil, false
		}
		return int64(int32(v)), true
	case vtLPStr:
		n, err := c.U32()
		if err != nil || n > msiMaxStreamSize {
			return nil, false
		}
		raw, err := c.Bytes(int(n))
		if err != nil {
			return nil, false
		}
		return strings.TrimRight(string(raw), "\x00"), true
	case vtFiletime:
		ticks, err := c.U64()
		if err != nil || ticks < filetimeUnixEpoch {
			return nil, false
		}
		secs := int64(ticks-filetimeUnixEpoch) / 10_000_000
		return time.Unix(secs, 0), true
	}
	return nil, false
}
