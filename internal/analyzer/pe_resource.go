package analyzer

import (
	"fmt"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

const (
	rtVersion          = 16
	resourceMaxDepth   = 3 // type / name / language
	resourceMaxEntries = 1024
	fixedFileInfoSig   = 0xFEEF04BD
)

// Version-string keys copied into the result when the first non-empty
// StringTable carries them.
var versionStringKeys = []string{
	FieldCompanyName, FieldProductName, FieldFileVersion, FieldProductVersion,
	"FileDescription", "InternalName", "OriginalFilename", "LegalCopyright",
	FieldComments, "PrivateBuild", "SpecialBuild",
}

// extractVersionResource locates RT_VERSION in the resource directory tree
// and parses the VS_VERSIONINFO block. Any failure here is absorbed: the
// version fields are simply omitted.
func (p *peFile) extractVersionResource(f Fields) {
	rootRVA, _, ok := p.directory(peDirResource)
	if !ok {
		return
	}
	rootOff, ok := p.rvaToOffset(rootRVA)
	if !ok {
		return
	}
	dataEntryOff, ok := p.findResourceData(rootOff, rootOff, rtVersion, 0)
	if !ok {
		return
	}
	dataRVA, ok1 := binutil.U32At(p.data, dataEntryOff)
	dataSize, ok2 := binutil.U32At(p.data, dataEntryOff+4)
	if !ok1 || !ok2 {
		return
	}
	dataOff, ok := p.rvaToOffset(dataRVA)
	if !ok {
		return
	}
	block, ok := binutil.Slice(p.data, dataOff, int(dataSize))
	if !ok {
		return
	}
	if err := parseVersionInfo(block, f); err != nil {
		logger.Debugf("version resource unparseable: %v", err)
	}
}

// findResourceData descends the resource directory. At the top level it
// selects the typeID entry; below that it takes the first child, matching
// the "first language/codepage block" rule. The tree has a fixed depth, so
// recursion is bounded by resourceMaxDepth.
func (p *peFile) findResourceData(rootOff, dirOff int, typeID uint32, depth int) (int, bool) {
	if depth > resourceMaxDepth {
		return 0, false
	}
	numNamed, ok1 := binutil.U16At(p.data, dirOff+12)
	numID, ok2 := binutil.U16At(p.data, dirOff+14)
	if !ok1 || !ok2 {
		return 0, false
	}
	total := int(numNamed) + int(numID)
	if total > resourceMaxEntries {
		return 0, false
	}
	for i := 0; i < total; i++ {
		entryOff := dirOff + 16 + i*8
		id, ok1 := binutil.U32At(p.data, entryOff)
		target, ok2 := binutil.U32At(p.data, entryOff+4)
		if !ok1 || !ok2 {
			return 0, false
		}
		if depth == 0 && (id&0x80000000 != 0 || id != typeID) {
			continue // named entries and other type IDs
		}
		childOff := rootOff + int(target&0x7FFFFFFF)
		if target&0x80000000 != 0 {
			if found, ok := p.findResourceData(rootOff, childOff, typeID, depth+1); ok {
				return found, true
			}
			if depth > 0 {
				return 0, false
			}
			continue
		}
		return childOff, true
	}
	return 0, false
}

// parseVersionInfo walks a VS_VERSIONINFO block: the fixed VS_FIXEDFILEINFO
// numeric versions, then the StringFileInfo children of the first non-empty
// language/codepage table.
func parseVersionInfo(block []byte, f Fields) error {
	c := binutil.NewCursor(block)
	length, valueLen, _, key, err := readVersionBlockHeader(c)
	if err != nil {
		return err
	}
	if key != "VS_VERSION_INFO" {
		return fmt.Errorf("unexpected root key %q", key)
	}
	if int(length) > len(block) {
		length = uint16(len(block))
	}

	if valueLen >= 52 {
		fixedOff := align4(c.Pos())
		if sig, ok := binutil.U32At(block, fixedOff); ok && sig == fixedFileInfoSig {
			fileMS, _ := binutil.U32At(block, fixedOff+8)
			fileLS, _ := binutil.U32At(block, fixedOff+12)
			prodMS, _ := binutil.U32At(block, fixedOff+16)
			prodLS, _ := binutil.U32At(block, fixedOff+20)
			f.Set("FileVersionNumber", dottedVersion(fileMS, fileLS))
			f.Set("ProductVersionNumber", dottedVersion(prodMS, prodLS))
		}
		c.Seek(align4(c.Pos()) + int(valueLen))
	}

	// children: StringFileInfo and VarFileInfo blocks
	for c.Pos() < int(length) {
		childStart := align4(c.Pos())
		if err := c.Seek(childStart); err != nil {
			break
		}
		childLen, _, _, childKey, err := readVersionBlockHeader(c)
		if err != nil || childLen == 0 {
			break
		}
		childEnd := childStart + int(childLen)
		if childEnd > len(block) {
			childEnd = len(block)
		}
		if childKey == "StringFileInfo" {
			parseStringFileInfo(block, c.Pos(), childEnd, f)
		}
		if err := c.Seek(childEnd); err != nil {
			break
		}
	}
	return nil
}

// parseStringFileInfo picks the first language/codepage table that yields at
// least one non-empty string.
func parseStringFileInfo(block []byte, pos, end int, f Fields) {
	for pos < end {
		tableStart := align4(pos)
		c, err := binutil.At(block, tableStart)
		if err != nil {
			return
		}
		tableLen, _, _, _, err := readVersionBlockHeader(c)
		if err != nil || tableLen == 0 {
			return
		}
		tableEnd := tableStart + int(tableLen)
		if tableEnd > end {
			tableEnd = end
		}
		strings := parseStringTable(block, c.Pos(), tableEnd)
		if len(strings) > 0 {
			for _, key := range versionStringKeys {
				f.Set(key, strings[key])
			}
			return
		}
		pos = tableEnd
	}
}

func parseStringTable(block []byte, pos, end int) map[string]string {
	out := map[string]string{}
	for pos < end {
		entryStart := align4(pos)
		c, err := binutil.At(block, entryStart)
		if err != nil {
			break
		}
		entryLen, valueLen, _, key, err := readVersionBlockHeader(c)
		if err != nil || entryLen == 0 {
			break
		}
		entryEnd := entryStart + int(entryLen)
		if entryEnd > end {
			entryEnd = end
		}
		if valueLen > 0 {
			if err := c.Seek(align4(c.Pos())); err == nil {
				// wValueLength counts UTF-16 code units for string entries
				if value, err := c.UTF16String(int(valueLen)); err == nil && value != "" {
					out[key] = value
				}
			}
		}
		pos = entryEnd
	}
	return out
}

// readVersionBlockHeader reads the common wLength/wValueLength/wType/szKey
// prefix shared by every block in a version resource.
func readVersionBlockHeader(c *binutil.Cursor) (length, valueLen, blockType uint16, key string, err error) {
	if length, err = c.U16(); err != nil {
		return
	}
	if valueLen, err = c.U16(); err != nil {
		return
	}
	if blockType, err = c.U16(); err != nil {
		return
	}
	// szKey is NUL-terminated UTF-16; read unit by unit
	var units int
	for {
		u, uerr := c.U16()
		if uerr != nil {
			err = uerr
			return
		}
		if u == 0 {
			break
		}
		key += string(rune(u))
		units++
		if units > 128 {
			err = fmt.Errorf("runaway version block key")
			return
		}
	}
	return
}

func align4(n int) int { return (n + 3) &^ 3 }

func dottedVersion(ms, ls uint32) string {
	if ms == 0 && ls == 0 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
}
