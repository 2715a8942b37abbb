package analyzer

import (
	"bytes"
	"fmt"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
	"github.com/deploymenttheory/go-installer-metadata/internal/sniff"
)

// Data directory indexes used by the decoder.
const (
	peDirExport      = 0
	peDirImport      = 1
	peDirResource    = 2
	peDirCertificate = 4
)

// Sanity caps against hostile counts read from the file itself.
const (
	peMaxSections    = 256
	peMaxImportDescs = 1024
	peMaxThunks      = 4096
	peMaxExports     = 8192
)

// Installer toolchain markers scanned for in the raw image.
var installerMarkers = []struct {
	name     string
	patterns [][]byte
}{
	{"Inno Setup", [][]byte{[]byte("Inno Setup"), []byte("InnoSetupVersion")}},
	{"NSIS (Nullsoft)", [][]byte{[]byte("Nullsoft Install System"), []byte("NSIS.Header")}},
	{"InstallShield", [][]byte{[]byte("Windows Installer"), []byte("InstallShield")}},
	{"WiX Toolset", [][]byte{[]byte("WiX Toolset"), []byte("Windows Installer XML")}},
	{"Wise Installer", [][]byte{[]byte("Wise Installation System")}},
	{"Setup Factory", [][]byte{[]byte("Setup Factory")}},
	{"Smart Install Maker", [][]byte{[]byte("Smart Install Maker")}},
}

var peMachineNames = map[uint16]string{
	0x14C:  "x86",
	0x8664: "x64",
	0x1C0:  "ARM",
	0x1C4:  "ARM64",
	0xAA64: "ARM64",
}

type peSection struct {
	name            string
	virtualAddress  uint32
	virtualSize     uint32
	rawDataSize     uint32
	rawDataPointer  uint32
	characteristics uint32
}

type peFile struct {
	data     []byte
	is64     bool
	sections []peSection
	dataDirs [][2]uint32 // rva, size
}

// decodePE walks DOS header, COFF file header, optional header and the
// section table. A header that cannot be located is a structural failure;
// failure to parse any single resource, string or signature only omits the
// corresponding fields.
func decodePE(data []byte) (Fields, *Error) {
	f := Fields{}

	lfanew, ok := binutil.U32At(data, 0x3C)
	if !ok {
		return nil, structuralErr("PE", "DOS header out of bounds")
	}
	c, err := binutil.At(data, int(lfanew))
	if err != nil {
		return nil, structuralErr("PE", "e_lfanew points outside the file")
	}
	sig, err := c.Bytes(4)
	if err != nil || !bytes.Equal(sig, []byte("PE\x00\x00")) {
		return nil, structuralErr("PE", "NT signature not found")
	}

	machine, _ := c.U16()
	numSections, _ := c.U16()
	timestamp, _ := c.U32()
	c.Skip(8) // symbol table pointer and count
	optSize, _ := c.U16()
	characteristics, err := c.U16()
	if err != nil {
		return nil, structuralErr("PE", "COFF file header truncated")
	}

	pe := &peFile{data: data}
	if aerr := pe.parseOptionalHeader(c.Pos(), int(optSize), f); aerr != nil {
		return nil, aerr
	}
	if aerr := pe.parseSections(c.Pos()+int(optSize), int(numSections)); aerr != nil {
		return nil, aerr
	}

	if arch, ok := peMachineNames[machine]; ok {
		f.Set(FieldArchitecture, arch)
	}
	f.Set("Machine", fmt.Sprintf("0x%04X", machine))
	f.SetInt("NumberOfSections", int64(numSections))
	f.Set("Characteristics", fmt.Sprintf("0x%04X", characteristics))
	if timestamp > 0 {
		f.SetInt("Timestamp", int64(timestamp))
	}

	sections := make([]map[string]interface{}, 0, len(pe.sections))
	for _, s := range pe.sections {
		sections = append(sections, map[string]interface{}{
			"name":            s.name,
			"virtual_address": s.virtualAddress,
			"virtual_size":    s.virtualSize,
			"raw_data_size":   s.rawDataSize,
			"characteristics": fmt.Sprintf("0x%08X", s.characteristics),
		})
	}
	if len(sections) > 0 {
		f["Sections"] = sections
	}

	// Everything below is best-effort: absorbed extraction failures leave
	// the fields unset.
	pe.extractImports(f)
	pe.extractExports(f)
	pe.extractVersionResource(f)
	pe.extractSignature(f)
	detectInstallerType(data, f)
	detectEmbeddedMSI(data, f)

	return f, nil
}

func (p *peFile) parseOptionalHeader(offset, size int, f Fields) *Error {
	if size < 2 {
		return structuralErr("PE", "optional header missing")
	}
	c, err := binutil.At(p.data, offset)
	if err != nil {
		return structuralErr("PE", "optional header out of bounds")
	}
	magic, err := c.U16()
	if err != nil {
		return structuralErr("PE", "optional header truncated")
	}
	switch magic {
	case 0x10B:
		p.is64 = false
	case 0x20B:
		p.is64 = true
	default:
		return structuralErr("PE", "unrecognized optional header magic 0x%04X", magic)
	}

	entryPoint, ok := binutil.U32At(p.data, offset+16)
	if ok && entryPoint > 0 {
		f.Set("EntryPoint", fmt.Sprintf("0x%08X", entryPoint))
	}
	if p.is64 {
		if base, ok := binutil.U64At(p.data, offset+24); ok {
			f.Set("ImageBase", fmt.Sprintf("0x%016X", base))
		}
	} else {
		if base, ok := binutil.U32At(p.data, offset+28); ok {
			f.Set("ImageBase", fmt.Sprintf("0x%08X", base))
		}
	}
	if size, ok := binutil.U32At(p.data, offset+56); ok && size > 0 {
		f.SetInt("SizeOfImage", int64(size))
	}
	if sub, ok := binutil.U16At(p.data, offset+68); ok {
		f.SetInt("Subsystem", int64(sub))
	}
	if dllc, ok := binutil.U16At(p.data, offset+70); ok && dllc != 0 {
		f.Set("DllCharacteristics", fmt.Sprintf("0x%04X", dllc))
	}

	dirCountOff := offset + 92
	dirTableOff := offset + 96
	if p.is64 {
		dirCountOff = offset + 108
		dirTableOff = offset + 112
	}
	dirCount, ok := binutil.U32At(p.data, dirCountOff)
	if !ok {
		return nil
	}
	if dirCount > 16 {
		dirCount = 16
	}
	for i := 0; i < int(dirCount); i++ {
		rva, ok1 := binutil.U32At(p.data, dirTableOff+i*8)
		sz, ok2 := binutil.U32At(p.data, dirTableOff+i*8+4)
		if !ok1 || !ok2 {
			break
		}
		p.dataDirs = append(p.dataDirs, [2]uint32{rva, sz})
	}
	return nil
}

func (p *peFile) parseSections(offset, count int) *Error {
	if count < 0 || count > peMaxSections {
		return structuralErr("PE", "implausible section count %d", count)
	}
	for i := 0; i < count; i++ {
		hdr, ok := binutil.Slice(p.data, offset+i*40, 40)
		if !ok {
			return structuralErr("PE", "section table out of bounds")
		}
		name := string(bytes.TrimRight(hdr[:8], "\x00"))
		c := binutil.NewCursor(hdr[8:])
		vsize, _ := c.U32()
		va, _ := c.U32()
		rawSize, _ := c.U32()
		rawPtr, _ := c.U32()
		chars, _ := binutil.U32At(hdr, 36)
		p.sections = append(p.sections, peSection{
			name:            name,
			virtualAddress:  va,
			virtualSize:     vsize,
			rawDataSize:     rawSize,
			rawDataPointer:  rawPtr,
			characteristics: chars,
		})
	}
	return nil
}

// rvaToOffset maps an RVA to a file offset through the section table.
// RVAs below the first section fall in the header region and map directly.
func (p *peFile) rvaToOffset(rva uint32) (int, bool) {
	for _, s := range p.sections {
		limit := s.virtualSize
		if s.rawDataSize > limit {
			limit = s.rawDataSize
		}
		if rva >= s.virtualAddress && rva < s.virtualAddress+limit {
			off := int(rva-s.virtualAddress) + int(s.rawDataPointer)
			if off < 0 || off >= len(p.data) {
				return 0, false
			}
			return off, true
		}
	}
	if len(p.sections) > 0 && rva < p.sections[0].virtualAddress && int(rva) < len(p.data) {
		return int(rva), true
	}
	return 0, false
}

func (p *peFile) directory(index int) (uint32, uint32, bool) {
	if index >= len(p.dataDirs) {
		return 0, 0, false
	}
	d := p.dataDirs[index]
	if d[0] == 0 || d[1] == 0 {
		return 0, 0, false
	}
	return d[0], d[1], true
}

// extractImports walks the import-descriptor array and each descriptor's
// thunk array, emitting "FunctionName (DllName)" entries. Ordinal-only
// imports render as "#<ordinal> (DllName)".
func (p *peFile) extractImports(f Fields) {
	rva, _, ok := p.directory(peDirImport)
	if !ok {
		return
	}
	var imports []string
	for i := 0; i < peMaxImportDescs; i++ {
		off, ok := p.rvaToOffset(rva + uint32(i*20))
		if !ok {
			break
		}
		desc, ok := binutil.Slice(p.data, off, 20)
		if !ok {
			break
		}
		origThunk, _ := binutil.U32At(desc, 0)
		nameRVA, _ := binutil.U32At(desc, 12)
		firstThunk, _ := binutil.U32At(desc, 16)
		if origThunk == 0 && nameRVA == 0 && firstThunk == 0 {
			break
		}
		dllOff, ok := p.rvaToOffset(nameRVA)
		if !ok {
			continue
		}
		dllName, _ := binutil.CStringAt(p.data, dllOff, 256)
		if dllName == "" {
			continue
		}

		thunkRVA := origThunk
		if thunkRVA == 0 {
			thunkRVA = firstThunk
		}
		imports = append(imports, p.walkThunks(thunkRVA, dllName)...)
	}
	if len(imports) > 0 {
		f["Imports"] = imports
	}
}

func (p *peFile) walkThunks(rva uint32, dllName string) []string {
	var out []string
	thunkSize := uint32(4)
	if p.is64 {
		thunkSize = 8
	}
	for i := 0; i < peMaxThunks; i++ {
		off, ok := p.rvaToOffset(rva + uint32(i)*thunkSize)
		if !ok {
			break
		}
		var value uint64
		var ordinalFlag bool
		if p.is64 {
			v, ok := binutil.U64At(p.data, off)
			if !ok {
				break
			}
			value, ordinalFlag = v, v&0x8000000000000000 != 0
		} else {
			v, ok := binutil.U32At(p.data, off)
			if !ok {
				break
			}
			value, ordinalFlag = uint64(v), v&0x80000000 != 0
		}
		if value == 0 {
			break
		}
		if ordinalFlag {
			out = append(out, fmt.Sprintf("#%d (%s)", value&0xFFFF, dllName))
			continue
		}
		nameOff, ok := p.rvaToOffset(uint32(value))
		if !ok {
			continue
		}
		// hint/name entry: 2-byte hint then the NUL-terminated name
		name, _ := binutil.CStringAt(p.data, nameOff+2, 512)
		if name != "" {
			out = append(out, fmt.Sprintf("%s (%s)", name, dllName))
		}
	}
	return out
}

// extractExports walks the export directory's name-pointer table. Empty for
// non-exporting images.
func (p *peFile) extractExports(f Fields) {
	rva, _, ok := p.directory(peDirExport)
	if !ok {
		return
	}
	off, ok := p.rvaToOffset(rva)
	if !ok {
		return
	}
	dir, ok := binutil.Slice(p.data, off, 40)
	if !ok {
		return
	}
	numNames, _ := binutil.U32At(dir, 24)
	namesRVA, _ := binutil.U32At(dir, 32)
	if numNames > peMaxExports {
		numNames = peMaxExports
	}
	var exports []string
	for i := uint32(0); i < numNames; i++ {
		ptrOff, ok := p.rvaToOffset(namesRVA + i*4)
		if !ok {
			break
		}
		nameRVA, ok := binutil.U32At(p.data, ptrOff)
		if !ok {
			break
		}
		nameOff, ok := p.rvaToOffset(nameRVA)
		if !ok {
			continue
		}
		if name, _ := binutil.CStringAt(p.data, nameOff, 512); name != "" {
			exports = append(exports, name)
		}
	}
	if len(exports) > 0 {
		f["Exports"] = exports
	}
}

// detectInstallerType scans the raw image for known installer toolchain
// markers. Heuristic by nature; a miss leaves the field unset.
func detectInstallerType(data []byte, f Fields) {
	for _, m := range installerMarkers {
		for _, pat := range m.patterns {
			if bytes.Contains(data, pat) {
				f.Set(FieldInstallerType, m.name)
				return
			}
		}
	}
}

// detectEmbeddedMSI flags a CFB signature embedded past offset zero and
// best-effort decodes the embedded database to fill still-empty fields.
func detectEmbeddedMSI(data []byte, f Fields) {
	if len(data) < 2 {
		return
	}
	pos := bytes.Index(data[1:], sniff.MagicCFB)
	if pos < 0 {
		return
	}
	offset := pos + 1
	f.SetBool("EmbeddedMSI", true)
	f.SetInt("MSIOffset", int64(offset))

	embedded, aerr := decodeMSI(data[offset:])
	if aerr != nil {
		logger.Debugf("embedded MSI at offset %d not decodable: %v", offset, aerr)
		return
	}
	for _, key := range []string{FieldProductName, FieldManufacturer, FieldProductVersion} {
		if _, exists := f[key]; exists {
			continue
		}
		if v, ok := embedded[key].(string); ok && v != "" {
			f.Set(key, v)
		}
	}
}
