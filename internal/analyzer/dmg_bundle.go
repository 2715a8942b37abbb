package analyzer

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"howett.net/plist"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

// Bounds on speculative content scanning. An image's interesting plists and
// executables sit near the front, so a handful of chunks is enough.
const (
	bundleMaxChunks    = 12
	bundleMaxChunkIn   = 4 << 20
	bundleMaxChunkOut  = 4 << 20
	bundleMaxPlistSize = 1 << 20
)

var (
	plistXMLPrologue = []byte("<?xml version=")
	plistXMLEpilogue = []byte("</plist>")
	plistBinPrologue = []byte("bplist00")
)

// Info.plist keys copied into the result, in canonical spelling.
var bundlePlistKeys = map[string]string{
	"CFBundleName":               FieldProductName,
	"CFBundleDisplayName":        "DisplayName",
	"CFBundleIdentifier":         "BundleIdentifier",
	"CFBundleShortVersionString": FieldProductVersion,
	"CFBundleVersion":            FieldFileVersion,
	"CFBundleExecutable":         "ExecutableName",
	"CFBundleGetInfoString":      "FileDescription",
	"CFBundlePackageType":        "PackageType",
	"CFBundleIconFile":           "IconFile",
	"LSMinimumSystemVersion":     "MinimumOSVersion",
	"NSPrincipalClass":           "PrincipalClass",
	"NSHumanReadableCopyright":   "LegalCopyright",
}

// extractBundleInfo scans raw image bytes and a bounded amount of
// decompressed chunk content for an application bundle's Info.plist and for
// Mach-O executables. Everything here is best-effort.
func extractBundleInfo(data []byte, chunks []blkxChunk, f Fields) {
	buffers := [][]byte{data}
	buffers = append(buffers, decompressLeadingChunks(data, chunks)...)

	for _, buf := range buffers {
		if scanForBundlePlist(buf, f) {
			break
		}
	}
	if _, ok := f[FieldPublisher]; !ok {
		if copyright, ok := f["LegalCopyright"].(string); ok {
			f.Set(FieldPublisher, publisherFromCopyright(copyright))
		}
	}

	for _, buf := range buffers {
		if archs := scanMachOArchitectures(buf); len(archs) > 0 {
			if len(archs) > 1 {
				f.Set(FieldArchitecture, "Universal")
				f["Architectures"] = archs
			} else {
				f.Set(FieldArchitecture, archs[0])
			}
			break
		}
	}
}

// decompressLeadingChunks inflates the first few zlib/bzip2 chunks so the
// plist and Mach-O scans can see inside compressed images. Raw chunks are
// visible in data already and are skipped.
func decompressLeadingChunks(data []byte, chunks []blkxChunk) [][]byte {
	var out [][]byte
	seen := 0
	for _, c := range chunks {
		if seen >= bundleMaxChunks {
			break
		}
		if c.Type != blkxChunkZlib && c.Type != blkxChunkBzip2 {
			continue
		}
		n := int(c.CompressedLength)
		if n > bundleMaxChunkIn {
			n = bundleMaxChunkIn
		}
		raw, ok := binutil.Slice(data, int(c.CompressedOffset), n)
		if !ok {
			continue
		}
		seen++

		var r io.Reader
		if c.Type == blkxChunkZlib {
			zr, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				continue
			}
			r = zr
		} else {
			r = bzip2.NewReader(bytes.NewReader(raw))
		}
		buf, err := io.ReadAll(io.LimitReader(r, bundleMaxChunkOut))
		if err != nil && len(buf) == 0 {
			logger.Debugf("dmg: chunk at %d undecompressable: %v", c.CompressedOffset, err)
			continue
		}
		out = append(out, buf)
	}
	return out
}

// scanForBundlePlist locates an embedded Info.plist, XML or binary, and maps
// its keys onto the result. Returns true once a plist with bundle keys was
// consumed.
func scanForBundlePlist(buf []byte, f Fields) bool {
	for search := buf; ; {
		i := bytes.Index(search, plistXMLPrologue)
		if i < 0 {
			break
		}
		region := search[i:]
		end := bytes.Index(region, plistXMLEpilogue)
		if end < 0 || end > bundleMaxPlistSize {
			search = search[i+1:]
			continue
		}
		doc := region[:end+len(plistXMLEpilogue)]
		if bytes.Contains(doc, []byte("CFBundle")) && consumePlist(doc, f) {
			return true
		}
		search = region[end:]
	}

	// binary plists carry their offset table at the very end of the slice,
	// so a candidate runs from the marker to the end of the buffer
	if i := bytes.Index(buf, plistBinPrologue); i >= 0 && len(buf)-i <= bundleMaxPlistSize {
		return consumePlist(buf[i:], f)
	}
	return false
}

func consumePlist(doc []byte, f Fields) bool {
	var dict map[string]interface{}
	if _, err := plist.Unmarshal(doc, &dict); err != nil {
		return false
	}
	found := false
	for key, field := range bundlePlistKeys {
		if v, ok := dict[key].(string); ok && v != "" {
			f.Set(field, strings.TrimSpace(v))
			found = true
		}
	}
	return found
}

// publisherFromCopyright pulls the organisation name out of a copyright
// string like "Copyright © 2024 Example Corp. All rights reserved."
func publisherFromCopyright(s string) string {
	i := strings.Index(s, "Copyright")
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(s[i+len("Copyright"):], " \t©()0123456789-,")
	for _, stop := range []string{".", "\n", ","} {
		if j := strings.Index(rest, stop); j >= 0 {
			rest = rest[:j]
		}
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 3 || len(rest) > 100 {
		return ""
	}
	return rest
}

// Mach-O magic numbers, including the byte-swapped spellings that appear
// when scanning without knowing the file's endianness.
const (
	machoMagic32    = 0xFEEDFACE
	machoMagic64    = 0xFEEDFACF
	machoCigam32    = 0xCEFAEDFE
	machoCigam64    = 0xCFFAEDFE
	machoFatMagic   = 0xCAFEBABE
	machoMaxFatArch = 128
)

var machoCPUNames = map[uint32]string{
	7:          "x86",
	0x01000007: "x86_64",
	12:         "arm",
	0x0100000C: "arm64",
	18:         "ppc",
	0x01000012: "ppc64",
}

// scanMachOArchitectures looks for Mach-O headers in buf and reports the
// distinct architectures found. A fat (universal) header contributes every
// slot it declares.
func scanMachOArchitectures(buf []byte) []string {
	found := map[string]bool{}
	for i := 0; i+8 <= len(buf); i++ {
		be := binary.BigEndian.Uint32(buf[i:])
		le := binary.LittleEndian.Uint32(buf[i:])

		if be == machoFatMagic {
			for _, name := range fatArchitectures(buf[i:]) {
				found[name] = true
			}
			continue
		}
		// thin headers: cputype follows the magic in the header's own
		// byte order
		switch le {
		case machoMagic32, machoMagic64:
			if name, ok := machoCPUNames[binary.LittleEndian.Uint32(buf[i+4:])]; ok {
				found[name] = true
			}
		case machoCigam32, machoCigam64:
			if name, ok := machoCPUNames[binary.BigEndian.Uint32(buf[i+4:])]; ok {
				found[name] = true
			}
		}
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fatArchitectures reads a universal binary's slot table: a big-endian count
// followed by fat_arch records whose first field is the CPU type.
func fatArchitectures(buf []byte) []string {
	count, ok := binutil.U32BEAt(buf, 4)
	if !ok || count == 0 || count > machoMaxFatArch {
		return nil
	}
	var names []string
	for i := 0; i < int(count); i++ {
		cpu, ok := binutil.U32BEAt(buf, 8+i*20)
		if !ok {
			return nil
		}
		name, known := machoCPUNames[cpu]
		if !known {
			return nil // not a real fat header after all
		}
		names = append(names, name)
	}
	return names
}
