package analyzer

import (
	"bytes"
	"encoding/binary"

	"howett.net/plist"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
	"github.com/deploymenttheory/go-installer-metadata/internal/sniff"
)

// UDIF block-chunk entry types. The high bit marks compressed codecs.
const (
	blkxChunkZeroFill   = 0x00000000
	blkxChunkRaw        = 0x00000001
	blkxChunkIgnored    = 0x00000002
	blkxChunkADC        = 0x80000004
	blkxChunkZlib       = 0x80000005
	blkxChunkBzip2      = 0x80000006
	blkxChunkLZFSE      = 0x80000007
	blkxChunkLZMA       = 0x80000008
	blkxChunkComment    = 0x7FFFFFFE
	blkxChunkTerminator = 0xFFFFFFFF
)

// mish block table: fixed 200-byte header (signature through checksum)
// followed by the chunk count and 40-byte chunk entries.
const (
	mishSignature  = "mish"
	mishHeaderSize = 200
	mishChunkSize  = 40
	mishMaxChunks  = 1 << 16
)

// CDSA encryption wrapper prologue (v2 images).
var magicEncrCDSA = []byte("encrcdsa")

// kolyTrailer is the 512-byte UDIF trailer, stored big-endian at the end of
// the image.
type kolyTrailer struct {
	Signature        [4]byte
	Version          uint32
	HeaderSize       uint32
	Flags            uint32
	RunningDataFork  uint64
	DataForkOffset   uint64
	DataForkLength   uint64
	RsrcForkOffset   uint64
	RsrcForkLength   uint64
	SegmentNumber    uint32
	SegmentCount     uint32
	SegmentID        [16]byte
	DataChecksumType uint32
	DataChecksumSize uint32
	DataChecksum     [128]byte
	XMLOffset        uint64
	XMLLength        uint64
	Reserved         [120]byte
	ChecksumType     uint32
	ChecksumSize     uint32
	Checksum         [128]byte
	ImageVariant     uint32
	SectorCount      uint64
	Reserved2        [12]byte
}

type blkxChunk struct {
	Type             uint32
	Comment          uint32
	SectorNumber     uint64
	SectorCount      uint64
	CompressedOffset uint64
	CompressedLength uint64
}

// dmgResourceFork is the shape of the XML property list the trailer points
// at: a resource-fork dictionary whose blkx entries each carry a mish block
// table in their Data field.
type dmgResourceFork struct {
	ResourceFork struct {
		Blkx []struct {
			ID   string `plist:"ID"`
			Name string `plist:"Name"`
			Data []byte `plist:"Data"`
		} `plist:"blkx"`
	} `plist:"resource-fork"`
}

// decodeDMG parses the UDIF trailer, determines the dominant compression
// codec from the blkx tables, and scans embedded content for application
// bundle metadata and Mach-O architectures. Encrypted images are a dedicated
// unsupported error; a missing trailer is an unrecognized (non-UDIF) image.
func decodeDMG(data []byte) (Fields, *Error) {
	if bytes.HasPrefix(data, magicEncrCDSA) {
		return nil, unsupportedErr("DMG", "encrypted disk image: contents are not readable")
	}

	off, ok := sniff.KolyOffset(data)
	if !ok {
		return nil, structuralErr("DMG", "no UDIF trailer found: unrecognized disk image format")
	}

	var trailer kolyTrailer
	if err := binary.Read(bytes.NewReader(data[off:off+512]), binary.BigEndian, &trailer); err != nil {
		return nil, structuralErr("DMG", "unreadable UDIF trailer: %v", err)
	}
	if string(trailer.Signature[:]) != "koly" {
		return nil, structuralErr("DMG", "UDIF trailer signature mismatch")
	}

	f := Fields{}
	f.SetInt("DMGVersion", int64(trailer.Version))
	f.SetInt("SectorCount", int64(trailer.SectorCount))
	f.SetInt("DataForkLength", int64(trailer.DataForkLength))
	if trailer.DataForkOffset > 0 {
		f.SetInt("DataForkOffset", int64(trailer.DataForkOffset))
	}
	if trailer.SegmentCount > 1 {
		f.SetInt("SegmentCount", int64(trailer.SegmentCount))
	}

	chunks := readBlkxChunks(data, trailer)
	if codec := dominantCodec(chunks); codec != "" {
		f.Set("Compression", codec)
	} else if codec := sniffPrologueCodec(data); codec != "" {
		// no usable block table; classify from the data-fork prologue
		f.Set("Compression", codec)
	}

	extractBundleInfo(data, chunks, f)
	return f, nil
}

// readBlkxChunks parses the trailer's XML property list and flattens every
// blkx table's chunk entries. Any failure yields nil; compression detection
// then falls back to the prologue.
func readBlkxChunks(data []byte, trailer kolyTrailer) []blkxChunk {
	xml, ok := binutil.Slice(data, int(trailer.XMLOffset), int(trailer.XMLLength))
	if !ok || len(xml) == 0 {
		return nil
	}
	var fork dmgResourceFork
	if _, err := plist.Unmarshal(xml, &fork); err != nil {
		logger.Debugf("dmg: resource plist unparseable: %v", err)
		return nil
	}

	var chunks []blkxChunk
	for _, b := range fork.ResourceFork.Blkx {
		for _, c := range parseMishTable(b.Data) {
			// chunk offsets are relative to the data fork
			c.CompressedOffset += trailer.DataForkOffset
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// parseMishTable reads one blkx Data blob: the mish header, the chunk count,
// then fixed 40-byte chunk entries.
func parseMishTable(data []byte) []blkxChunk {
	if len(data) < mishHeaderSize+4 || string(data[:4]) != mishSignature {
		return nil
	}
	count, _ := binutil.U32BEAt(data, mishHeaderSize)
	if count > mishMaxChunks {
		return nil
	}
	chunks := make([]blkxChunk, 0, count)
	for i := 0; i < int(count); i++ {
		entry, ok := binutil.Slice(data, mishHeaderSize+4+i*mishChunkSize, mishChunkSize)
		if !ok {
			break
		}
		chunks = append(chunks, blkxChunk{
			Type:             binary.BigEndian.Uint32(entry[0:]),
			Comment:          binary.BigEndian.Uint32(entry[4:]),
			SectorNumber:     binary.BigEndian.Uint64(entry[8:]),
			SectorCount:      binary.BigEndian.Uint64(entry[16:]),
			CompressedOffset: binary.BigEndian.Uint64(entry[24:]),
			CompressedLength: binary.BigEndian.Uint64(entry[32:]),
		})
	}
	return chunks
}

// dominantCodec tallies compressed bytes per chunk type and names the codec
// carrying the most data. Bookkeeping chunk types do not count.
func dominantCodec(chunks []blkxChunk) string {
	totals := map[string]uint64{}
	for _, c := range chunks {
		name := codecName(c.Type)
		if name == "" {
			continue
		}
		totals[name] += c.CompressedLength
	}
	best, bestTotal := "", uint64(0)
	for name, total := range totals {
		if total > bestTotal || (total == bestTotal && name < best) {
			best, bestTotal = name, total
		}
	}
	return best
}

func codecName(chunkType uint32) string {
	switch chunkType {
	case blkxChunkRaw:
		return "none"
	case blkxChunkADC:
		return "adc"
	case blkxChunkZlib:
		return "zlib"
	case blkxChunkBzip2:
		return "bzip2"
	case blkxChunkLZFSE:
		return "lzfse"
	case blkxChunkLZMA:
		return "lzma"
	}
	return ""
}

// sniffPrologueCodec classifies the data-fork prologue by magic bytes when no
// block table could be read.
func sniffPrologueCodec(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case data[0] == 0x78 && (data[1] == 0x01 || data[1] == 0x5E || data[1] == 0x9C || data[1] == 0xDA):
		return "zlib"
	case data[0] == 0x1F && data[1] == 0x8B:
		return "gzip"
	case bytes.HasPrefix(data, []byte("BZh")):
		return "bzip2"
	case bytes.HasPrefix(data, []byte("bvx")):
		return "lzfse"
	case data[0] == 0x00 && data[1] == 0x00:
		return "none"
	}
	return ""
}
