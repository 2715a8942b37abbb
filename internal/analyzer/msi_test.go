package analyzer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildStringPool assembles !_StringPool / !_StringData streams holding the
// given ANSI strings.
func buildStringPool(strs ...string) (pool, data []byte) {
	pool = make([]byte, 4) // codepage 0, narrow refs
	for _, s := range strs {
		rec := make([]byte, 4)
		binary.LittleEndian.PutUint16(rec, uint16(len(s)))
		binary.LittleEndian.PutUint16(rec[2:], 1)
		pool = append(pool, rec...)
		data = append(data, s...)
	}
	return pool, data
}

func TestParseStringPool(t *testing.T) {
	t.Parallel()

	pool, data := buildStringPool("ProductName", "Example App", "1.2.3")
	sp, err := parseStringPool(pool, data)
	require.NoError(t, err)
	require.Equal(t, 2, sp.refWidth)

	s, ok := sp.lookup(1)
	require.True(t, ok)
	require.Equal(t, "ProductName", s)
	s, ok = sp.lookup(3)
	require.True(t, ok)
	require.Equal(t, "1.2.3", s)

	// index 0 is the reserved empty string
	s, ok = sp.lookup(0)
	require.True(t, ok)
	require.Empty(t, s)

	_, ok = sp.lookup(4)
	require.False(t, ok)
}

func TestParseStringPoolUTF16(t *testing.T) {
	t.Parallel()

	pool := make([]byte, 4)
	binary.LittleEndian.PutUint32(pool, 1200) // UTF-16 codepage
	rec := make([]byte, 4)
	binary.LittleEndian.PutUint16(rec, 4) // byte length
	binary.LittleEndian.PutUint16(rec[2:], 1)
	pool = append(pool, rec...)
	data := []byte{'H', 0, 'i', 0}

	sp, err := parseStringPool(pool, data)
	require.NoError(t, err)
	s, ok := sp.lookup(1)
	require.True(t, ok)
	require.Equal(t, "Hi", s)
}

func TestParseStringPoolOverrun(t *testing.T) {
	t.Parallel()

	// record claims 100 bytes but the data stream holds 3
	pool := make([]byte, 4)
	rec := make([]byte, 4)
	binary.LittleEndian.PutUint16(rec, 100)
	binary.LittleEndian.PutUint16(rec[2:], 1)
	pool = append(pool, rec...)

	_, err := parseStringPool(pool, []byte("abc"))
	require.Error(t, err)
}

func TestParseStringPoolAbsent(t *testing.T) {
	t.Parallel()

	_, err := parseStringPool(nil, nil)
	require.Error(t, err)
	_, err = parseStringPool([]byte{0, 0}, nil)
	require.Error(t, err)
}

// buildTableStream lays rows out column-major, the MSI on-disk order.
func buildTableStream(schema []msiColumn, sp *msiStringPool, rows [][]uint32) []byte {
	var out []byte
	for j, col := range schema {
		w := col.width(sp)
		for i := range rows {
			cell := make([]byte, 4)
			binary.LittleEndian.PutUint32(cell, rows[i][j])
			out = append(out, cell[:w]...)
		}
	}
	return out
}

func TestReadTableRows(t *testing.T) {
	t.Parallel()

	pool, data := buildStringPool("ProductName", "Example App", "ProductVersion", "2.0")
	sp, err := parseStringPool(pool, data)
	require.NoError(t, err)

	schema := []msiColumn{
		{name: "Property", stringRef: true},
		{name: "Value", stringRef: true},
	}
	stream := buildTableStream(schema, sp, [][]uint32{{1, 2}, {3, 4}})

	rows, err := readTableRows(stream, schema, sp)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"ProductName", "Example App"},
		{"ProductVersion", "2.0"},
	}, rows)
}

func TestReadTableRowsBadReferenceDropsRow(t *testing.T) {
	t.Parallel()

	pool, data := buildStringPool("Key", "Value")
	sp, err := parseStringPool(pool, data)
	require.NoError(t, err)

	schema := []msiColumn{
		{name: "Property", stringRef: true},
		{name: "Value", stringRef: true},
	}
	// second row references pool index 999, which does not exist
	stream := buildTableStream(schema, sp, [][]uint32{{1, 2}, {999, 2}})

	rows, err := readTableRows(stream, schema, sp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []string{"Key", "Value"}, rows[0])
}

func TestDecodePropertyTable(t *testing.T) {
	t.Parallel()

	pool, data := buildStringPool(
		"ProductName", "Example App",
		"ProductVersion", "2.0.1",
		"Manufacturer", "Example Corp",
		"ArbitraryKey", "ignored",
	)
	sp, err := parseStringPool(pool, data)
	require.NoError(t, err)

	schema := []msiColumn{
		{name: "Property", stringRef: true},
		{name: "Value", stringRef: true},
	}
	stream := buildTableStream(schema, sp, [][]uint32{{1, 2}, {3, 4}, {5, 6}, {7, 8}})

	f := Fields{}
	decodePropertyTable(stream, sp, nil, f)
	require.Equal(t, "Example App", f[FieldProductName])
	require.Equal(t, "2.0.1", f[FieldProductVersion])
	require.Equal(t, "Example Corp", f[FieldManufacturer])
	_, present := f["ArbitraryKey"]
	require.False(t, present)
}

func TestReadColumnCatalog(t *testing.T) {
	t.Parallel()

	pool, data := buildStringPool("Component", "Component_", "Directory_")
	sp, err := parseStringPool(pool, data)
	require.NoError(t, err)

	catalogSchema := []msiColumn{
		{name: "Table", stringRef: true},
		{name: "Number", intWidth: 2},
		{name: "Name", stringRef: true},
		{name: "Type", intWidth: 2},
	}
	// two string columns of the Component table, numbers biased by 0x8000,
	// types carry the string bit 0x0800
	stream := buildTableStream(catalogSchema, sp, [][]uint32{
		{1, 0x8002, 3, 0x8000 | 0x0800 | 72},
		{1, 0x8001, 2, 0x8000 | 0x0800 | 72},
	})

	schemas := readColumnCatalog(stream, sp)
	require.Contains(t, schemas, "Component")
	schema := schemas["Component"]
	require.Len(t, schema, 2)
	// ordered by column number
	require.Equal(t, "Component_", schema[0].name)
	require.Equal(t, "Directory_", schema[1].name)
	require.True(t, schema[0].stringRef)
}

func TestMsiArchFromTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		template string
		want     string
	}{
		{"x64;1033", "x64"},
		{"Intel;1033", "x86"},
		{"Arm64;1033", "ARM64"},
		{"Intel64;1033", "IA64"},
		{"x64", "x64"},
		{";1033", ""},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, msiArchFromTemplate(tt.template), "template %q", tt.template)
	}
}

func TestDecodeMSIGarbageContainer(t *testing.T) {
	t.Parallel()

	data := make([]byte, 4096)
	copy(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})

	_, aerr := decodeMSI(data)
	require.NotNil(t, aerr)
	require.Equal(t, KindStructural, aerr.Kind)
	require.Equal(t, "MSI", aerr.Format)
}

func TestDecodeMSIEmptyContainer(t *testing.T) {
	t.Parallel()

	f, aerr := decodeMSI(buildEmptyCFB())
	require.Nil(t, aerr)
	// absence of data means absence of keys, never placeholders
	_, present := f[FieldProductName]
	require.False(t, present)
	_, present = f[FieldManufacturer]
	require.False(t, present)
}

// buildEmptyCFB assembles a minimal well-formed compound file: one FAT
// sector and one directory sector holding only the root storage.
func buildEmptyCFB() []byte {
	const (
		free       = 0xFFFFFFFF
		endOfChain = 0xFFFFFFFE
		fatSect    = 0xFFFFFFFD
	)
	data := make([]byte, 512*3)

	copy(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	binary.LittleEndian.PutUint16(data[24:], 0x3E)       // minor version
	binary.LittleEndian.PutUint16(data[26:], 3)          // major version
	binary.LittleEndian.PutUint16(data[28:], 0xFFFE)     // byte order
	binary.LittleEndian.PutUint16(data[30:], 9)          // sector shift: 512
	binary.LittleEndian.PutUint16(data[32:], 6)          // mini sector shift
	binary.LittleEndian.PutUint32(data[44:], 1)          // FAT sector count
	binary.LittleEndian.PutUint32(data[48:], 1)          // first directory sector
	binary.LittleEndian.PutUint32(data[56:], 4096)       // mini stream cutoff
	binary.LittleEndian.PutUint32(data[60:], endOfChain) // first mini FAT sector
	binary.LittleEndian.PutUint32(data[68:], endOfChain) // first DIFAT sector
	binary.LittleEndian.PutUint32(data[76:], 0)          // DIFAT[0]: FAT at sector 0
	for off := 80; off < 512; off += 4 {
		binary.LittleEndian.PutUint32(data[off:], free)
	}

	// sector 0: the FAT
	fat := data[512:1024]
	binary.LittleEndian.PutUint32(fat, fatSect)
	binary.LittleEndian.PutUint32(fat[4:], endOfChain) // directory chain ends
	for off := 8; off < 512; off += 4 {
		binary.LittleEndian.PutUint32(fat[off:], free)
	}

	// sector 1: the directory, root entry plus three unused entries
	dir := data[1024:1536]
	rootName := "Root Entry"
	for i, r := range rootName {
		binary.LittleEndian.PutUint16(dir[i*2:], uint16(r))
	}
	binary.LittleEndian.PutUint16(dir[64:], uint16((len(rootName)+1)*2)) // name length
	dir[66] = 5 // type: root storage
	dir[67] = 1 // color: black
	binary.LittleEndian.PutUint32(dir[68:], free)        // left sibling
	binary.LittleEndian.PutUint32(dir[72:], free)        // right sibling
	binary.LittleEndian.PutUint32(dir[76:], free)        // child
	binary.LittleEndian.PutUint32(dir[116:], endOfChain) // mini stream start
	for entry := 1; entry < 4; entry++ {
		base := entry * 128
		binary.LittleEndian.PutUint32(dir[base+68:], free)
		binary.LittleEndian.PutUint32(dir[base+72:], free)
		binary.LittleEndian.PutUint32(dir[base+76:], free)
	}

	return data
}
