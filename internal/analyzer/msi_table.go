package analyzer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/deploymenttheory/go-installer-metadata/internal/binutil"
)

const (
	msiCodepageUTF16 = 1200
	msiMaxPoolSize   = 1 << 22 // entry cap against hostile pool headers
	msiMaxTableRows  = 1 << 16

	// column type word bits (after removing the i2 storage bias)
	msiColTypeString = 0x0800
	msiColTypeSizeMk = 0x00FF
)

// msiStringPool is the deduplicated string table backing all textual data in
// an MSI database. Index 0 is reserved as the empty string.
type msiStringPool struct {
	strings  []string
	refWidth int // 2, or 3 once the pool exceeds 65535 entries
}

// parseStringPool slices !_StringData according to the (length, refcount)
// record sequence in !_StringPool. Any record that would run past the data
// stream invalidates the whole pool.
func parseStringPool(pool, data []byte) (*msiStringPool, error) {
	if pool == nil || data == nil {
		return nil, errors.New("string pool streams absent")
	}
	c := binutil.NewCursor(pool)
	header, err := c.U32()
	if err != nil {
		return nil, errors.New("string pool header truncated")
	}
	codepage := header & 0x7FFFFFFF
	wideRefs := header&0x80000000 != 0
	utf16Data := codepage == msiCodepageUTF16

	sp := &msiStringPool{strings: []string{""}, refWidth: 2}
	dataOff := 0
	for c.Remaining() >= 4 {
		if len(sp.strings) > msiMaxPoolSize {
			return nil, errors.New("string pool entry count implausible")
		}
		length16, _ := c.U16()
		refcount, _ := c.U16()
		length := int(length16)
		if length16 == 0 && refcount != 0 {
			// long-string escape: the real length follows as a 32-bit value
			long, err := c.U32()
			if err != nil {
				return nil, errors.New("string pool long record truncated")
			}
			length = int(long)
		}
		if length == 0 {
			sp.strings = append(sp.strings, "")
			continue
		}
		raw, ok := binutil.Slice(data, dataOff, length)
		if !ok {
			return nil, fmt.Errorf("string pool entry %d exceeds string data", len(sp.strings))
		}
		dataOff += length
		if utf16Data {
			sp.strings = append(sp.strings, binutil.DecodeUTF16(raw))
		} else {
			sp.strings = append(sp.strings, string(raw))
		}
	}
	if wideRefs || len(sp.strings) > 65536 {
		sp.refWidth = 3
	}
	return sp, nil
}

// lookup resolves a string reference. Out-of-range references are an
// extraction failure for the referencing field, never an out-of-bounds read.
func (sp *msiStringPool) lookup(ref uint32) (string, bool) {
	if int(ref) >= len(sp.strings) {
		return "", false
	}
	return sp.strings[ref], true
}

// msiColumn describes one column's on-disk layout: string references are
// refWidth bytes wide, numeric columns two or four.
type msiColumn struct {
	name      string
	stringRef bool
	intWidth  int // 2 or 4, for numeric columns
}

func (col msiColumn) width(sp *msiStringPool) int {
	if col.stringRef {
		return sp.refWidth
	}
	return col.intWidth
}

func rowWidth(schema []msiColumn) int {
	w := 0
	for _, col := range schema {
		// assumes the common 2-byte string ref width; row counts derived
		// from this are approximate for pools past 65536 entries
		if col.stringRef {
			w += 2
		} else {
			w += col.intWidth
		}
	}
	return w
}

// readColumnCatalog reads the _Columns table, whose own layout is fixed
// (Table, Number, Name, Type), and returns every table's column schema in
// column-number order.
func readColumnCatalog(stream []byte, sp *msiStringPool) map[string][]msiColumn {
	if stream == nil {
		return nil
	}
	catalogSchema := []msiColumn{
		{name: "Table", stringRef: true},
		{name: "Number", intWidth: 2},
		{name: "Name", stringRef: true},
		{name: "Type", intWidth: 2},
	}
	raw, err := readRawRows(stream, catalogSchema, sp)
	if err != nil {
		return nil
	}

	type numbered struct {
		number int
		col    msiColumn
	}
	byTable := map[string][]numbered{}
	for _, row := range raw {
		table, ok1 := sp.lookup(row[0])
		name, ok2 := sp.lookup(row[2])
		if !ok1 || !ok2 || table == "" || name == "" {
			continue
		}
		number := int(row[1]) - 0x8000
		colType := int(row[3]) - 0x8000
		col := msiColumn{name: name}
		if colType&msiColTypeString != 0 {
			col.stringRef = true
		} else if colType&msiColTypeSizeMk <= 2 {
			col.intWidth = 2
		} else {
			col.intWidth = 4
		}
		byTable[table] = append(byTable[table], numbered{number: number, col: col})
	}

	schemas := map[string][]msiColumn{}
	for table, cols := range byTable {
		sort.Slice(cols, func(i, j int) bool { return cols[i].number < cols[j].number })
		schema := make([]msiColumn, 0, len(cols))
		for _, n := range cols {
			schema = append(schema, n.col)
		}
		schemas[table] = schema
	}
	return schemas
}

// readRawRows reads a table stream laid out in column-major blocks and zips
// the columns back into rows of raw cell values.
func readRawRows(stream []byte, schema []msiColumn, sp *msiStringPool) ([][]uint32, error) {
	width := 0
	for _, col := range schema {
		width += col.width(sp)
	}
	if width == 0 {
		return nil, errors.New("table schema has zero width")
	}
	rows := len(stream) / width
	if rows > msiMaxTableRows {
		return nil, errors.New("table row count implausible")
	}

	out := make([][]uint32, rows)
	for i := range out {
		out[i] = make([]uint32, len(schema))
	}
	offset := 0
	for j, col := range schema {
		w := col.width(sp)
		for i := 0; i < rows; i++ {
			cell, ok := binutil.Slice(stream, offset+i*w, w)
			if !ok {
				return nil, errors.New("table stream truncated mid-column")
			}
			var v uint32
			switch w {
			case 2:
				v = uint32(cell[0]) | uint32(cell[1])<<8
			case 3:
				v = uint32(cell[0]) | uint32(cell[1])<<8 | uint32(cell[2])<<16
			case 4:
				v = uint32(cell[0]) | uint32(cell[1])<<8 | uint32(cell[2])<<16 | uint32(cell[3])<<24
			}
			out[i][j] = v
		}
		offset += rows * w
	}
	return out, nil
}

// readTableRows resolves string-typed cells through the pool. A row with an
// out-of-range string reference is dropped; the rest of the table survives.
func readTableRows(stream []byte, schema []msiColumn, sp *msiStringPool) ([][]string, error) {
	raw, err := readRawRows(stream, schema, sp)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(raw))
	for _, row := range raw {
		resolved := make([]string, len(schema))
		ok := true
		for j, col := range schema {
			if !col.stringRef {
				resolved[j] = fmt.Sprintf("%d", row[j])
				continue
			}
			s, found := sp.lookup(row[j])
			if !found {
				ok = false
				break
			}
			resolved[j] = s
		}
		if ok {
			out = append(out, resolved)
		}
	}
	return out, nil
}
