// Package binutil provides bounds-checked reads over untrusted binary buffers.
//
// Every decoder in this module operates on attacker-controlled bytes, so every
// offset and length read from the buffer itself is validated against the
// buffer's real length before it is used to index or slice.
package binutil

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
)

// ErrOutOfBounds is returned whenever a read would cross the end of the buffer.
var ErrOutOfBounds = errors.New("read out of bounds")

// Cursor is a read-only view over a byte buffer with an advancing position.
// All reads fail with ErrOutOfBounds instead of panicking.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// At returns a cursor over the same buffer positioned at offset.
func At(buf []byte, offset int) (*Cursor, error) {
	if offset < 0 || offset > len(buf) {
		return nil, ErrOutOfBounds
	}
	return &Cursor{buf: buf, pos: offset}, nil
}

// Pos returns the current offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || offset > len(c.buf) {
		return ErrOutOfBounds
	}
	c.pos = offset
	return nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return ErrOutOfBounds
	}
	c.pos += n
	return nil
}

// Bytes returns the next n bytes without copying and advances the cursor.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, ErrOutOfBounds
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// U8 reads one byte.
func (c *Cursor) U8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (c *Cursor) U64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// U16BE reads a big-endian uint16.
func (c *Cursor) U16BE() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// U32BE reads a big-endian uint32.
func (c *Cursor) U32BE() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U64BE reads a big-endian uint64.
func (c *Cursor) U64BE() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// CString reads a NUL-terminated ASCII string of at most max bytes starting
// at the cursor. The cursor advances past the terminator.
func (c *Cursor) CString(max int) (string, error) {
	if max < 0 {
		return "", ErrOutOfBounds
	}
	end := c.pos
	limit := c.pos + max
	if limit > len(c.buf) {
		limit = len(c.buf)
	}
	for end < limit && c.buf[end] != 0 {
		end++
	}
	s := string(c.buf[c.pos:end])
	if end < limit {
		end++ // consume the terminator
	}
	c.pos = end
	return s, nil
}

// CStringAt reads a NUL-terminated ASCII string at an absolute offset without
// moving the cursor.
func CStringAt(buf []byte, offset, max int) (string, bool) {
	if offset < 0 || offset >= len(buf) {
		return "", false
	}
	end := offset
	limit := offset + max
	if limit > len(buf) || max < 0 {
		limit = len(buf)
	}
	for end < limit && buf[end] != 0 {
		end++
	}
	return string(buf[offset:end]), true
}

// UTF16String reads n UTF-16LE code units and decodes them, stopping at the
// first NUL.
func (c *Cursor) UTF16String(n int) (string, error) {
	if n < 0 || c.pos+2*n > len(c.buf) {
		return "", ErrOutOfBounds
	}
	units := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		u := binary.LittleEndian.Uint16(c.buf[c.pos+2*i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	c.pos += 2 * n
	return string(utf16.Decode(units)), nil
}

// DecodeUTF16 decodes a UTF-16LE byte slice, stopping at the first NUL.
func DecodeUTF16(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// U16At / U32At / U64At are absolute bounds-checked reads used where a decoder
// jumps around a structure instead of streaming through it.

func U16At(buf []byte, offset int) (uint16, bool) {
	if offset < 0 || offset+2 > len(buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(buf[offset:]), true
}

func U32At(buf []byte, offset int) (uint32, bool) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[offset:]), true
}

func U64At(buf []byte, offset int) (uint64, bool) {
	if offset < 0 || offset+8 > len(buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[offset:]), true
}

func U32BEAt(buf []byte, offset int) (uint32, bool) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[offset:]), true
}

func U64BEAt(buf []byte, offset int) (uint64, bool) {
	if offset < 0 || offset+8 > len(buf) {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf[offset:]), true
}

// Slice returns buf[offset:offset+n] when fully in bounds.
func Slice(buf []byte, offset, n int) ([]byte, bool) {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return nil, false
	}
	return buf[offset : offset+n], true
}
