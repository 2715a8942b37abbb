package analyzer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// summaryBuilder assembles an OLE property set stream with one section.
type summaryBuilder struct {
	props []struct {
		pid   uint32
		value []byte
	}
}

func (b *summaryBuilder) addString(pid uint32, s string) {
	v := make([]byte, 8+len(s)+1)
	binary.LittleEndian.PutUint32(v, vtLPStr)
	binary.LittleEndian.PutUint32(v[4:], uint32(len(s)+1))
	copy(v[8:], s)
	b.props = append(b.props, struct {
		pid   uint32
		value []byte
	}{pid, v})
}

func (b *summaryBuilder) addFiletime(pid uint32, ticks uint64) {
	v := make([]byte, 12)
	binary.LittleEndian.PutUint32(v, vtFiletime)
	binary.LittleEndian.PutUint64(v[4:], ticks)
	b.props = append(b.props, struct {
		pid   uint32
		value []byte
	}{pid, v})
}

func (b *summaryBuilder) bytes() []byte {
	header := make([]byte, 48)
	binary.LittleEndian.PutUint16(header, 0xFFFE) // byte order
	binary.LittleEndian.PutUint32(header[24:], 1) // one property set
	binary.LittleEndian.PutUint32(header[44:], 48)

	section := make([]byte, 8+8*len(b.props))
	binary.LittleEndian.PutUint32(section[4:], uint32(len(b.props)))
	valueOff := len(section)
	var values []byte
	for i, p := range b.props {
		binary.LittleEndian.PutUint32(section[8+i*8:], p.pid)
		binary.LittleEndian.PutUint32(section[12+i*8:], uint32(valueOff+len(values)))
		values = append(values, p.value...)
	}
	binary.LittleEndian.PutUint32(section, uint32(len(section)+len(values)))

	out := append(header, section...)
	return append(out, values...)
}

func TestParseSummaryInfo(t *testing.T) {
	t.Parallel()

	b := &summaryBuilder{}
	b.addString(pidTitle, "Installation Database")
	b.addString(pidSubject, "Example App")
	b.addString(pidAuthor, "Example Corp")
	b.addString(pidTemplate, "x64;1033")
	b.addString(pidRevision, "{11111111-2222-3333-4444-555555555555}")
	b.addFiletime(pidCreateTime, filetimeUnixEpoch+10_000_000*60) // one minute past epoch

	f := Fields{}
	parseSummaryInfo(b.bytes(), f)

	require.Equal(t, "Installation Database", f[FieldTitle])
	// Subject and Author stand in for the product name and manufacturer
	// when the Property table did not supply them
	require.Equal(t, "Example App", f[FieldProductName])
	require.Equal(t, "Example Corp", f[FieldManufacturer])
	require.Equal(t, "x64", f[FieldArchitecture])
	require.Equal(t, "{11111111-2222-3333-4444-555555555555}", f[FieldPackageCode])
	require.Equal(t, "1970-01-01T00:01:00Z", f["CreateTime"])
}

func TestParseSummaryInfoKeepsDistinctSubject(t *testing.T) {
	t.Parallel()

	b := &summaryBuilder{}
	b.addString(pidSubject, "A different subject line")

	f := Fields{FieldProductName: "Example App"}
	parseSummaryInfo(b.bytes(), f)

	require.Equal(t, "Example App", f[FieldProductName])
	require.Equal(t, "A different subject line", f["Subject"])
}

func TestParseSummaryInfoMalformed(t *testing.T) {
	t.Parallel()

	f := Fields{}
	parseSummaryInfo(nil, f)
	parseSummaryInfo([]byte{0x01}, f)
	parseSummaryInfo(make([]byte, 64), f) // wrong byte-order mark
	require.Empty(t, f)
}

func TestReadPropertyValueBadOffsets(t *testing.T) {
	t.Parallel()

	b := &summaryBuilder{}
	b.addString(pidTitle, "x")
	stream := b.bytes()

	_, ok := readPropertyValue(stream, len(stream)+4)
	require.False(t, ok)
	_, ok = readPropertyValue(stream, -1)
	require.False(t, ok)
}
