package analyzer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// rpmHeaderBuilder assembles one header block: magic, index entries, store.
type rpmHeaderBuilder struct {
	entries []byte
	store   []byte
}

func (b *rpmHeaderBuilder) addStringTag(tag uint32, value string) {
	entry := make([]byte, 16)
	binary.BigEndian.PutUint32(entry, tag)
	binary.BigEndian.PutUint32(entry[4:], rpmTypeString)
	binary.BigEndian.PutUint32(entry[8:], uint32(len(b.store)))
	binary.BigEndian.PutUint32(entry[12:], 1)
	b.entries = append(b.entries, entry...)
	b.store = append(b.store, value...)
	b.store = append(b.store, 0)
}

func (b *rpmHeaderBuilder) bytes() []byte {
	count := len(b.entries) / 16
	out := make([]byte, 16)
	copy(out, rpmHeaderMagic)
	binary.BigEndian.PutUint32(out[8:], uint32(count))
	binary.BigEndian.PutUint32(out[12:], uint32(len(b.store)))
	out = append(out, b.entries...)
	return append(out, b.store...)
}

func (b *rpmHeaderBuilder) paddedBytes() []byte {
	out := b.bytes()
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out
}

func buildRPM(t *testing.T, mainHeader []byte) []byte {
	t.Helper()
	lead := make([]byte, rpmLeadSize)
	copy(lead, []byte{0xED, 0xAB, 0xEE, 0xDB})
	lead[4], lead[5] = 3, 0
	lead[8], lead[9] = 0, 1 // arch number: x86

	sig := &rpmHeaderBuilder{}
	out := append(lead, sig.paddedBytes()...)
	return append(out, mainHeader...)
}

func TestDecodeRPM(t *testing.T) {
	t.Parallel()

	h := &rpmHeaderBuilder{}
	h.addStringTag(1000, "example")
	h.addStringTag(1001, "2.4.1")
	h.addStringTag(1002, "3.el9")
	h.addStringTag(1011, "Example Corp")
	h.addStringTag(1014, "MIT")
	h.addStringTag(1022, "x86_64")
	h.addStringTag(1044, "example-2.4.1-3.el9.src.rpm")

	f, aerr := decodeRPM(buildRPM(t, h.bytes()))
	require.Nil(t, aerr)
	require.Equal(t, "example", f[FieldProductName])
	require.Equal(t, "2.4.1", f[FieldProductVersion])
	require.Equal(t, "3.el9", f["Release"])
	require.Equal(t, "Example Corp", f[FieldVendor])
	require.Equal(t, "MIT", f[FieldLicense])
	require.Equal(t, "example-2.4.1-3.el9.src.rpm", f["SourceRpm"])
	// the header ARCH tag overrides the lead's coarse hint
	require.Equal(t, "x86_64", f[FieldArchitecture])
}

func TestDecodeRPMLeadArchFallback(t *testing.T) {
	t.Parallel()

	h := &rpmHeaderBuilder{}
	h.addStringTag(1000, "noarchinfo")

	f, aerr := decodeRPM(buildRPM(t, h.bytes()))
	require.Nil(t, aerr)
	require.Equal(t, "x86", f[FieldArchitecture])
}

func TestDecodeRPMCorruptMainHeader(t *testing.T) {
	t.Parallel()

	corrupt := make([]byte, 32) // wrong magic where the main header should be
	_, aerr := decodeRPM(buildRPM(t, corrupt))
	require.NotNil(t, aerr)
	require.Equal(t, KindStructural, aerr.Kind)
	require.Equal(t, "RPM", aerr.Format)
	require.Contains(t, aerr.Msg, "main header")
}

func TestDecodeRPMCorruptSignatureHeader(t *testing.T) {
	t.Parallel()

	data := make([]byte, 256)
	copy(data, []byte{0xED, 0xAB, 0xEE, 0xDB})
	// signature header magic absent at offset 96

	_, aerr := decodeRPM(data)
	require.NotNil(t, aerr)
	require.Equal(t, KindStructural, aerr.Kind)
	require.Contains(t, aerr.Msg, "signature header")
}

func TestDecodeRPMTooSmall(t *testing.T) {
	t.Parallel()

	data := make([]byte, 40)
	copy(data, []byte{0xED, 0xAB, 0xEE, 0xDB})

	_, aerr := decodeRPM(data)
	require.NotNil(t, aerr)
	require.Equal(t, KindStructural, aerr.Kind)
}

func TestDecodeRPMImplausibleIndexCount(t *testing.T) {
	t.Parallel()

	bad := make([]byte, 16)
	copy(bad, rpmHeaderMagic)
	binary.BigEndian.PutUint32(bad[8:], 0xFFFFFFFF)

	_, aerr := decodeRPM(buildRPM(t, bad))
	require.NotNil(t, aerr)
	require.Equal(t, KindStructural, aerr.Kind)
}

func TestResolveTagValueTruncatedString(t *testing.T) {
	t.Parallel()

	// a string tag pointing past the store is omitted, not fatal
	h := &rpmHeaderBuilder{}
	h.addStringTag(1000, "ok")
	header := h.bytes()
	// rewrite the store offset of the NAME entry to point past the end
	binary.BigEndian.PutUint32(header[16+8:], 0x4000)

	f, aerr := decodeRPM(buildRPM(t, header))
	require.Nil(t, aerr)
	_, present := f[FieldProductName]
	require.False(t, present)
}
