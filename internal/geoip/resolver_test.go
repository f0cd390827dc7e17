package geoip

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixture constructs a minimal, spec-shaped GeoDB image with a
// single interval record covering ip (an exact-match upper bound) that
// resolves to payload.
func buildFixture(t *testing.T, octet byte, ip [4]byte, payload string) []byte {
	t.Helper()

	const indexLength = 1024 + 8 + 1028 // flag table + one live record + required slack
	buf := make([]byte, 0, 4+indexLength+len(payload))

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(indexLength))
	buf = append(buf, header...)

	flagTable := make([]byte, 1024)
	binary.LittleEndian.PutUint32(flagTable[int(octet)*4:], 0) // first record for this octet
	buf = append(buf, flagTable...)

	record := make([]byte, 8)
	binary.BigEndian.PutUint32(record[0:4], binary.BigEndian.Uint32(ip[:]))
	offset := uint32(1028) // relPos = offset-1028 = 0, payload starts at position 0
	length := byte(len(payload))
	le := make([]byte, 4)
	binary.LittleEndian.PutUint32(le, offset&0x00FFFFFF)
	le[3] = length
	copy(record[4:8], le)
	buf = append(buf, record...)

	padding := make([]byte, indexLength-1024-8)
	buf = append(buf, padding...)

	buf = append(buf, payload...)
	return buf
}

func TestResolver_ResolvesIPv4(t *testing.T) {
	ip := [4]byte{1, 2, 3, 4}
	data := buildFixture(t, 1, ip, "CN\tZJ\tHZ\t-\tUN")

	r, err := NewFromBytes(data)
	require.NoError(t, err)

	fields, ok := r.Resolve("1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, [FieldCount]string{"CN", "ZJ", "HZ", "-", "UN"}, fields)
}

func TestResolver_CachesResult(t *testing.T) {
	ip := [4]byte{1, 2, 3, 4}
	data := buildFixture(t, 1, ip, "CN\tZJ\tHZ\t-\tUN")
	r, err := NewFromBytes(data)
	require.NoError(t, err)

	_, ok := r.Resolve("1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, 1, r.cache.Len())

	_, ok = r.Resolve("1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, 1, r.cache.Len())
}

func TestResolver_IPv6ReturnsConstantTuple(t *testing.T) {
	data := buildFixture(t, 1, [4]byte{1, 2, 3, 4}, "CN\tZJ\tHZ\t-\tUN")
	r, err := NewFromBytes(data)
	require.NoError(t, err)

	fields, ok := r.Resolve("::1")
	require.True(t, ok)
	assert.Equal(t, ipv6Fields, fields)
}

func TestResolver_InvalidDottedQuadFails(t *testing.T) {
	data := buildFixture(t, 1, [4]byte{1, 2, 3, 4}, "CN\tZJ\tHZ\t-\tUN")
	r, err := NewFromBytes(data)
	require.NoError(t, err)

	_, ok := r.Resolve("not-an-ip")
	assert.False(t, ok)
}

func TestResolver_NoMatchingIntervalFails(t *testing.T) {
	data := buildFixture(t, 1, [4]byte{1, 2, 3, 4}, "CN\tZJ\tHZ\t-\tUN")
	r, err := NewFromBytes(data)
	require.NoError(t, err)

	// octet 2's flag table entry is 0, so the scan starts at the only
	// record, whose upper bound 1.2.3.4 is below 2.0.0.0: nothing matches.
	_, ok := r.Resolve("2.0.0.0")
	assert.False(t, ok)
}

func TestNewFromBytes_RejectsBadHeader(t *testing.T) {
	_, err := NewFromBytes([]byte{0, 0, 0, 0})
	assert.Error(t, err)
}
