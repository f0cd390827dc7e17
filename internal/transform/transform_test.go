package transform

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logtunnel/internal/geoip"
	"logtunnel/internal/record"
	"logtunnel/internal/schema"
)

func mustGet(t *testing.T, r *record.Record, name string) record.Value {
	t.Helper()
	v, ok := r.Get(name)
	require.True(t, ok, "field %q missing", name)
	return v
}

// buildGeoFixture mirrors geoip's own test fixture builder: a minimal
// database image with a single interval record covering ip, resolving
// to payload.
func buildGeoFixture(octet byte, ip [4]byte, payload string) []byte {
	const indexLength = 1024 + 8 + 1028
	buf := make([]byte, 0, 4+indexLength+len(payload))

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(indexLength))
	buf = append(buf, header...)

	flagTable := make([]byte, 1024)
	binary.LittleEndian.PutUint32(flagTable[int(octet)*4:], 0)
	buf = append(buf, flagTable...)

	record := make([]byte, 8)
	binary.BigEndian.PutUint32(record[0:4], binary.BigEndian.Uint32(ip[:]))
	offset := uint32(1028)
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

// S1: plain happy path, no time/ip/request kinds involved.
func TestTransform_PlainHappyPath(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 3,
		Attributes: []schema.Attribute{
			{Name: "host", Kind: schema.KindString, Action: schema.ActionStore},
			{Name: "unused", Kind: schema.KindString, Action: schema.ActionIgnore},
			{Name: "bytes", Kind: schema.KindInt64, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"example.com", "junk", "512"})
	require.NoError(t, err)

	assert.Equal(t, "access", mustGet(t, r, "type").Str)
	assert.Equal(t, "example.com", mustGet(t, r, "host").Str)
	assert.Equal(t, int64(512), mustGet(t, r, "bytes").Int64)
	assert.False(t, r.Has("unused"))
}

func TestTransform_FieldCountMismatchIsRejected(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 2,
		Attributes: []schema.Attribute{
			{Name: "host", Kind: schema.KindString, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	_, err := tr.Transform([]string{"only-one"})
	assert.Error(t, err)
}

// S2: time_local, including the two-token join at TimeIndex/TimeSpan.
func TestTransform_TimeLocalJoinsTwoTokens(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 2,
		TimeIndex:   1,
		TimeSpan:    1,
		Attributes: []schema.Attribute{
			{Name: "ts", Kind: schema.KindTimeLocal, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"10/Mar/2024:08:00:00", "+0000"})
	require.NoError(t, err)

	got := mustGet(t, r, "ts").Int64
	assert.Equal(t, int64(1710057600), got)
}

func TestTransform_TimeLocalOffsetAppliedArithmetically(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 2,
		TimeIndex:   1,
		TimeSpan:    1,
		Attributes: []schema.Attribute{
			{Name: "ts", Kind: schema.KindTimeLocal, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	utc, err := tr.Transform([]string{"10/Mar/2024:08:00:00", "+0000"})
	require.NoError(t, err)
	plusOne, err := tr.Transform([]string{"10/Mar/2024:08:00:00", "+0100"})
	require.NoError(t, err)

	assert.Equal(t, mustGet(t, utc, "ts").Int64+3600, mustGet(t, plusOne, "ts").Int64)
}

// S3: ip enrichment via a fixture GeoDB.
func TestTransform_IPEnrichment(t *testing.T) {
	data := buildGeoFixture(1, [4]byte{1, 2, 3, 4}, "CN\tZJ\tHZ\tCT\tUN")
	resolver, err := geoip.NewFromBytes(data)
	require.NoError(t, err)

	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 1,
		Attributes: []schema.Attribute{
			{Name: "client_ip", Kind: schema.KindIP, Action: schema.ActionStore},
		},
	}
	tr := New(s, resolver)

	r, err := tr.Transform([]string{"1.2.3.4"})
	require.NoError(t, err)

	assert.Equal(t, "1.2.3.4", mustGet(t, r, "client_ip").Str)
	assert.Equal(t, "CN", mustGet(t, r, "client_ip@country").Str)
	assert.Equal(t, "ZJ", mustGet(t, r, "client_ip@province").Str)
	assert.Equal(t, "HZ", mustGet(t, r, "client_ip@city").Str)
	assert.Equal(t, "UN", mustGet(t, r, "client_ip@isp").Str)
}

func TestTransform_IPWithoutResolverStoresRawOnly(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 1,
		Attributes: []schema.Attribute{
			{Name: "client_ip", Kind: schema.KindIP, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"9.9.9.9"})
	require.NoError(t, err)

	assert.Equal(t, "9.9.9.9", mustGet(t, r, "client_ip").Str)
	assert.False(t, r.Has("client_ip@country"))
}

// S4: request splitting into method/scheme/domain.
func TestTransform_RequestSplitting(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 1,
		Attributes: []schema.Attribute{
			{Name: "req", Kind: schema.KindRequest, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"GET"})
	require.NoError(t, err)
	assert.Equal(t, "", mustGet(t, r, "method").Str)
	assert.Equal(t, "http", mustGet(t, r, "scheme").Str)
	assert.Equal(t, "unknown", mustGet(t, r, "domain").Str)
}

func TestTransform_RequestSplittingWithScheme(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 1,
		Attributes: []schema.Attribute{
			{Name: "req", Kind: schema.KindRequest, Action: schema.ActionStore},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"GET https://example.com/path"})
	require.NoError(t, err)
	assert.Equal(t, "GET", mustGet(t, r, "method").Str)
	assert.Equal(t, "https", mustGet(t, r, "scheme").Str)
	assert.Equal(t, "example.com", mustGet(t, r, "domain").Str)
}

// ADD-declared attributes are emitted unconditionally and don't consume
// a token, so an ADD placed after a STORE for the same name overrides it.
func TestTransform_AddOverridesEarlierStore(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 1,
		Attributes: []schema.Attribute{
			{Name: "env", Kind: schema.KindString, Action: schema.ActionStore},
			{Name: "env", Kind: schema.KindString, Action: schema.ActionAdd, Const: "prod"},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"staging"})
	require.NoError(t, err)
	assert.Equal(t, "prod", mustGet(t, r, "env").Str)
}

func TestTransform_MiscLiveFilterZeroesBytesUnlessStop(t *testing.T) {
	s := &schema.Schema{
		Name:        "access",
		FieldNumber: 2,
		Attributes: []schema.Attribute{
			{Name: "method", Kind: schema.KindString, Action: schema.ActionStore},
			{Name: "body_bytes_sent", Kind: schema.KindInt64, Action: schema.ActionStore},
			{Name: "_filter", Kind: schema.KindMiscLiveFilter, Action: schema.ActionAdd, Const: ""},
		},
	}
	tr := New(s, nil)

	r, err := tr.Transform([]string{"GET", "1024"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), mustGet(t, r, "body_bytes_sent").Int64)

	r, err = tr.Transform([]string{"stop", "1024"})
	require.NoError(t, err)
	assert.Equal(t, int64(1024), mustGet(t, r, "body_bytes_sent").Int64)
}
