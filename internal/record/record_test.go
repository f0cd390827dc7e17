package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_OrderPreservedInJSON(t *testing.T) {
	r := New()
	r.Set("type", String("nginx"))
	r.Set("a", String("hello"))
	r.Set("b", Int32(42))
	r.Set("c", Double(3.14))

	buf, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"nginx","a":"hello","b":42,"c":3.14}`, string(buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf, &decoded))
	assert.Equal(t, "nginx", decoded["type"])
}

func TestRecord_SetReplacesInPlace(t *testing.T) {
	r := New()
	r.Set("env", String("dev"))
	r.Set("host", String("h1"))
	r.Set("env", String("prod"))

	assert.Equal(t, []string{"env", "host"}, r.Fields())
	v, ok := r.Get("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v.Str)
}

func TestRecord_AddInt64(t *testing.T) {
	r := New()
	r.AddInt64("bytes", 10)
	r.AddInt64("bytes", 5)
	v, ok := r.Get("bytes")
	require.True(t, ok)
	assert.Equal(t, int64(15), v.Int64)
}

func TestRecord_DeletePreservesRemainingOrder(t *testing.T) {
	r := New()
	r.Set("a", String("1"))
	r.Set("b", String("2"))
	r.Set("c", String("3"))
	r.Delete("b")
	assert.Equal(t, []string{"a", "c"}, r.Fields())
	_, ok := r.Get("b")
	assert.False(t, ok)
}

func TestRecord_Clone(t *testing.T) {
	r := New()
	r.Set("a", Int64(1))
	c := r.Clone()
	c.Set("a", Int64(2))
	v, _ := r.Get("a")
	assert.Equal(t, int64(1), v.Int64)
	cv, _ := c.Get("a")
	assert.Equal(t, int64(2), cv.Int64)
}
