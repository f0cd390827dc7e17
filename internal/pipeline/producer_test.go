package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(q *Queue) []string {
	var out []string
	for {
		v, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestRunFileProducer_PlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	q := NewQueue()
	n, err := RunFileProducer(path, q)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, []string{"one", "two", "three"}, drainAll(q))
}

func TestRunFileProducer_GzipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("alpha\nbeta\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	q := NewQueue()
	n, err := RunFileProducer(path, q)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, []string{"alpha", "beta"}, drainAll(q))
}

func TestRunFileProducer_MissingFileIsError(t *testing.T) {
	q := NewQueue()
	_, err := RunFileProducer(filepath.Join(t.TempDir(), "missing.log"), q)
	assert.Error(t, err)
}
