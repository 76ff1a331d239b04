package buffer

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferMemoryLimit(t *testing.T) {
	buf := New(10)
	defer buf.Close()

	_, err := buf.Write([]byte("small"))
	require.NoError(t, err)
	assert.False(t, buf.IsSpilled())
	assert.Equal(t, "small", string(buf.Bytes()))

	_, err = buf.Write([]byte("this is much larger data that exceeds the limit"))
	require.NoError(t, err)
	assert.True(t, buf.IsSpilled())
	assert.Nil(t, buf.Bytes())
	assert.Equal(t, int64(5+47), buf.Size())
}

func TestBufferReadAll(t *testing.T) {
	buf := New(4)
	defer buf.Close()

	_, err := buf.Write([]byte("spills to disk"))
	require.NoError(t, err)

	data, err := buf.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "spills to disk", string(data))
}

func TestBufferReader(t *testing.T) {
	buf := New(1024)
	defer buf.Close()

	_, err := buf.Write([]byte("in memory"))
	require.NoError(t, err)

	r, err := buf.Reader()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "in memory", string(data))
}

func TestBufferCloseRemovesTempFile(t *testing.T) {
	buf := New(1)
	_, err := buf.Write([]byte("spill"))
	require.NoError(t, err)

	buf.mu.Lock()
	path := buf.path
	buf.mu.Unlock()
	require.NotEmpty(t, path)

	require.NoError(t, buf.Close())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Idempotent, and writes after close fail.
	assert.NoError(t, buf.Close())
	_, err = buf.Write([]byte("x"))
	assert.Error(t, err)
}
