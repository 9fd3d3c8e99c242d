package dump

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "export.sql")
	sink, err := NewFileSink(path, false)
	require.NoError(t, err)

	require.NoError(t, sink.WriteChunk(context.Background(), []byte("SELECT 1;\n")))
	require.NoError(t, sink.WriteChunk(context.Background(), []byte("SELECT 2;\n")))

	location, err := sink.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, location)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\nSELECT 2;\n", string(data))
}

func TestFileSink_AbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.sql")
	sink, err := NewFileSink(path, false)
	require.NoError(t, err)
	require.NoError(t, sink.WriteChunk(context.Background(), []byte("partial")))

	require.NoError(t, sink.Abort(context.Background()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSink_AbortKeepsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.sql")
	sink, err := NewFileSink(path, true)
	require.NoError(t, err)
	require.NoError(t, sink.WriteChunk(context.Background(), []byte("partial")))

	require.NoError(t, sink.Abort(context.Background()))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(path + PartialSuffix)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(data))
}
