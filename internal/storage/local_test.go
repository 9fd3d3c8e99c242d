package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore("media", &LocalConfig{BasePath: t.TempDir()}, "")
	require.NoError(t, err)
	return store
}

func TestLocalStore_PutGetAttributes(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "images/a.png", strings.NewReader("png"), Attributes{
		ContentType: "image/png",
		Visibility:  VisibilityPublic,
	}))
	require.NoError(t, store.Put(ctx, "private.bin", strings.NewReader("secret"), Attributes{}))

	reader, err := store.Get(ctx, "images/a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	attrs, err := store.Attributes(ctx, "images/a.png")
	require.NoError(t, err)
	assert.Equal(t, Attributes{ContentType: "image/png", Visibility: VisibilityPublic, Size: 3}, attrs)

	attrs, err = store.Attributes(ctx, "private.bin")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPrivate, attrs.Visibility)
	assert.Equal(t, DefaultContentType, attrs.ContentType)
}

func TestLocalStore_ListSkipsMetadata(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	for _, key := range []string{"b.txt", "a/c.txt", "a.txt"} {
		require.NoError(t, store.Put(ctx, key, strings.NewReader(key), Attributes{}))
	}

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "a/c.txt", "b.txt"}, keys)
}

func TestLocalStore_Exists(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "a.txt", strings.NewReader("x"), Attributes{}))
	ok, err = store.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Get(ctx, "missing.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	for _, key := range []string{"../outside.txt", "a/../../outside.txt", ".porter/meta/x", ""} {
		err := store.Put(ctx, key, strings.NewReader("x"), Attributes{})
		assert.Error(t, err, key)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(store.Root()), "outside.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_Multipart(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	id, err := store.CreateUpload(ctx, "dumps/export.sql", Attributes{ContentType: "application/sql"})
	require.NoError(t, err)

	var parts []Part
	for i, chunk := range []string{"first;", "second;", "third;"} {
		etag, err := store.UploadPart(ctx, "dumps/export.sql", id, i+1, []byte(chunk))
		require.NoError(t, err)
		parts = append(parts, Part{Number: i + 1, ETag: etag, Size: len(chunk)})
	}
	require.NoError(t, store.CompleteUpload(ctx, "dumps/export.sql", id, parts))

	reader, err := store.Get(ctx, "dumps/export.sql")
	require.NoError(t, err)
	data, _ := io.ReadAll(reader)
	reader.Close()
	assert.Equal(t, "first;second;third;", string(data))

	attrs, err := store.Attributes(ctx, "dumps/export.sql")
	require.NoError(t, err)
	assert.Equal(t, "application/sql", attrs.ContentType)

	_, err = os.Stat(store.uploadDir(id))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_AbortUpload(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	id, err := store.CreateUpload(ctx, "export.sql", Attributes{})
	require.NoError(t, err)
	_, err = store.UploadPart(ctx, "export.sql", id, 1, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, store.AbortUpload(ctx, "export.sql", id))
	ok, err := store.Exists(ctx, "export.sql")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(store.uploadDir(id))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_HealthCheckAndURLs(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	assert.NoError(t, store.HealthCheck(ctx))
	assert.True(t, strings.HasPrefix(store.PublicURL("a.sql"), "file://"))
	assert.True(t, strings.HasSuffix(store.PublicURL("a.sql"), "/media/a.sql"))

	link, err := store.PresignGet(ctx, "a.sql", 0)
	require.NoError(t, err)
	assert.Equal(t, store.PublicURL("a.sql"), link)

	withBase, err := NewLocalStore("media", &LocalConfig{BasePath: t.TempDir()}, "https://files.example.com/media")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/media/a.sql", withBase.PublicURL("a.sql"))
}

func TestFactory(t *testing.T) {
	factory := NewFactory()
	ctx := context.Background()

	provider, err := factory.Create(ctx, Config{Provider: ProviderLocal, Bucket: "dumps", Local: &LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "dumps", provider.Bucket())

	_, err = factory.Create(ctx, Config{Provider: ProviderAzure, Bucket: "dumps"})
	assert.Error(t, err)

	ref := Reference{Scheme: "file", Bucket: "other", Key: "a.sql"}
	provider, err = factory.ForReference(ctx, Config{Provider: ProviderLocal, Local: &LocalConfig{BasePath: t.TempDir()}}, ref)
	require.NoError(t, err)
	assert.Equal(t, "other", provider.Bucket())

	_, err = factory.ForReference(ctx, Config{Provider: ProviderLocal}, Reference{Scheme: "s3", Bucket: "b", Key: "k"})
	assert.Error(t, err)

	assert.Len(t, factory.SupportedProviders(), 4)
}
