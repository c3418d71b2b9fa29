package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voxnote/internal/config"
)

func newLocalTestStore(t *testing.T) Store {
	t.Helper()
	store, err := New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)
	return store
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := newLocalTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "note.wav", strings.NewReader("audio-bytes")))

	r, err := store.Open(ctx, "note.wav")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "audio-bytes", string(data))

	require.NoError(t, store.Delete(ctx, "note.wav"))
	_, err = store.Open(ctx, "note.wav")
	require.Error(t, err)
}

func TestLocalStoreDeleteMissingIsNoop(t *testing.T) {
	store := newLocalTestStore(t)
	require.NoError(t, store.Delete(context.Background(), "absent.wav"))
}

func TestLocalStoreRejectsPathTraversal(t *testing.T) {
	store := newLocalTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "../escape.wav", "a/b.wav", `a\b.wav`} {
		require.Error(t, store.Save(ctx, key, strings.NewReader("x")), "key %q", key)
	}
}

func TestUnknownStoreTypeRejected(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
}
