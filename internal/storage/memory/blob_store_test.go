package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "kb/page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://kb/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("kb/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "text/html", []byte("x"))
	require.Error(t, err)
}
