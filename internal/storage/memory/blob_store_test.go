package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "events/2024/05/10/batch.ndjson", "application/x-ndjson",
		bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	require.Equal(t, "memory://events/2024/05/10/batch.ndjson", uri)

	data, contentType, ok := store.Object("events/2024/05/10/batch.ndjson")
	require.True(t, ok)
	require.Equal(t, "application/x-ndjson", contentType)
	data[0] = 'C'

	again, _, _ := store.Object("events/2024/05/10/batch.ndjson")
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"events/2024/05/10/batch.ndjson"}, store.Paths())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), " ", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)

	_, _, ok := store.Object("missing")
	require.False(t, ok)
}
