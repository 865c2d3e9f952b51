package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-tracker/internal/kv"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	_, ok, err := store.Get(ctx, "cookie-consent")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "cookie-consent", "true"))
	require.NoError(t, store.Set(ctx, "cookie-consent", "false"))

	v, ok, err := store.Get(ctx, "cookie-consent")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "false", v)

	require.NoError(t, store.Remove(ctx, "cookie-consent"))
	_, ok, err = store.Get(ctx, "cookie-consent")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, store.Set(ctx, "", "v"), kv.ErrEmptyKey)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "marketing-attribution", `{"source":"houston"}`))
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck

	v, ok, err := second.Get(ctx, "marketing-attribution")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"source":"houston"}`, v)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
