package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-tracker/internal/kv"
	"github.com/JakeFAU/engagement-tracker/internal/kv/memory"
)

func TestWithPrefixIsolatesVisitors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := memory.New()
	alice := kv.WithPrefix(backend, "visitor/alice/")
	bob := kv.WithPrefix(backend, "visitor/bob/")

	require.NoError(t, alice.Set(ctx, "cookie-consent", "true"))
	_, ok, err := bob.Get(ctx, "cookie-consent")
	require.NoError(t, err)
	require.False(t, ok)

	value, ok, err := alice.Get(ctx, "cookie-consent")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", value)
	require.Equal(t, map[string]string{"visitor/alice/cookie-consent": "true"}, backend.Snapshot())

	require.NoError(t, alice.Remove(ctx, "cookie-consent"))
	require.Empty(t, backend.Snapshot())

	require.ErrorIs(t, alice.Set(ctx, "", "x"), kv.ErrEmptyKey)
	_, _, err = alice.Get(ctx, "")
	require.ErrorIs(t, err, kv.ErrEmptyKey)
	require.ErrorIs(t, alice.Remove(ctx, ""), kv.ErrEmptyKey)
}
