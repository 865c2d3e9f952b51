package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-tracker/internal/clock/fake"
	"github.com/JakeFAU/engagement-tracker/internal/kv/memory"
)

var start = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newStore() (*Store, *memory.Store, *fake.Clock) {
	records := memory.New()
	clk := fake.New(start)
	return New(records, Config{Clock: clk}), records, clk
}

func TestCaptureThenCurrent(t *testing.T) {
	t.Parallel()

	for _, source := range []string{"houston", "newsletter-2024", "x"} {
		store, records, _ := newStore()
		ctx := context.Background()

		require.NoError(t, store.Capture(ctx, source))
		got, ok := store.Current(ctx)
		require.True(t, ok)
		require.Equal(t, source, got)

		raw, ok, err := records.Get(ctx, Key)
		require.NoError(t, err)
		require.True(t, ok)
		require.JSONEq(t,
			`{"source":"`+source+`","timestamp":1715342400000,"expires":1717934400000}`,
			raw,
		)
	}
}

func TestCurrentGarbageCollectsAfterExpiry(t *testing.T) {
	t.Parallel()

	store, records, clk := newStore()
	ctx := context.Background()
	require.NoError(t, store.Capture(ctx, "houston"))

	clk.Advance(30 * 24 * time.Hour)
	got, ok := store.Current(ctx)
	require.True(t, ok, "record is valid up to and including its expiry")
	require.Equal(t, "houston", got)

	clk.Advance(24 * time.Hour)
	_, ok = store.Current(ctx)
	require.False(t, ok)

	_, ok, err := records.Get(ctx, Key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCaptureFromURL(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore()
	ctx := context.Background()

	require.NoError(t, store.CaptureFromURL(ctx, "https://example.com/articles/a?src=houston&utm_medium=email"))
	got, ok := store.Current(ctx)
	require.True(t, ok)
	require.Equal(t, "houston", got)

	require.NoError(t, store.CaptureFromURL(ctx, "https://example.com/articles/b?utm_source=ignored"))
	got, ok = store.Current(ctx)
	require.True(t, ok, "absent parameter leaves the record untouched")
	require.Equal(t, "houston", got)

	require.NoError(t, store.CaptureFromURL(ctx, "https://example.com/?src=podcast"))
	got, _ = store.Current(ctx)
	require.Equal(t, "podcast", got, "a new capture overwrites")

	require.Error(t, store.CaptureFromURL(ctx, "://bad url"))
}

func TestCustomParam(t *testing.T) {
	t.Parallel()

	store := New(memory.New(), Config{Param: "ref"})
	ctx := context.Background()
	require.Equal(t, "ref", store.Param())

	require.NoError(t, store.CaptureFromURL(ctx, "https://example.com/?src=houston&ref=partner"))
	got, ok := store.Current(ctx)
	require.True(t, ok)
	require.Equal(t, "partner", got)
}

func TestEmptySourceIsIgnored(t *testing.T) {
	t.Parallel()

	store, records, _ := newStore()
	ctx := context.Background()
	require.NoError(t, store.Capture(ctx, "   "))
	require.Empty(t, records.Snapshot())
}

func TestMalformedRecordIsEvicted(t *testing.T) {
	t.Parallel()

	store, records, _ := newStore()
	ctx := context.Background()
	require.NoError(t, records.Set(ctx, Key, "{garbage"))

	_, ok := store.Current(ctx)
	require.False(t, ok)
	require.Empty(t, records.Snapshot())
}

func TestClear(t *testing.T) {
	t.Parallel()

	store, records, _ := newStore()
	ctx := context.Background()
	require.NoError(t, store.Capture(ctx, "houston"))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	require.Empty(t, records.Snapshot())
}
