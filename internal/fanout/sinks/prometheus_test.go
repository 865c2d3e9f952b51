package sinks

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-tracker/internal/fanout"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are driven by events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := append(sampleBatch(), fanout.Event{
		ID: "evt-4", TS: batchTime, Command: "event", Name: "scroll_depth",
		Params: map[string]any{"value": float64(75)},
	})
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("consent", "update")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues("event", "scroll_depth")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.milestones.WithLabelValues("50")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.milestones.WithLabelValues("75")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.readingSeconds, "engagement_reading_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 25, want: 25, ok: true},
		{in: int64(90), want: 90, ok: true},
		{in: 12.5, want: 12.5, ok: true},
		{in: float32(2), want: 2, ok: true},
		{in: "50", ok: false},
		{in: nil, ok: false},
	}
	for _, tc := range cases {
		got, ok := toFloat(tc.in)
		require.Equal(t, tc.ok, ok, "%v", tc.in)
		require.InDelta(t, tc.want, got, 1e-9)
	}
}
