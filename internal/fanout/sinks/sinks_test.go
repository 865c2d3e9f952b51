package sinks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/engagement-tracker/internal/fanout"
	"github.com/JakeFAU/engagement-tracker/internal/storage/memory"
)

var batchTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func sampleBatch() []fanout.Event {
	return []fanout.Event{
		{
			ID: "evt-1", TS: batchTime, Command: "consent", Name: "update",
			Params: map[string]any{"analytics_storage": "granted"},
		},
		{
			ID: "evt-2", TS: batchTime.Add(time.Second), Command: "event", Name: "scroll_depth",
			Params: map[string]any{"value": 50, "event_label": "50%"},
		},
		{
			ID: "evt-3", TS: batchTime.Add(2 * time.Second), Command: "event", Name: "reading_time",
			Params: map[string]any{
				"value":             45,
				"custom_parameters": map[string]any{"final": true, "completed": false},
			},
		},
	}
}

func TestLogSinkWritesOneEntryPerEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("tracking event").All()
	require.Len(t, entries, 3)
	fields := entries[1].ContextMap()
	require.Equal(t, "evt-2", fields["id"])
	require.Equal(t, "event", fields["command"])
	require.Equal(t, "scroll_depth", fields["name"])
	require.Equal(t, "log", sink.Name())
}

func TestMemorySinkKeepsOrder(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	batch := sampleBatch()
	require.NoError(t, sink.Consume(context.Background(), batch[:1]))
	require.NoError(t, sink.Consume(context.Background(), batch[1:]))

	events := sink.Events()
	require.Len(t, events, 3)
	require.Equal(t, "evt-1", events[0].ID)
	require.Equal(t, "evt-3", events[2].ID)

	require.False(t, sink.Closed())
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, sink.Closed())
}

func TestArchiveSinkWritesNDJSON(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	sink, err := NewArchiveSink(store, "", nil)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.NoError(t, sink.Consume(context.Background(), nil))

	paths := store.Paths()
	require.Equal(t, []string{"events/2024/05/10/20240510T120000.000Z-000001.ndjson"}, paths)

	data, contentType, ok := store.Object(paths[0])
	require.True(t, ok)
	require.Equal(t, ArchiveContentType, contentType)

	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var evt fanout.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		names = append(names, evt.Name)
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{"update", "scroll_depth", "reading_time"}, names)
}

func TestArchiveSinkSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	sink, err := NewArchiveSink(failingStore{}, "archive", nil)
	require.NoError(t, err)
	err = sink.Consume(context.Background(), sampleBatch())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "bucket unavailable"))

	_, err = NewArchiveSink(nil, "", nil)
	require.Error(t, err)
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}
