package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/fanout"
	"github.com/JakeFAU/engagement-tracker/internal/storage"
)

// ArchiveContentType is the content type of archived batches.
const ArchiveContentType = "application/x-ndjson"

// ArchiveSink writes each batch as one newline-delimited JSON object to a
// blob store, partitioned by the UTC date of the batch's first event:
//
//	<prefix>/2024/05/10/20240510T120000.000Z-000001.ndjson
type ArchiveSink struct {
	store  storage.BlobStore
	prefix string
	seq    atomic.Int64
	logger *zap.Logger
}

// NewArchiveSink constructs an ArchiveSink. An empty prefix defaults to "events".
func NewArchiveSink(store storage.BlobStore, prefix string, logger *zap.Logger) (*ArchiveSink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if prefix == "" {
		prefix = "events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{store: store, prefix: prefix, logger: logger}, nil
}

// Name implements fanout.Named.
func (s *ArchiveSink) Name() string { return "archive" }

// Consume encodes and uploads the batch.
func (s *ArchiveSink) Consume(ctx context.Context, batch []fanout.Event) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, evt := range batch {
		if err := enc.Encode(evt); err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID, err)
		}
	}
	path := s.objectPath(batch[0].TS)
	uri, err := s.store.PutObject(ctx, path, ArchiveContentType, &buf)
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	s.logger.Debug("archived batch", zap.String("uri", uri), zap.Int("events", len(batch)))
	return nil
}

func (s *ArchiveSink) objectPath(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s/%s/%s-%06d.ndjson",
		s.prefix, ts.Format("2006/01/02"), ts.Format("20060102T150405.000Z"), s.seq.Add(1))
}

// Close implements the Sink interface; it performs no action.
func (s *ArchiveSink) Close(context.Context) error {
	return nil
}
