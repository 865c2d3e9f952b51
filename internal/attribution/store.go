// Package attribution keeps the single marketing-source record a visitor
// arrived with. The record expires independently of consent and is deleted
// on the first read after expiry.
package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/kv"
)

// Key is the record key owned by this package.
const Key = "marketing-attribution"

// Defaults for Config.
const (
	DefaultTTL   = 30 * 24 * time.Hour
	DefaultParam = "src"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Record is the persisted attribution. Times are Unix milliseconds.
type Record struct {
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
	Expires   int64  `json:"expires"`
}

// Config wires the store's collaborators. Zero values fall back to defaults.
type Config struct {
	Clock  Clock
	Logger *zap.Logger
	TTL    time.Duration
	Param  string
}

// Store is the single writer of the attribution record.
type Store struct {
	records kv.Store
	clock   Clock
	logger  *zap.Logger
	ttl     time.Duration
	param   string
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New constructs a Store over records.
func New(records kv.Store, cfg Config) *Store {
	s := &Store{
		records: records,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		ttl:     cfg.TTL,
		param:   cfg.Param,
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.param == "" {
		s.param = DefaultParam
	}
	return s
}

// Param returns the query parameter CaptureFromURL reads.
func (s *Store) Param() string { return s.param }

// Capture overwrites the record with source. An empty source is ignored.
func (s *Store) Capture(ctx context.Context, source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil
	}
	now := s.clock.Now()
	rec := Record{
		Source:    source,
		Timestamp: now.UnixMilli(),
		Expires:   now.Add(s.ttl).UnixMilli(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attribution: %w", err)
	}
	if err := s.records.Set(ctx, Key, string(body)); err != nil {
		return fmt.Errorf("store attribution: %w", err)
	}
	s.logger.Debug("attribution captured", zap.String("source", source))
	return nil
}

// CaptureFromURL captures the configured query parameter of rawURL. When the
// parameter is absent the existing record is left untouched.
func (s *Store) CaptureFromURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	return s.Capture(ctx, u.Query().Get(s.param))
}

// Current returns the source if the record exists and has not expired.
// Expired or unreadable records are removed.
func (s *Store) Current(ctx context.Context) (string, bool) {
	rec, ok := s.Lookup(ctx)
	return rec.Source, ok
}

// Lookup is Current with the full record.
func (s *Store) Lookup(ctx context.Context) (Record, bool) {
	raw, ok, err := s.records.Get(ctx, Key)
	if err != nil {
		s.logger.Debug("attribution unreadable, treating as absent", zap.Error(err))
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Source == "" {
		s.evict(ctx, "malformed")
		return Record{}, false
	}
	if s.clock.Now().UnixMilli() > rec.Expires {
		s.evict(ctx, "expired")
		return Record{}, false
	}
	return rec, true
}

// Clear removes the record.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.records.Remove(ctx, Key); err != nil {
		return fmt.Errorf("clear attribution: %w", err)
	}
	return nil
}

func (s *Store) evict(ctx context.Context, reason string) {
	if err := s.records.Remove(ctx, Key); err != nil {
		s.logger.Warn("evict attribution", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Debug("attribution evicted", zap.String("reason", reason))
}
