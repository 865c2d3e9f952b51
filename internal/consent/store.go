// Package consent persists and enforces a visitor's cookie-consent decision.
//
// The decision is spread over three records: a flag, the preferences JSON and
// the ISO-8601 date it was granted. A decision older than MaxAge is treated as
// absent but stays on disk until Revoke. Any record that cannot be read or
// parsed is treated as no consent.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/kv"
)

// Record keys owned by this package.
const (
	FlagKey        = "cookie-consent"
	PreferencesKey = "cookie-preferences"
	DateKey        = "cookie-consent-date"
)

// DefaultMaxAge is how long a decision stays valid.
const DefaultMaxAge = 365 * 24 * time.Hour

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Notifier propagates a consent change to the external sinks.
type Notifier interface {
	ApplyConsent(ctx context.Context, prefs Preferences)
}

// Record is a stored, unexpired decision.
type Record struct {
	Preferences Preferences `json:"preferences"`
	GrantedAt   time.Time   `json:"granted_at"`
}

// Config wires the store's collaborators. Zero values fall back to defaults.
type Config struct {
	Clock    Clock
	Notifier Notifier
	Logger   *zap.Logger
	MaxAge   time.Duration
}

// Store is the single writer of the consent records.
type Store struct {
	records  kv.Store
	clock    Clock
	notifier Notifier
	logger   *zap.Logger
	maxAge   time.Duration
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New constructs a Store over records.
func New(records kv.Store, cfg Config) *Store {
	s := &Store{
		records:  records,
		clock:    cfg.Clock,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		maxAge:   cfg.MaxAge,
	}
	if s.clock == nil {
		s.clock = wallClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	return s
}

// Record returns the stored decision if it exists, parses and has not expired.
func (s *Store) Record(ctx context.Context) (Record, bool) {
	rec, err := s.load(ctx)
	if err != nil {
		s.logger.Debug("consent record unreadable, treating as absent", zap.Error(err))
		return Record{}, false
	}
	if rec == nil {
		return Record{}, false
	}
	if s.clock.Now().Sub(rec.GrantedAt) > s.maxAge {
		return Record{}, false
	}
	return *rec, true
}

// Preferences returns the current preferences, or false when there is no
// valid decision.
func (s *Store) Preferences(ctx context.Context) (Preferences, bool) {
	rec, ok := s.Record(ctx)
	return rec.Preferences, ok
}

// HasConsent reports whether a valid decision exists.
func (s *Store) HasConsent(ctx context.Context) bool {
	_, ok := s.Record(ctx)
	return ok
}

// SetPreferences persists prefs with the current time and notifies the sinks.
func (s *Store) SetPreferences(ctx context.Context, prefs Preferences) error {
	body, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	now := s.clock.Now().UTC()
	// The flag is written last so a partial write reads back as no consent.
	if err := s.records.Set(ctx, PreferencesKey, string(body)); err != nil {
		return fmt.Errorf("store preferences: %w", err)
	}
	if err := s.records.Set(ctx, DateKey, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("store consent date: %w", err)
	}
	if err := s.records.Set(ctx, FlagKey, "true"); err != nil {
		return fmt.Errorf("store consent flag: %w", err)
	}
	s.logger.Debug("consent updated",
		zap.Bool("analytics", prefs.Analytics),
		zap.Bool("marketing", prefs.Marketing),
	)
	s.notify(ctx, prefs)
	return nil
}

// AcceptAll grants every category.
func (s *Store) AcceptAll(ctx context.Context) error {
	return s.SetPreferences(ctx, AllGranted)
}

// RejectAll keeps only strictly necessary storage.
func (s *Store) RejectAll(ctx context.Context) error {
	return s.SetPreferences(ctx, AllDenied)
}

// Revoke removes every consent record and notifies the sinks that everything
// is denied. Every removal is attempted; failures are joined.
func (s *Store) Revoke(ctx context.Context) error {
	var errs []error
	for _, key := range []string{FlagKey, PreferencesKey, DateKey} {
		if err := s.records.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	s.notify(ctx, AllDenied)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, prefs Preferences) {
	if s.notifier == nil {
		return
	}
	s.notifier.ApplyConsent(ctx, prefs)
}

func (s *Store) load(ctx context.Context) (*Record, error) {
	flag, ok, err := s.records.Get(ctx, FlagKey)
	if err != nil {
		return nil, fmt.Errorf("read consent flag: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if flag != "true" {
		return nil, fmt.Errorf("unexpected consent flag %q", flag)
	}
	rawPrefs, ok, err := s.records.Get(ctx, PreferencesKey)
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if !ok {
		return nil, errors.New("consent flag set without preferences")
	}
	var prefs Preferences
	if err := json.Unmarshal([]byte(rawPrefs), &prefs); err != nil {
		return nil, err
	}
	rawDate, ok, err := s.records.Get(ctx, DateKey)
	if err != nil {
		return nil, fmt.Errorf("read consent date: %w", err)
	}
	if !ok {
		return nil, errors.New("consent flag set without date")
	}
	grantedAt, err := time.Parse(time.RFC3339Nano, rawDate)
	if err != nil {
		return nil, fmt.Errorf("parse consent date: %w", err)
	}
	return &Record{Preferences: prefs, GrantedAt: grantedAt}, nil
}
