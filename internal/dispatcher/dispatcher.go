// Package dispatcher is the single funnel every analytics event passes
// through. It checks consent before doing anything else, enriches the event
// with page and attribution context, strips absent values and forwards the
// result to the analytics sink.
package dispatcher

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/consent"
	"github.com/JakeFAU/engagement-tracker/internal/metrics"
)

// Command is the first argument of a sink call.
type Command string

// Sink commands.
const (
	CommandEvent   Command = "event"
	CommandConfig  Command = "config"
	CommandConsent Command = "consent"
)

// TimestampLayout is the format of the timestamp added to every event.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Sink is the external analytics service. A nil Sink, or one whose
// Available method reports false, means tracking is unavailable.
type Sink interface {
	Send(ctx context.Context, cmd Command, name string, params map[string]any) error
}

// Availability is optionally implemented by sinks that can be switched off.
type Availability interface {
	Available() bool
}

// Pixel is the optional advertising pixel, gated by the marketing preference.
type Pixel interface {
	Grant(ctx context.Context) error
	Revoke(ctx context.Context) error
	Track(ctx context.Context, name string, params map[string]any) error
}

// Page describes the document the visitor is looking at.
type Page interface {
	Title() string
	Location() string
}

// ConsentReader exposes the visitor's current decision.
type ConsentReader interface {
	Preferences(ctx context.Context) (consent.Preferences, bool)
}

// AttributionReader exposes the current marketing source.
type AttributionReader interface {
	Current(ctx context.Context) (string, bool)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Config wires the dispatcher. Consent is required; everything else is optional.
type Config struct {
	Sink        Sink
	Pixel       Pixel
	Page        Page
	Consent     ConsentReader
	Attribution AttributionReader
	Clock       Clock
	Logger      *zap.Logger
}

// Dispatcher gates, enriches and forwards events.
type Dispatcher struct {
	sink        Sink
	pixel       Pixel
	page        Page
	consent     ConsentReader
	attribution AttributionReader
	clock       Clock
	logger      *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		sink:        cfg.Sink,
		pixel:       cfg.Pixel,
		page:        cfg.Page,
		consent:     cfg.Consent,
		attribution: cfg.Attribution,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if d.clock == nil {
		d.clock = wallClock{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// WithPage returns a copy of d bound to page. Views use this so page defaults
// come from the document they observe.
func (d *Dispatcher) WithPage(page Page) *Dispatcher {
	clone := *d
	clone.page = page
	return &clone
}

// Track forwards an analytics event when the visitor allows analytics.
func (d *Dispatcher) Track(ctx context.Context, name string, params map[string]any) {
	if !SinkAvailable(d.sink) {
		d.logger.Debug("analytics sink unavailable, skipping event", zap.String("event", name))
		metrics.ObserveDispatch(string(CommandEvent), metrics.OutcomeNoSink)
		return
	}
	if !d.allowed(ctx, func(p consent.Preferences) bool { return p.Analytics }) {
		metrics.ObserveDispatch(string(CommandEvent), metrics.OutcomeNoConsent)
		return
	}
	payload := d.enrich(ctx, params)
	if err := d.sink.Send(ctx, CommandEvent, name, payload); err != nil {
		d.logger.Warn("analytics sink rejected event", zap.String("event", name), zap.Error(err))
		metrics.ObserveDispatch(string(CommandEvent), metrics.OutcomeError)
		return
	}
	metrics.ObserveDispatch(string(CommandEvent), metrics.OutcomeSent)
}

// TrackMarketing forwards a conversion to the advertising pixel when the
// visitor allows marketing.
func (d *Dispatcher) TrackMarketing(ctx context.Context, name string, params map[string]any) {
	if d.pixel == nil {
		d.logger.Debug("advertising pixel unavailable, skipping event", zap.String("event", name))
		metrics.ObserveDispatch("pixel", metrics.OutcomeNoSink)
		return
	}
	if !d.allowed(ctx, func(p consent.Preferences) bool { return p.Marketing }) {
		metrics.ObserveDispatch("pixel", metrics.OutcomeNoConsent)
		return
	}
	payload := d.enrich(ctx, params)
	if err := d.pixel.Track(ctx, name, payload); err != nil {
		d.logger.Warn("advertising pixel rejected event", zap.String("event", name), zap.Error(err))
		metrics.ObserveDispatch("pixel", metrics.OutcomeError)
		return
	}
	metrics.ObserveDispatch("pixel", metrics.OutcomeSent)
}

// Configure sends a config command for a measurement target. It is gated the
// same way as Track.
func (d *Dispatcher) Configure(ctx context.Context, target string, params map[string]any) {
	if !SinkAvailable(d.sink) {
		d.logger.Debug("analytics sink unavailable, skipping config", zap.String("target", target))
		metrics.ObserveDispatch(string(CommandConfig), metrics.OutcomeNoSink)
		return
	}
	if !d.allowed(ctx, func(p consent.Preferences) bool { return p.Analytics }) {
		metrics.ObserveDispatch(string(CommandConfig), metrics.OutcomeNoConsent)
		return
	}
	if err := d.sink.Send(ctx, CommandConfig, target, Strip(params)); err != nil {
		d.logger.Warn("analytics sink rejected config", zap.String("target", target), zap.Error(err))
		metrics.ObserveDispatch(string(CommandConfig), metrics.OutcomeError)
		return
	}
	metrics.ObserveDispatch(string(CommandConfig), metrics.OutcomeSent)
}

func (d *Dispatcher) allowed(ctx context.Context, permits func(consent.Preferences) bool) bool {
	if d.consent == nil {
		return false
	}
	prefs, ok := d.consent.Preferences(ctx)
	return ok && permits(prefs)
}

func (d *Dispatcher) enrich(ctx context.Context, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+4)
	for k, v := range params {
		out[k] = v
	}
	if d.page != nil {
		if absent(out["page_title"]) {
			out["page_title"] = d.page.Title()
		}
		if absent(out["page_location"]) {
			out["page_location"] = d.page.Location()
		}
	}
	if d.attribution != nil {
		if source, ok := d.attribution.Current(ctx); ok {
			out["marketing_source"] = source
		}
	}
	out["timestamp"] = d.clock.Now().UTC().Format(TimestampLayout)
	return Strip(out)
}

// SinkAvailable reports whether s can accept calls.
func SinkAvailable(s Sink) bool {
	if s == nil {
		return false
	}
	if a, ok := s.(Availability); ok {
		return a.Available()
	}
	return true
}

// Strip returns a copy of params without absent values. Nested
// map[string]any values are stripped recursively.
func Strip(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if absent(v) {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Strip(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func absent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
