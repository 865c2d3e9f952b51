package replay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/attribution"
	"github.com/JakeFAU/engagement-tracker/internal/clock/fake"
	"github.com/JakeFAU/engagement-tracker/internal/consent"
	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
	"github.com/JakeFAU/engagement-tracker/internal/engagement"
	"github.com/JakeFAU/engagement-tracker/internal/headless"
	"github.com/JakeFAU/engagement-tracker/internal/kv"
	"github.com/JakeFAU/engagement-tracker/internal/kv/memory"
)

const tracerName = "github.com/JakeFAU/engagement-tracker/internal/replay"

// Config wires a Runner.
type Config struct {
	Engagement       engagement.Config
	ConsentMaxAge    time.Duration
	AttributionTTL   time.Duration
	AttributionParam string
	// Records backs visitor-scoped traces. Nil keeps every trace in memory.
	Records kv.Store
	// Browser serves traces whose page is headless.
	Browser *headless.Browser
	// Forward receives a copy of every sink call, e.g. the fan-out hub.
	Forward dispatcher.Sink
	Logger  *zap.Logger
}

// Runner replays traces. It is safe for concurrent use; every Run gets its
// own clock, stores and tracker.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("replay")}
}

// Report is the outcome of one replay.
type Report struct {
	Trace       string              `json:"trace"`
	Visitor     string              `json:"visitor,omitempty"`
	Started     time.Time           `json:"started"`
	Finished    time.Time           `json:"finished"`
	Consent     *consent.Record     `json:"consent,omitempty"`
	Attribution *attribution.Record `json:"attribution,omitempty"`
	Views       []ViewReport        `json:"views"`
	Calls       []dispatcher.Call   `json:"calls"`
}

// ViewReport is the final state of one mounted view.
type ViewReport struct {
	Name string `json:"name"`
	engagement.State
}

type mounted struct {
	name     string
	view     *engagement.View
	info     dispatcher.ContentInfo
	selector string
	open     bool
}

type session struct {
	runner      *Runner
	trace       Trace
	clock       *fake.Clock
	recorder    *dispatcher.Recorder
	doc         Surface
	sim         *simDocument
	selector    string
	location    string
	consent     *consent.Store
	attribution *attribution.Store
	notifier    *dispatcher.ConsentNotifier
	dispatcher  *dispatcher.Dispatcher
	tracker     *engagement.Tracker
	views       []*mounted
	ids         seqIDs
}

// Run replays trace. Views still mounted after the last step are closed, as
// when the visitor leaves the page.
func (r *Runner) Run(ctx context.Context, trace Trace) (report Report, err error) {
	if err := trace.Validate(); err != nil {
		return Report{}, err
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "replay.run", oteltrace.WithAttributes(
		attribute.String("replay.trace", trace.Name),
		attribute.String("replay.visitor", trace.Visitor),
		attribute.Int("replay.steps", len(trace.Steps)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	start := trace.Start
	if start.IsZero() {
		start = DefaultStart
	}
	s := &session{
		runner:   r,
		trace:    trace,
		clock:    fake.New(start.UTC()),
		recorder: dispatcher.NewRecorder(),
		location: trace.Page.URL,
		ids:      seqIDs{prefix: "view"},
	}

	selector := r.cfg.Engagement.ContentSelector
	if selector == "" {
		selector = engagement.DefaultContentSelector
	}
	if trace.Page.Selector != "" {
		selector = trace.Page.Selector
	}
	s.selector = selector

	if trace.Page.Headless {
		if r.cfg.Browser == nil {
			return Report{}, errors.New("trace needs a headless browser but none is configured")
		}
		page, err := r.cfg.Browser.Open(ctx, trace.Page.URL)
		if err != nil {
			return Report{}, err
		}
		defer page.Close()
		if trace.Page.Hidden {
			page.SetVisible(false)
		}
		s.doc = page
	} else {
		s.sim = newSimDocument(trace.Page, selector)
		s.doc = s.sim
	}

	s.wire()
	logger := r.logger.With(zap.String("trace", trace.Name))
	for i, step := range trace.Steps {
		if err := ctx.Err(); err != nil {
			return Report{}, fmt.Errorf("replay canceled: %w", err)
		}
		if err := s.apply(ctx, step); err != nil {
			return Report{}, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		if step.Dwell > 0 {
			s.clock.Advance(step.Dwell)
		}
	}
	s.tracker.CloseAll()

	report = Report{
		Trace:    trace.Name,
		Visitor:  trace.Visitor,
		Started:  start.UTC(),
		Finished: s.clock.Now(),
		Views:    make([]ViewReport, 0, len(s.views)),
		Calls:    s.recorder.Calls(),
	}
	if rec, ok := s.consent.Record(ctx); ok {
		report.Consent = &rec
	}
	if rec, ok := s.attribution.Lookup(ctx); ok {
		report.Attribution = &rec
	}
	for _, m := range s.views {
		report.Views = append(report.Views, ViewReport{Name: m.name, State: m.view.State()})
	}
	logger.Info("trace replayed",
		zap.Int("steps", len(trace.Steps)),
		zap.Int("calls", len(report.Calls)),
		zap.Int("views", len(report.Views)),
	)
	return report, nil
}

func (s *session) wire() {
	cfg := s.runner.cfg
	logger := s.runner.logger

	var records kv.Store = memory.New()
	if cfg.Records != nil && s.trace.Visitor != "" {
		records = kv.WithPrefix(cfg.Records, "visitor/"+s.trace.Visitor+"/")
	}

	sink := &teeSink{primary: s.recorder, forward: cfg.Forward, logger: logger}
	s.notifier = dispatcher.NewConsentNotifier(sink, s.recorder, logger)
	s.consent = consent.New(records, consent.Config{
		Clock:    s.clock,
		Notifier: s.notifier,
		Logger:   logger,
		MaxAge:   cfg.ConsentMaxAge,
	})
	s.attribution = attribution.New(records, attribution.Config{
		Clock:  s.clock,
		Logger: logger,
		TTL:    cfg.AttributionTTL,
		Param:  cfg.AttributionParam,
	})
	s.dispatcher = dispatcher.New(dispatcher.Config{
		Sink:        sink,
		Pixel:       s.recorder,
		Page:        s.doc,
		Consent:     s.consent,
		Attribution: s.attribution,
		Clock:       s.clock,
		Logger:      logger,
	})
	s.tracker = engagement.NewTracker(s.doc, s.dispatcher, s.clock, &s.ids, cfg.Engagement, logger)
}

func (s *session) apply(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionLoad:
		return s.load(ctx, step)
	case ActionAcceptAll:
		return s.consent.AcceptAll(ctx)
	case ActionRejectAll:
		return s.consent.RejectAll(ctx)
	case ActionSavePreferences:
		return s.consent.SetPreferences(ctx, consent.Preferences{Analytics: step.Analytics, Marketing: step.Marketing})
	case ActionRevoke:
		return s.consent.Revoke(ctx)
	case ActionMount:
		return s.mount(ctx, step)
	case ActionScroll:
		return s.scroll(ctx, step)
	case ActionHide, ActionShow:
		visible := step.Action == ActionShow
		s.doc.SetVisible(visible)
		for _, m := range s.open("") {
			m.view.HandleVisibility(visible)
		}
		return nil
	case ActionAdvance:
		if step.Duration <= 0 {
			return errors.New("advance needs a positive duration")
		}
		s.clock.Advance(step.Duration)
		return nil
	case ActionUnmount:
		targets := s.open(step.View)
		if len(targets) == 0 {
			return fmt.Errorf("no mounted view %q", step.View)
		}
		for _, m := range targets {
			m.view.Close()
			m.open = false
		}
		return nil
	case ActionTrack:
		if step.Event == "" {
			return errors.New("track needs an event name")
		}
		if step.Pixel {
			s.dispatcher.TrackMarketing(ctx, step.Event, step.Params)
		} else {
			s.dispatcher.Track(ctx, step.Event, step.Params)
		}
		return nil
	case ActionSubmitForm:
		s.dispatcher.FormSubmit(ctx, step.Form, step.Success)
		return nil
	case ActionSearch:
		s.dispatcher.Search(ctx, step.Term, step.Results)
		return nil
	case ActionShare:
		return s.share(ctx, step)
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, step.Action)
	}
}

// load simulates a page load: consent defaults are pushed and the stored
// decision replayed, the attribution parameter is captured from the URL and
// a page view is tracked.
func (s *session) load(ctx context.Context, step Step) error {
	if step.URL != "" {
		s.location = step.URL
		if s.sim != nil {
			s.sim.navigate(step.URL, step.Title)
		}
	}
	s.notifier.Bootstrap(ctx, s.consent)
	if err := s.attribution.CaptureFromURL(ctx, s.location); err != nil {
		return err
	}
	path := ""
	if u, err := url.Parse(s.location); err == nil {
		path = u.Path
	}
	s.dispatcher.PageView(ctx, path, s.doc.Title())
	return nil
}

func (s *session) mount(ctx context.Context, step Step) error {
	name := step.View
	if name == "" {
		name = fmt.Sprintf("view-%d", len(s.views)+1)
	}
	if len(s.open(name)) > 0 && step.View != "" {
		return fmt.Errorf("view %q is already mounted", name)
	}
	if step.Content == nil || step.Content.ID == "" {
		return errors.New("mount needs content with an id")
	}
	c := step.Content
	selector := step.Selector
	if selector == "" {
		selector = s.selector
	}
	view := s.tracker.Mount(ctx, engagement.Options{
		ContentID:                 c.ID,
		ContentTitle:              c.Title,
		Author:                    c.Author,
		Category:                  c.Category,
		EstimatedReadingTime:      c.EstimatedReadingTime,
		ContentSelector:           selector,
		EnableScrollTracking:      step.ScrollTracking,
		EnableReadingTimeTracking: step.ReadingTracking,
		ScrollDepthThresholds:     step.Thresholds,
	})
	s.views = append(s.views, &mounted{
		name:     name,
		view:     view,
		info:     contentInfo(*c),
		selector: selector,
		open:     true,
	})
	return nil
}

func (s *session) scroll(ctx context.Context, step Step) error {
	targets := s.open(step.View)
	selector := step.Selector
	if selector == "" {
		selector = s.selector
		if len(targets) > 0 {
			selector = targets[0].selector
		}
	}
	if err := s.doc.ScrollToPercent(ctx, selector, step.Percent); err != nil {
		return err
	}
	for _, m := range targets {
		m.view.HandleScroll()
	}
	return nil
}

func (s *session) share(ctx context.Context, step Step) error {
	var info dispatcher.ContentInfo
	switch {
	case step.Content != nil:
		info = contentInfo(*step.Content)
	case step.View != "":
		m := s.find(step.View)
		if m == nil {
			return fmt.Errorf("no view %q", step.View)
		}
		info = m.info
	default:
		return errors.New("share needs content or a view")
	}
	s.dispatcher.Share(ctx, info, step.Method)
	return nil
}

// open returns the mounted views named name, or all of them when name is empty.
func (s *session) open(name string) []*mounted {
	var out []*mounted
	for _, m := range s.views {
		if m.open && (name == "" || m.name == name) {
			out = append(out, m)
		}
	}
	return out
}

func (s *session) find(name string) *mounted {
	for i := len(s.views) - 1; i >= 0; i-- {
		if s.views[i].name == name {
			return s.views[i]
		}
	}
	return nil
}

func contentInfo(c Content) dispatcher.ContentInfo {
	return dispatcher.ContentInfo{
		ID:                   c.ID,
		Title:                c.Title,
		Author:               c.Author,
		Category:             c.Category,
		EstimatedReadingTime: c.EstimatedReadingTime,
	}
}

// seqIDs names views deterministically so reports are reproducible.
type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1)), nil
}

// teeSink records every call and forwards a copy. Forwarding failures are
// logged; the recorder's outcome is what the dispatcher sees.
type teeSink struct {
	primary *dispatcher.Recorder
	forward dispatcher.Sink
	logger  *zap.Logger
}

func (t *teeSink) Available() bool {
	return t.primary.Available()
}

func (t *teeSink) Send(ctx context.Context, cmd dispatcher.Command, name string, params map[string]any) error {
	err := t.primary.Send(ctx, cmd, name, params)
	if t.forward != nil && dispatcher.SinkAvailable(t.forward) {
		if fwdErr := t.forward.Send(ctx, cmd, name, params); fwdErr != nil {
			t.logger.Warn("forward sink rejected call", zap.String("name", name), zap.Error(fwdErr))
		}
	}
	return err
}
