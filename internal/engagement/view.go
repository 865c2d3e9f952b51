package engagement

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
	"github.com/JakeFAU/engagement-tracker/internal/metrics"
)

// View is one mounted piece of content.
type View struct {
	id             string
	seq            uint64
	tracker        *Tracker
	ctx            context.Context
	logger         *zap.Logger
	info           dispatcher.ContentInfo
	selector       string
	scrollEnabled  bool
	readingEnabled bool
	thresholds     []int
	cfg            Config

	closeOnce sync.Once

	mu           sync.Mutex
	limiter      *rate.Limiter
	viewStart    time.Time
	lastActiveAt time.Time
	depth        int
	active       float64
	started      bool
	completed    bool
	visible      bool
	ledger       map[int]struct{}
	milestones   []int
	stops        []func()
	closed       bool
}

func (t *Tracker) newView(ctx context.Context, opts Options) *View {
	id := ""
	if t.ids != nil {
		generated, err := t.ids.NewID()
		if err != nil {
			t.logger.Warn("generate view id", zap.Error(err))
		} else {
			id = generated
		}
	}
	selector := opts.ContentSelector
	if selector == "" {
		selector = t.cfg.ContentSelector
	}
	thresholds := normalizeThresholds(opts.ScrollDepthThresholds)
	if len(thresholds) == 0 {
		thresholds = normalizeThresholds(t.cfg.Thresholds)
	}
	now := t.clock.Now()
	visible := false
	if t.doc != nil {
		visible = t.doc.Visible()
	}
	return &View{
		id:      id,
		tracker: t,
		ctx:     context.WithoutCancel(ctx),
		logger:  t.logger.With(zap.String("view_id", id), zap.String("content_id", opts.ContentID)),
		info: dispatcher.ContentInfo{
			ID:                   opts.ContentID,
			Title:                opts.ContentTitle,
			Author:               opts.Author,
			Category:             opts.Category,
			EstimatedReadingTime: opts.EstimatedReadingTime,
		},
		selector:       selector,
		scrollEnabled:  enabled(opts.EnableScrollTracking),
		readingEnabled: enabled(opts.EnableReadingTimeTracking),
		thresholds:     thresholds,
		cfg:            t.cfg,
		limiter:        rate.NewLimiter(rate.Every(t.cfg.ScrollThrottle), 1),
		viewStart:      now,
		lastActiveAt:   now,
		visible:        visible,
		ledger:         make(map[int]struct{}, len(thresholds)),
	}
}

// ID returns the view identifier.
func (v *View) ID() string { return v.id }

// HandleScroll records a scroll observation. Recomputation is throttled;
// observations inside the throttle window are dropped.
func (v *View) HandleScroll() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	now := v.tracker.clock.Now()
	v.lastActiveAt = now
	if !v.scrollEnabled || !v.limiter.AllowN(now, 1) {
		v.mu.Unlock()
		return
	}
	fired := v.recomputeLocked()
	depth := v.depth
	v.mu.Unlock()

	if len(fired) > 0 {
		v.logger.Debug("scroll milestones reached", zap.Ints("milestones", fired), zap.Int("depth", depth))
	}
	for _, th := range fired {
		v.emit(func(ctx context.Context, r *dispatcher.Dispatcher) {
			r.ScrollDepth(ctx, v.info, th)
		})
	}
}

// HandleVisibility records a tab visibility change. Becoming visible counts
// as activity.
func (v *View) HandleVisibility(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.visible = visible
	if visible {
		v.lastActiveAt = v.tracker.clock.Now()
	}
}

// State returns a snapshot of the view's engagement.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return State{
		ViewID:        v.id,
		ScrollDepth:   v.depth,
		ActiveSeconds: v.active,
		HasStarted:    v.started,
		HasCompleted:  v.completed,
		Visible:       v.visible,
		Phase:         v.phaseLocked(v.tracker.clock.Now()),
		Milestones:    append([]int(nil), v.milestones...),
		Closed:        v.closed,
	}
}

// Close stops the scheduled tasks, waits for any in-flight tick and sends the
// final reading-time report. Only the first call has an effect.
func (v *View) Close() {
	v.closeOnce.Do(v.close)
}

func (v *View) close() {
	v.mu.Lock()
	stops := v.stops
	v.stops = nil
	v.mu.Unlock()
	for _, stop := range stops {
		stop()
	}

	v.mu.Lock()
	if v.scrollEnabled {
		v.latchLocked(v.measure())
	}
	if v.readingEnabled {
		v.sampleLocked(v.tracker.clock.Now())
	}
	reading := dispatcher.Reading{
		Seconds:     v.active,
		ScrollDepth: v.depth,
		Completed:   v.completed,
		Final:       true,
	}
	v.closed = true
	v.mu.Unlock()

	v.tracker.forget(v)
	metrics.ViewClosed()
	v.logger.Debug("view closed",
		zap.Float64("active_seconds", reading.Seconds),
		zap.Int("scroll_depth", reading.ScrollDepth),
		zap.Bool("completed", reading.Completed),
	)

	if v.readingEnabled && reading.Seconds > v.cfg.MinFinalSeconds {
		v.emit(func(ctx context.Context, r *dispatcher.Dispatcher) {
			r.ReadingTime(ctx, v.info, reading)
		})
	}
}

// sample runs on the sampler schedule.
func (v *View) sample() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.sampleLocked(v.tracker.clock.Now())
}

// sampleLocked advances active time only while the tab is visible and the
// reader was active within the inactivity timeout. Elapsed time is measured
// on the wall clock from the start of the view.
func (v *View) sampleLocked(now time.Time) {
	if !v.visible || now.Sub(v.lastActiveAt) >= v.cfg.InactivityTimeout {
		return
	}
	elapsed := now.Sub(v.viewStart).Seconds()
	if elapsed < 0 {
		return
	}
	v.active = elapsed
}

// report runs on the reporter schedule.
func (v *View) report() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	due := v.active > v.cfg.ReportAfterSeconds && v.started && !v.completed && v.visible
	reading := dispatcher.Reading{Seconds: v.active, ScrollDepth: v.depth}
	v.mu.Unlock()

	if due {
		v.emit(func(ctx context.Context, r *dispatcher.Dispatcher) {
			r.ReadingTime(ctx, v.info, reading)
		})
	}
}

// recomputeLocked measures depth, latches the started and completed flags
// and returns the thresholds that fired for the first time.
func (v *View) recomputeLocked() []int {
	v.latchLocked(v.measure())
	var fired []int
	for _, th := range v.thresholds {
		if v.depth < th {
			break
		}
		if _, done := v.ledger[th]; done {
			continue
		}
		v.ledger[th] = struct{}{}
		v.milestones = append(v.milestones, th)
		fired = append(fired, th)
	}
	return fired
}

// latchLocked folds a measured depth into the view and latches the started
// and completed flags. Depth never decreases.
func (v *View) latchLocked(measured int) {
	if measured > v.depth {
		v.depth = measured
	}
	if v.depth > v.cfg.StartThreshold {
		v.started = true
	}
	if v.depth >= v.cfg.CompleteThreshold {
		v.completed = true
	}
}

// measure returns how far the viewport has scrolled past the top of the
// content element, as a percentage of its height. A missing or empty
// element measures 0.
func (v *View) measure() int {
	doc := v.tracker.doc
	if doc == nil {
		return 0
	}
	rect, ok := doc.Element(v.selector)
	if !ok || rect.Height <= 0 {
		return 0
	}
	scrolled := math.Max(0, doc.ScrollTop()-rect.Top)
	return int(math.Round(math.Min(100, scrolled/rect.Height*100)))
}

func (v *View) phaseLocked(now time.Time) Phase {
	switch {
	case v.completed:
		return PhaseCompleted
	case v.closed:
		return PhaseClosed
	case !v.started:
		return PhaseNotStarted
	case !v.visible || now.Sub(v.lastActiveAt) >= v.cfg.InactivityTimeout:
		return PhasePaused
	default:
		return PhaseReading
	}
}

func (v *View) emit(fn func(ctx context.Context, r *dispatcher.Dispatcher)) {
	if v.tracker.reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("engagement report panicked", zap.Any("panic", r))
		}
	}()
	fn(v.ctx, v.tracker.reporter)
}
