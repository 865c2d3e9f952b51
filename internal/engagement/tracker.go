// Package engagement observes a reader's scroll position, tab visibility and
// elapsed time for each mounted content view, and reports content views,
// scroll milestones and reading time through the dispatcher.
//
// Every View owns its state and milestone ledger. Scroll and visibility
// handlers and the two scheduled tasks (the active-time sampler and the
// engaged-reader reporter) serialize on the view's mutex; events are emitted
// after the mutex is released.
package engagement

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/clock/system"
	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
	"github.com/JakeFAU/engagement-tracker/internal/metrics"
)

// Tracker mounts views over one document.
type Tracker struct {
	doc      Document
	reporter *dispatcher.Dispatcher
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger
	cfg      Config

	mu    sync.Mutex
	seq   uint64
	views map[*View]struct{}
}

// NewTracker constructs a Tracker. Events carry page defaults from doc. A nil
// clock uses the system clock.
func NewTracker(
	doc Document,
	reporter *dispatcher.Dispatcher,
	clock Clock,
	ids IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if reporter != nil && doc != nil {
		reporter = reporter.WithPage(doc)
	}
	return &Tracker{
		doc:      doc,
		reporter: reporter,
		clock:    clock,
		ids:      ids,
		logger:   logger.Named("engagement"),
		cfg:      cfg.withDefaults(),
		views:    make(map[*View]struct{}),
	}
}

// Mount starts tracking one content view and emits its content-view event.
// Callers must Close the returned view exactly once on teardown; extra calls
// are ignored.
func (t *Tracker) Mount(ctx context.Context, opts Options) *View {
	v := t.newView(ctx, opts)

	t.mu.Lock()
	t.seq++
	v.seq = t.seq
	t.views[v] = struct{}{}
	t.mu.Unlock()
	metrics.ViewMounted()

	v.logger.Debug("view mounted",
		zap.Bool("scroll_tracking", v.scrollEnabled),
		zap.Bool("reading_time_tracking", v.readingEnabled),
	)
	v.emit(func(ctx context.Context, r *dispatcher.Dispatcher) {
		r.ContentView(ctx, v.info)
	})

	if v.readingEnabled {
		stopSample := t.clock.Every(t.cfg.SampleInterval, v.sample)
		stopReport := t.clock.Every(t.cfg.ReportInterval, v.report)
		v.mu.Lock()
		v.stops = append(v.stops, stopSample, stopReport)
		v.mu.Unlock()
	}
	return v
}

// Views returns the currently mounted views.
func (t *Tracker) Views() []*View {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*View, 0, len(t.views))
	for v := range t.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CloseAll closes every mounted view, as happens when the page unloads.
func (t *Tracker) CloseAll() {
	for _, v := range t.Views() {
		v.Close()
	}
}

func (t *Tracker) forget(v *View) {
	t.mu.Lock()
	delete(t.views, v)
	t.mu.Unlock()
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

func normalizeThresholds(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, th := range in {
		if th <= 0 || th > 100 {
			continue
		}
		if _, dup := seen[th]; dup {
			continue
		}
		seen[th] = struct{}{}
		out = append(out, th)
	}
	sort.Ints(out)
	return out
}
