package engagement

import (
	"time"

	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
)

// Phase is the reading phase of a view.
type Phase string

// Phases.
const (
	PhaseNotStarted Phase = "not_started"
	PhaseReading    Phase = "reading"
	PhasePaused     Phase = "paused"
	PhaseCompleted  Phase = "completed"
	// PhaseClosed marks a view closed before it was completed.
	PhaseClosed Phase = "closed"
)

// Rect locates the content element in document coordinates.
type Rect struct {
	Top    float64
	Height float64
}

// Document is the page a view observes.
type Document interface {
	dispatcher.Page
	// ScrollTop is the document offset of the top of the viewport.
	ScrollTop() float64
	// Element locates the first element matching selector.
	Element(selector string) (Rect, bool)
	Visible() bool
}

// Clock supplies time and periodic scheduling.
type Clock interface {
	Now() time.Time
	Every(interval time.Duration, fn func()) (stop func())
}

// IDGenerator names views.
type IDGenerator interface {
	NewID() (string, error)
}

// Options describe the content a view tracks. Nil flags default to enabled.
type Options struct {
	ContentID                 string
	ContentTitle              string
	Author                    string
	Category                  string
	EstimatedReadingTime      int
	ContentSelector           string
	EnableScrollTracking      *bool
	EnableReadingTimeTracking *bool
	ScrollDepthThresholds     []int
}

// State is a snapshot of a view's engagement.
type State struct {
	ViewID        string  `json:"view_id"`
	ScrollDepth   int     `json:"scroll_depth"`
	ActiveSeconds float64 `json:"active_seconds"`
	HasStarted    bool    `json:"has_started"`
	HasCompleted  bool    `json:"has_completed"`
	Visible       bool    `json:"visible"`
	Phase         Phase   `json:"phase"`
	Milestones    []int   `json:"milestones"`
	Closed        bool    `json:"closed"`
}

// Config tunes the tracker. Zero values fall back to the defaults below.
type Config struct {
	ScrollThrottle     time.Duration
	SampleInterval     time.Duration
	ReportInterval     time.Duration
	InactivityTimeout  time.Duration
	StartThreshold     int
	CompleteThreshold  int
	ReportAfterSeconds float64
	MinFinalSeconds    float64
	Thresholds         []int
	ContentSelector    string
}

// Defaults.
const (
	DefaultScrollThrottle     = 250 * time.Millisecond
	DefaultSampleInterval     = 5 * time.Second
	DefaultReportInterval     = 30 * time.Second
	DefaultInactivityTimeout  = 30 * time.Second
	DefaultStartThreshold     = 5
	DefaultCompleteThreshold  = 90
	DefaultReportAfterSeconds = 30
	DefaultMinFinalSeconds    = 10
	DefaultContentSelector    = "article"
)

// DefaultThresholds are the scroll milestones fired when none are configured.
var DefaultThresholds = []int{25, 50, 75, 90, 100}

func (c Config) withDefaults() Config {
	if c.ScrollThrottle <= 0 {
		c.ScrollThrottle = DefaultScrollThrottle
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.StartThreshold <= 0 {
		c.StartThreshold = DefaultStartThreshold
	}
	if c.CompleteThreshold <= 0 {
		c.CompleteThreshold = DefaultCompleteThreshold
	}
	if c.ReportAfterSeconds <= 0 {
		c.ReportAfterSeconds = DefaultReportAfterSeconds
	}
	if c.MinFinalSeconds <= 0 {
		c.MinFinalSeconds = DefaultMinFinalSeconds
	}
	if len(normalizeThresholds(c.Thresholds)) == 0 {
		c.Thresholds = DefaultThresholds
	}
	if c.ContentSelector == "" {
		c.ContentSelector = DefaultContentSelector
	}
	return c
}
