// Package replay drives the tracking engine through a scripted visitor
// session on a simulated clock and reports every call that reached the
// analytics sink or the advertising pixel.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownAction is returned for a step whose action is not recognised.
var ErrUnknownAction = errors.New("unknown replay action")

// Step actions.
const (
	ActionLoad            = "load"
	ActionAcceptAll       = "accept_all"
	ActionRejectAll       = "reject_all"
	ActionSavePreferences = "save_preferences"
	ActionRevoke          = "revoke"
	ActionMount           = "mount"
	ActionScroll          = "scroll"
	ActionHide            = "hide"
	ActionShow            = "show"
	ActionAdvance         = "advance"
	ActionUnmount         = "unmount"
	ActionTrack           = "track"
	ActionSubmitForm      = "submit_form"
	ActionSearch          = "search"
	ActionShare           = "share"
)

// DefaultStart is the simulated start time of traces that do not set one.
var DefaultStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// Trace is a scripted visitor session.
type Trace struct {
	Name string `yaml:"name" json:"name"`
	// Visitor scopes stored consent and attribution records so a later trace
	// for the same visitor sees them. Empty means a fresh visitor.
	Visitor string    `yaml:"visitor,omitempty" json:"visitor,omitempty"`
	Start   time.Time `yaml:"start,omitempty" json:"start,omitempty"`
	Page    Page      `yaml:"page" json:"page"`
	Steps   []Step    `yaml:"steps" json:"steps"`
}

// Page describes the simulated document.
type Page struct {
	URL      string  `yaml:"url" json:"url"`
	Title    string  `yaml:"title,omitempty" json:"title,omitempty"`
	Selector string  `yaml:"selector,omitempty" json:"selector,omitempty"`
	Top      float64 `yaml:"top,omitempty" json:"top,omitempty"`
	Height   float64 `yaml:"height,omitempty" json:"height,omitempty"`
	Hidden   bool    `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	// Headless measures the live page at URL instead of simulating it.
	Headless bool `yaml:"headless,omitempty" json:"headless,omitempty"`
}

// Content identifies what a mounted view shows.
type Content struct {
	ID                   string `yaml:"id" json:"id"`
	Title                string `yaml:"title,omitempty" json:"title,omitempty"`
	Author               string `yaml:"author,omitempty" json:"author,omitempty"`
	Category             string `yaml:"category,omitempty" json:"category,omitempty"`
	EstimatedReadingTime int    `yaml:"estimated_reading_time,omitempty" json:"estimated_reading_time,omitempty"`
}

// Step is one visitor action. Only the fields relevant to Action are read.
type Step struct {
	Action string `yaml:"action" json:"action"`

	// load
	URL   string `yaml:"url,omitempty" json:"url,omitempty"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`

	// save_preferences
	Analytics bool `yaml:"analytics,omitempty" json:"analytics,omitempty"`
	Marketing bool `yaml:"marketing,omitempty" json:"marketing,omitempty"`

	// mount, scroll, unmount, share
	View            string   `yaml:"view,omitempty" json:"view,omitempty"`
	Content         *Content `yaml:"content,omitempty" json:"content,omitempty"`
	Selector        string   `yaml:"selector,omitempty" json:"selector,omitempty"`
	Thresholds      []int    `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	ScrollTracking  *bool    `yaml:"scroll_tracking,omitempty" json:"scroll_tracking,omitempty"`
	ReadingTracking *bool    `yaml:"reading_tracking,omitempty" json:"reading_tracking,omitempty"`

	// scroll
	Percent float64 `yaml:"percent,omitempty" json:"percent,omitempty"`
	// Dwell advances the clock after the step.
	Dwell time.Duration `yaml:"dwell,omitempty" json:"dwell,omitempty"`

	// advance
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`

	// track
	Event  string         `yaml:"event,omitempty" json:"event,omitempty"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Pixel  bool           `yaml:"pixel,omitempty" json:"pixel,omitempty"`

	// submit_form
	Form    string `yaml:"form,omitempty" json:"form,omitempty"`
	Success bool   `yaml:"success,omitempty" json:"success,omitempty"`

	// search
	Term    string `yaml:"term,omitempty" json:"term,omitempty"`
	Results int    `yaml:"results,omitempty" json:"results,omitempty"`

	// share
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
}

// Decode reads a YAML trace. Unknown fields are rejected.
func Decode(r io.Reader) (Trace, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var trace Trace
	if err := dec.Decode(&trace); err != nil {
		return Trace{}, fmt.Errorf("decode trace: %w", err)
	}
	if err := trace.Validate(); err != nil {
		return Trace{}, err
	}
	return trace, nil
}

// LoadFile reads a YAML trace from path.
func LoadFile(path string) (Trace, error) {
	// #nosec G304 -- trace paths come from the operator.
	f, err := os.Open(path)
	if err != nil {
		return Trace{}, fmt.Errorf("open trace: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Validate checks that every step names a known action.
func (t Trace) Validate() error {
	if t.Page.URL == "" {
		return errors.New("trace page url is required")
	}
	for i, step := range t.Steps {
		switch step.Action {
		case ActionLoad, ActionAcceptAll, ActionRejectAll, ActionSavePreferences, ActionRevoke,
			ActionMount, ActionScroll, ActionHide, ActionShow, ActionAdvance, ActionUnmount,
			ActionTrack, ActionSubmitForm, ActionSearch, ActionShare:
		default:
			return fmt.Errorf("step %d: %w %q", i+1, ErrUnknownAction, step.Action)
		}
	}
	return nil
}
