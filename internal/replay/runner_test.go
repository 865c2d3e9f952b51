package replay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-tracker/internal/dispatcher"
	"github.com/JakeFAU/engagement-tracker/internal/kv/memory"
)

func TestRunEngagedReaderGolden(t *testing.T) {
	t.Parallel()

	trace, err := LoadFile("testdata/engaged_reader.yaml")
	require.NoError(t, err)

	report, err := NewRunner(Config{}).Run(context.Background(), trace)
	require.NoError(t, err)

	data, err := json.MarshalIndent(report, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "engaged_reader", data)
}

func baseTrace(steps ...Step) Trace {
	return Trace{
		Name:  "inline",
		Start: time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC),
		Page: Page{
			URL:    "https://news.example.com/articles/rockets",
			Title:  "Rockets over Houston",
			Top:    600,
			Height: 2400,
		},
		Steps: steps,
	}
}

var post = &Content{ID: "post-1", Title: "Rockets over Houston"}

func names(calls []dispatcher.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Target+":"+c.Command+":"+c.Name)
	}
	return out
}

func TestRunWithoutConsentSendsOnlyConsentDefaults(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(Config{}).Run(context.Background(), baseTrace(
		Step{Action: ActionLoad},
		Step{Action: ActionMount, Content: post},
		Step{Action: ActionScroll, Percent: 100, Dwell: time.Minute},
		Step{Action: ActionSearch, Term: "rockets", Results: 3},
	))
	require.NoError(t, err)
	require.Equal(t, []string{"sink:consent:default", "pixel:revoke:"}, names(report.Calls))
	require.Nil(t, report.Consent)
	require.Nil(t, report.Attribution)
	require.Len(t, report.Views, 1)
	require.Equal(t, "view-1", report.Views[0].Name)
	require.Equal(t, []int{25, 50, 75, 90, 100}, report.Views[0].Milestones)
	require.True(t, report.Views[0].Closed)
}

func TestRunRejectAllKeepsSinksQuiet(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(Config{}).Run(context.Background(), baseTrace(
		Step{Action: ActionRejectAll},
		Step{Action: ActionMount, View: "main", Content: post},
		Step{Action: ActionSubmitForm, Form: "newsletter", Success: true},
	))
	require.NoError(t, err)
	require.Equal(t, []string{"sink:consent:update", "pixel:revoke:"}, names(report.Calls))
	require.NotNil(t, report.Consent)
	require.False(t, report.Consent.Preferences.Analytics)
}

func TestRunMarketingOnlyFiresLead(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(Config{}).Run(context.Background(), baseTrace(
		Step{Action: ActionSavePreferences, Marketing: true},
		Step{Action: ActionSubmitForm, Form: "newsletter", Success: true},
		Step{Action: ActionTrack, Event: "Purchase", Pixel: true, Params: map[string]any{"value": 9}},
	))
	require.NoError(t, err)
	require.Equal(t, []string{
		"sink:consent:update",
		"pixel:grant:",
		"pixel:track:Lead",
		"pixel:track:Purchase",
	}, names(report.Calls))
}

func TestRunRevokeStopsTracking(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(Config{}).Run(context.Background(), baseTrace(
		Step{Action: ActionAcceptAll},
		Step{Action: ActionTrack, Event: "newsletter_open"},
		Step{Action: ActionRevoke},
		Step{Action: ActionTrack, Event: "newsletter_close"},
	))
	require.NoError(t, err)
	require.Equal(t, []string{
		"sink:consent:update",
		"pixel:grant:",
		"sink:event:newsletter_open",
		"sink:consent:update",
		"pixel:revoke:",
	}, names(report.Calls))
	require.Equal(t, "denied", report.Calls[3].Params["analytics_storage"])
	require.Nil(t, report.Consent)
}

func TestRunHiddenTabPausesReading(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(Config{}).Run(context.Background(), baseTrace(
		Step{Action: ActionAcceptAll},
		Step{Action: ActionMount, View: "main", Content: post},
		Step{Action: ActionScroll, View: "main", Percent: 40, Dwell: 20 * time.Second},
		Step{Action: ActionHide},
		Step{Action: ActionAdvance, Duration: time.Minute},
	))
	require.NoError(t, err)
	view := report.Views[0]
	require.InDelta(t, 20.0, view.ActiveSeconds, 1e-9)
	require.False(t, view.Visible)
	require.Equal(t, "paused", string(view.Phase))

	var readings int
	for _, c := range report.Calls {
		if c.Name == dispatcher.EventReadingTime {
			readings++
		}
	}
	require.Equal(t, 1, readings)
}

func TestRunReturningVisitorReusesStoredConsent(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	runner := NewRunner(Config{Records: backend})

	first := baseTrace(Step{Action: ActionLoad}, Step{Action: ActionAcceptAll})
	first.Visitor = "alice"
	first.Page.URL = "https://news.example.com/articles/rockets?src=podcast"
	_, err := runner.Run(context.Background(), first)
	require.NoError(t, err)

	second := baseTrace(Step{Action: ActionLoad})
	second.Visitor = "alice"
	second.Start = second.Start.Add(24 * time.Hour)
	report, err := runner.Run(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, []string{
		"sink:consent:default",
		"sink:consent:update",
		"pixel:grant:",
		"sink:event:page_view",
	}, names(report.Calls))
	require.Equal(t, "podcast", report.Calls[3].Params["marketing_source"])
	require.Equal(t, "alice", report.Visitor)

	stranger := baseTrace(Step{Action: ActionLoad})
	stranger.Visitor = "bob"
	report, err = runner.Run(context.Background(), stranger)
	require.NoError(t, err)
	require.Equal(t, []string{"sink:consent:default", "pixel:revoke:"}, names(report.Calls))
}

func TestRunForwardsSinkCalls(t *testing.T) {
	t.Parallel()

	forward := dispatcher.NewRecorder()
	forward.FailWith(errors.New("downstream full"))
	report, err := NewRunner(Config{Forward: forward}).Run(context.Background(), baseTrace(
		Step{Action: ActionAcceptAll},
		Step{Action: ActionShare, Content: post, Method: "email"},
	))
	require.NoError(t, err)
	require.Equal(t, []string{"sink:consent:update", "sink:event:share"}, names(forward.Calls()))
	require.Equal(t, []string{"sink:consent:update", "pixel:grant:", "sink:event:share"}, names(report.Calls))
}

func TestRunStepErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]Trace{
		"unknown view":       baseTrace(Step{Action: ActionUnmount, View: "ghost"}),
		"mount without id":   baseTrace(Step{Action: ActionMount}),
		"duplicate view":     baseTrace(Step{Action: ActionMount, View: "a", Content: post}, Step{Action: ActionMount, View: "a", Content: post}),
		"zero advance":       baseTrace(Step{Action: ActionAdvance}),
		"track without name": baseTrace(Step{Action: ActionTrack}),
		"share without info": baseTrace(Step{Action: ActionShare}),
		"headless browser":   func() Trace { tr := baseTrace(); tr.Page.Headless = true; return tr }(),
	}
	for name, trace := range cases {
		_, err := NewRunner(Config{}).Run(context.Background(), trace)
		require.Error(t, err, name)
	}

	_, err := NewRunner(Config{}).Run(context.Background(), baseTrace(Step{Action: "dance"}))
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("name: x\npage: {url: https://a.example}\nsteps:\n  - action: load\n    bogus: 1\n"))
	require.Error(t, err)

	_, err = Decode(strings.NewReader("name: x\npage: {url: https://a.example}\nsteps:\n  - action: teleport\n"))
	require.ErrorIs(t, err, ErrUnknownAction)

	trace, err := Decode(strings.NewReader("name: x\npage: {url: https://a.example}\nsteps:\n  - action: advance\n    duration: 90s\n"))
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, trace.Steps[0].Duration)
}
