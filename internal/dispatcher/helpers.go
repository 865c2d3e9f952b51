package dispatcher

import (
	"context"
	"fmt"
	"math"
)

// Event names emitted by the helpers.
const (
	EventPageView    = "page_view"
	EventContentView = "content_view"
	EventShare       = "share"
	EventFormStart   = "form_start"
	EventFormSubmit  = "form_submit"
	EventScrollDepth = "scroll_depth"
	EventReadingTime = "reading_time"
	EventAdminAction = "admin_action"
	EventSearch      = "search"
	EventAdView      = "ad_view"
	EventAdClick     = "ad_click"

	// PixelLead is the advertising conversion fired on a successful form submit.
	PixelLead = "Lead"
)

// ContentInfo identifies the piece of content an event is about.
type ContentInfo struct {
	ID                   string
	Title                string
	Author               string
	Category             string
	EstimatedReadingTime int
}

// Reading is one reading-time report.
type Reading struct {
	Seconds     float64
	ScrollDepth int
	Completed   bool
	Final       bool
}

// optional maps the zero value to nil so Strip drops it.
func optional[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

func (c ContentInfo) parameters() map[string]any {
	return map[string]any{
		"content_id":             c.ID,
		"content_title":          optional(c.Title),
		"author":                 optional(c.Author),
		"content_category":       optional(c.Category),
		"estimated_reading_time": optional(c.EstimatedReadingTime),
	}
}

func shape(category, label string, value any, custom map[string]any) map[string]any {
	return map[string]any{
		"event_category":    category,
		"event_label":       optional(label),
		"value":             value,
		"custom_parameters": custom,
	}
}

// PageView records a page view.
func (d *Dispatcher) PageView(ctx context.Context, path, title string) {
	params := shape("navigation", path, nil, map[string]any{"page_path": path})
	params["page_title"] = optional(title)
	d.Track(ctx, EventPageView, params)
}

// ContentView records the one impression a content view produces.
func (d *Dispatcher) ContentView(ctx context.Context, c ContentInfo) {
	d.Track(ctx, EventContentView, shape("content", c.Title, nil, c.parameters()))
}

// Share records a share of a piece of content.
func (d *Dispatcher) Share(ctx context.Context, c ContentInfo, method string) {
	custom := c.parameters()
	custom["share_method"] = method
	d.Track(ctx, EventShare, shape("social", method, nil, custom))
}

// FormStart records the first interaction with a form.
func (d *Dispatcher) FormStart(ctx context.Context, form string) {
	d.Track(ctx, EventFormStart, shape("form", form, nil, map[string]any{"form_name": form}))
}

// FormSubmit records a form submission. Successful submissions also fire the
// advertising Lead conversion.
func (d *Dispatcher) FormSubmit(ctx context.Context, form string, success bool) {
	d.Track(ctx, EventFormSubmit, shape("form", form, nil, map[string]any{
		"form_name": form,
		"success":   success,
	}))
	if success {
		d.TrackMarketing(ctx, PixelLead, map[string]any{"content_name": form})
	}
}

// ScrollDepth records a scroll milestone.
func (d *Dispatcher) ScrollDepth(ctx context.Context, c ContentInfo, depth int) {
	custom := c.parameters()
	custom["scroll_depth"] = depth
	d.Track(ctx, EventScrollDepth, shape("engagement", fmt.Sprintf("%d%%", depth), depth, custom))
}

// ReadingTime records active reading time for a view.
func (d *Dispatcher) ReadingTime(ctx context.Context, c ContentInfo, r Reading) {
	seconds := int(math.Round(r.Seconds))
	custom := c.parameters()
	custom["reading_time_seconds"] = seconds
	custom["scroll_depth"] = r.ScrollDepth
	custom["completed"] = r.Completed
	custom["final"] = r.Final
	d.Track(ctx, EventReadingTime, shape("engagement", c.Title, seconds, custom))
}

// AdminAction records an editorial action in the admin panel.
func (d *Dispatcher) AdminAction(ctx context.Context, action, target string) {
	d.Track(ctx, EventAdminAction, shape("admin", action, nil, map[string]any{
		"action": action,
		"target": optional(target),
	}))
}

// Search records a site search.
func (d *Dispatcher) Search(ctx context.Context, term string, results int) {
	params := shape("search", term, results, map[string]any{
		"search_term":   term,
		"results_count": results,
	})
	params["search_term"] = term
	d.Track(ctx, EventSearch, params)
}

// AdView records an ad impression.
func (d *Dispatcher) AdView(ctx context.Context, adID, placement string) {
	d.Track(ctx, EventAdView, shape("advertising", placement, nil, map[string]any{
		"ad_id":     adID,
		"placement": placement,
	}))
}

// AdClick records an ad click.
func (d *Dispatcher) AdClick(ctx context.Context, adID, placement string) {
	d.Track(ctx, EventAdClick, shape("advertising", placement, nil, map[string]any{
		"ad_id":     adID,
		"placement": placement,
	}))
}
