package replay

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/engagement-tracker/internal/engagement"
)

// Surface is a document the runner can drive.
type Surface interface {
	engagement.Document
	ScrollToPercent(ctx context.Context, selector string, pct float64) error
	SetVisible(visible bool)
}

// simDocument is an in-memory page with a single content element.
type simDocument struct {
	mu        sync.Mutex
	title     string
	location  string
	selector  string
	rect      engagement.Rect
	scrollTop float64
	visible   bool
}

func newSimDocument(p Page, defaultSelector string) *simDocument {
	selector := p.Selector
	if selector == "" {
		selector = defaultSelector
	}
	return &simDocument{
		title:    p.Title,
		location: p.URL,
		selector: selector,
		rect:     engagement.Rect{Top: p.Top, Height: p.Height},
		visible:  !p.Hidden,
	}
}

func (d *simDocument) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

func (d *simDocument) Location() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.location
}

func (d *simDocument) ScrollTop() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollTop
}

// Element matches the page's content selector only.
func (d *simDocument) Element(selector string) (engagement.Rect, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if selector != d.selector || d.rect.Height <= 0 {
		return engagement.Rect{}, false
	}
	return d.rect, true
}

func (d *simDocument) Visible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

func (d *simDocument) ScrollToPercent(_ context.Context, selector string, pct float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if selector != d.selector {
		return fmt.Errorf("element %q not found", selector)
	}
	d.scrollTop = d.rect.Top + d.rect.Height*pct/100
	return nil
}

func (d *simDocument) SetVisible(visible bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible = visible
}

// navigate moves the simulated page to a new URL.
func (d *simDocument) navigate(url, title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.location = url
	if title != "" {
		d.title = title
	}
	d.scrollTop = 0
}
