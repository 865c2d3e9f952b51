package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/engagement"
)

// Measurement is one read of the live document.
type Measurement struct {
	Title     string  `json:"title"`
	Location  string  `json:"location"`
	ScrollTop float64 `json:"scrollTop"`
	Visible   bool    `json:"visible"`
	Found     bool    `json:"found"`
	Top       float64 `json:"top"`
	Height    float64 `json:"height"`
}

// Page is an open tab. It implements engagement.Document; the synchronous
// accessors evaluate against the live DOM and log failures instead of
// returning them.
type Page struct {
	tab     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
	release func()

	mu        sync.Mutex
	hidden    bool
	closeOnce sync.Once
}

var _ engagement.Document = (*Page)(nil)

// measureScript builds the expression that reads the document and, when
// selector is non-empty, the first element matching it in document
// coordinates.
func measureScript(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	return fmt.Sprintf(`(() => {
	const sel = %s;
	const top = window.pageYOffset || document.documentElement.scrollTop || 0;
	const el = sel ? document.querySelector(sel) : null;
	const r = el ? el.getBoundingClientRect() : null;
	return {
		title: document.title,
		location: window.location.href,
		scrollTop: top,
		visible: document.visibilityState === "visible",
		found: !!el,
		top: r ? r.top + top : 0,
		height: r ? r.height : 0,
	};
})()`, quoted), nil
}

// Measure reads the document and the element matching selector.
func (p *Page) Measure(ctx context.Context, selector string) (Measurement, error) {
	script, err := measureScript(selector)
	if err != nil {
		return Measurement{}, err
	}
	runCtx, cancel := context.WithTimeout(p.tab, p.timeout)
	defer cancel()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	var m Measurement
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &m)); err != nil {
		return Measurement{}, fmt.Errorf("measure page: %w", err)
	}
	return m, nil
}

// ScrollTo scrolls the window to the absolute document offset y.
func (p *Page) ScrollTo(ctx context.Context, y float64) error {
	runCtx, cancel := context.WithTimeout(p.tab, p.timeout)
	defer cancel()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	var done bool
	expr := fmt.Sprintf("(() => { window.scrollTo(0, %f); return true; })()", y)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &done)); err != nil {
		return fmt.Errorf("scroll page: %w", err)
	}
	return nil
}

// ScrollToPercent scrolls so the viewport top sits pct percent of the way
// through the element matching selector.
func (p *Page) ScrollToPercent(ctx context.Context, selector string, pct float64) error {
	m, err := p.Measure(ctx, selector)
	if err != nil {
		return err
	}
	if !m.Found {
		return fmt.Errorf("element %q not found", selector)
	}
	return p.ScrollTo(ctx, m.Top+m.Height*pct/100)
}

// SetVisible overrides document visibility; headless tabs always report visible.
func (p *Page) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden = !visible
}

func (p *Page) snapshot(selector string) Measurement {
	m, err := p.Measure(context.Background(), selector)
	if err != nil {
		p.logger.Warn("page measurement failed", zap.String("selector", selector), zap.Error(err))
		return Measurement{}
	}
	return m
}

// Title implements dispatcher.Page.
func (p *Page) Title() string { return p.snapshot("").Title }

// Location implements dispatcher.Page.
func (p *Page) Location() string { return p.snapshot("").Location }

// ScrollTop implements engagement.Document.
func (p *Page) ScrollTop() float64 { return p.snapshot("").ScrollTop }

// Element implements engagement.Document.
func (p *Page) Element(selector string) (engagement.Rect, bool) {
	m := p.snapshot(selector)
	if !m.Found {
		return engagement.Rect{}, false
	}
	return engagement.Rect{Top: m.Top, Height: m.Height}, true
}

// Visible implements engagement.Document.
func (p *Page) Visible() bool {
	p.mu.Lock()
	hidden := p.hidden
	p.mu.Unlock()
	if hidden {
		return false
	}
	return p.snapshot("").Visible
}

// Close closes the tab.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.release != nil {
			p.release()
		}
	})
}
