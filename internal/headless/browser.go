// Package headless measures live article pages with headless Chrome so a
// tracker can observe a real document instead of a simulated one.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/policy/ratelimit"
)

// Config controls the headless browser.
type Config struct {
	MaxPages          int           `mapstructure:"max_pages"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	EvalTimeout       time.Duration `mapstructure:"eval_timeout"`
	ViewportWidth     int64         `mapstructure:"viewport_width"`
	ViewportHeight    int64         `mapstructure:"viewport_height"`
	// HostRPS paces page loads per host. Zero disables pacing.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultEvalTimeout       = 5 * time.Second
	defaultViewportWidth     = 1280
	defaultViewportHeight    = 800
)

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = defaultEvalTimeout
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = defaultViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = defaultViewportHeight
	}
	return c
}

// Browser owns a Chrome allocator and hands out pages.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	pacer       *ratelimit.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewBrowser creates a browser backed by chromedp. Chrome is started lazily
// on the first Open.
func NewBrowser(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxPages > 0 {
		limiter = make(chan struct{}, cfg.MaxPages)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		pacer:       ratelimit.New(ratelimit.Config{RPS: cfg.HostRPS, Burst: cfg.HostBurst}),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}, nil
}

// Close shuts Chrome down. Pages opened from the browser become unusable.
func (b *Browser) Close() {
	b.allocCancel()
}

// Open navigates a new tab to url and waits for the body to be ready.
func (b *Browser) Open(ctx context.Context, url string) (*Page, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	if err := b.pacer.Wait(ctx, url); err != nil {
		b.release()
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)

	navCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	defer cancel()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(b.cfg.ViewportWidth, b.cfg.ViewportHeight, 1, false),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		tabCancel()
		b.release()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	return &Page{
		tab:     tabCtx,
		cancel:  tabCancel,
		timeout: b.cfg.EvalTimeout,
		logger:  b.logger.With(zap.String("url", url)),
		release: b.release,
	}, nil
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless page slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}
