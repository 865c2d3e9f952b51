package headless

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewBrowserLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBrowser(Config{MaxPages: -1}, nil)
	require.Error(t, err)

	browser, err := NewBrowser(Config{MaxPages: 2}, nil)
	require.NoError(t, err)
	defer browser.Close()
	require.Equal(t, 2, cap(browser.limiter))
	require.NotNil(t, browser.pacer)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	require.Equal(t, 5*time.Second, cfg.EvalTimeout)
	require.Equal(t, int64(1280), cfg.ViewportWidth)
	require.Equal(t, int64(800), cfg.ViewportHeight)

	cfg = Config{NavigationTimeout: time.Second, ViewportWidth: 390}.withDefaults()
	require.Equal(t, time.Second, cfg.NavigationTimeout)
	require.Equal(t, int64(390), cfg.ViewportWidth)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	browser, err := NewBrowser(Config{MaxPages: 1}, nil)
	require.NoError(t, err)
	defer browser.Close()

	require.NoError(t, browser.acquire(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, browser.acquire(ctx), context.Canceled)

	browser.release()
	require.NoError(t, browser.acquire(context.Background()))
}

func TestMeasureScriptQuotesSelector(t *testing.T) {
	t.Parallel()

	script, err := measureScript(`article[data-id="a\"b"]`)
	require.NoError(t, err)
	require.Contains(t, script, `const sel = "article[data-id=\"a\\\"b\"]";`)

	script, err = measureScript("")
	require.NoError(t, err)
	require.Contains(t, script, `const sel = "";`)
}

func TestPageVisibilityOverride(t *testing.T) {
	t.Parallel()

	page := &Page{}
	page.SetVisible(false)
	require.False(t, page.Visible())
}

func TestPageCloseReleasesSlotOnce(t *testing.T) {
	t.Parallel()

	released := 0
	cancelled := 0
	page := &Page{
		cancel:  func() { cancelled++ },
		release: func() { released++ },
	}
	page.Close()
	page.Close()
	require.Equal(t, 1, released)
	require.Equal(t, 1, cancelled)
}
