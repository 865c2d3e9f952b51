package server

import (
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/attribution"
	"github.com/JakeFAU/engagement-tracker/internal/config"
	"github.com/JakeFAU/engagement-tracker/internal/consent"
	kvsqlite "github.com/JakeFAU/engagement-tracker/internal/kv/sqlite"
	"github.com/JakeFAU/engagement-tracker/internal/replay"
	"github.com/JakeFAU/engagement-tracker/internal/storage"
)

const visitorTrace = `name: wiring
visitor: alice
page:
  url: https://news.example.com/articles/rockets?src=newsletter
  top: 600
  height: 2400
steps:
  - action: load
  - action: accept_all
  - action: mount
    view: main
    content:
      id: post-1
      title: Rockets
  - action: scroll
    view: main
    percent: 60
    dwell: 40s
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Storage.Records.Backend = config.RecordsSQLite
	cfg.Storage.Records.SQLitePath = filepath.Join(dir, "records.db")
	cfg.Sinks.Archive = true
	cfg.Storage.Archive.Backend = storage.BackendLocal
	cfg.Storage.Archive.BaseDir = filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(cfg.Storage.Archive.BaseDir, 0o750))
	return &cfg
}

func TestBuildWiresRecordsAndSinks(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.NoError(t, err)

	trace, err := replay.Decode(strings.NewReader(visitorTrace))
	require.NoError(t, err)
	report, err := app.Replay(context.Background(), trace)
	require.NoError(t, err)
	require.NotEmpty(t, report.Calls)

	require.NoError(t, app.Close(context.Background()))
	require.NoError(t, app.Close(context.Background()))

	var archived []string
	require.NoError(t, filepath.WalkDir(cfg.Storage.Archive.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".ndjson") {
			archived = append(archived, path)
		}
		return nil
	}))
	require.NotEmpty(t, archived)

	count, err := testutil.GatherAndCount(reg, "analytics_events_total")
	require.NoError(t, err)
	require.Positive(t, count)

	records, err := kvsqlite.Open(context.Background(), cfg.Storage.Records.SQLitePath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, records.Close()) })
	flag, ok, err := records.Get(context.Background(), "visitor/alice/"+consent.FlagKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", flag)
	_, ok, err = records.Get(context.Background(), "visitor/alice/"+attribution.Key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBuildServesAPI(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Sinks.Prometheus = false
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	app, err := Build(context.Background(), &cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/replays", strings.NewReader(visitorTrace))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"visitor":"alice"`)
}

func TestReadyzFailsAfterClose(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Sinks.Prometheus = false
	app, err := Build(context.Background(), &cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildFailsOnUnusableArchiveDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Sinks.Prometheus = false
	notADir := filepath.Join(t.TempDir(), "archive.txt")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o600))
	cfg.Storage.Archive.BaseDir = notADir
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
	require.Nil(t, app)
	require.Contains(t, err.Error(), "local blob store init failed")
}
