package app_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/einthusan-addon/internal/app"
	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/config"
	"github.com/JakeFAU/einthusan-addon/internal/refresher"
)

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Site.BaseURL = upstreamURL
	cfg.Resolver.SuggestionURL = upstreamURL
	cfg.Resolver.CinemetaURL = upstreamURL
	cfg.Resolver.TitlePageURL = upstreamURL
	cfg.Site.Languages = []string{"hindi", "tamil"}
	cfg.HTTP.MaxAttempts = 1
	cfg.HTTP.Timeout = 2 * time.Second
	cfg.Refresh.Pages = 1
	cfg.Refresh.IncrementalPages = 1
	cfg.Telemetry.Enabled = false
	cfg.Logging.Development = true
	return &cfg
}

func failingUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serve(t *testing.T, a *app.App, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestBuildWithMemoryBackends(t *testing.T) {
	cfg := testConfig(t, failingUpstream(t).URL)
	a, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.Equal(t, http.StatusOK, serve(t, a, "/manifest.json").Code)
	require.Equal(t, http.StatusOK, serve(t, a, "/hindi/manifest.json").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, a, "/readyz").Code)

	rec := serve(t, a, "/hindi/catalog/movie/hindi/search=pathaan.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"metas":[]}`, rec.Body.String())

	rec = serve(t, a, "/hindi/stream/movie/tt1187043.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"streams":[]}`, rec.Body.String())
}

func TestBuildRefreshRecordsRuns(t *testing.T) {
	cfg := testConfig(t, failingUpstream(t).URL)
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalRoot = filepath.Join(t.TempDir(), "archive")
	a, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	runs, err := a.Refresher().RunAll(context.Background(), catalog.RefreshFull)
	require.ErrorIs(t, err, refresher.ErrNoPages)
	require.Len(t, runs, 2)
	for _, run := range runs {
		require.Equal(t, catalog.RunError, run.Status)
	}
	require.False(t, a.Refresher().Warm())
}

func TestBuildWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, failingUpstream(t).URL)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()
	cfg.Refresh.Enabled = false

	a, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.Equal(t, http.StatusOK, serve(t, a, "/readyz").Code)
	require.NotNil(t, a.Service())
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, failingUpstream(t).URL)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = addr

	_, err := app.Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t, failingUpstream(t).URL)
	cfg.Server.Port = freePort(t)
	cfg.Refresh.OnStart = false
	a, err := app.Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
