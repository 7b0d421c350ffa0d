package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/azin/mediacache-service/internal/api/handlers"
	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/internal/downloader"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/repository"
	"github.com/azin/mediacache-service/internal/resolver"
	"go.uber.org/zap"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, key model.ResourceKey, fast bool) (*resolver.Result, error) {
	return nil, errcode.New("nope", errcode.InfoFetchFailed)
}

type stubHistory struct{}

func (stubHistory) List(ctx context.Context, f repository.DownloadFilter) ([]*model.DownloadRecord, error) {
	return nil, nil
}

func (stubHistory) FindByResource(ctx context.Context, key model.ResourceKey) ([]*model.DownloadRecord, error) {
	return nil, nil
}

func (stubHistory) CountByResult(ctx context.Context, result string) (int64, error) {
	return 0, nil
}

type stubQueue struct{}

func (stubQueue) Snapshot() []downloader.Entry { return nil }
func (stubQueue) Active() int                  { return 0 }

type stubInflight struct{}

func (stubInflight) Inflight() map[string]model.Progress { return nil }

func (stubInflight) Progress(model.ResourceKey) (model.Progress, bool) {
	return model.Progress{}, false
}

type stubCache struct{}

func (stubCache) Counts() map[model.Kind]int    { return map[model.Kind]int{model.KindYouTube: 2} }
func (stubCache) Evict(model.ResourceKey) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	config.SetDefaults(cfg)
	cfg.Server.Mode = "test"
	cfg.Metrics.Enabled = true
	cfg.Security.APIKeys = []config.APIKey{{Key: "secret", Name: "bot"}}

	log := zap.NewNop()
	return SetupRouter(cfg, Handlers{
		Media:   handlers.NewMediaHandler(stubResolver{}, downloader.Layout{Root: t.TempDir()}, nil, log),
		Jobs:    handlers.NewJobHandler(stubHistory{}, stubQueue{}, stubInflight{}, nil, 3, log),
		Setting: handlers.NewSettingHandler(nil, log),
		Cache:   handlers.NewCacheHandler(stubCache{}, log),
	}, log)
}

func get(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterRoutes(t *testing.T) {
	r := newTestRouter(t)

	if w := get(r, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := get(r, "/metrics", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "mediacache_") {
		t.Fatalf("metrics: %d", w.Code)
	}
	if w := get(r, "/youtube/abc/json", nil); w.Code != http.StatusNotFound || w.Body.String() != `{"errorCode":["3-2"]}` {
		t.Fatalf("media: %d %s", w.Code, w.Body.String())
	}
	for _, p := range []string{"/", "/youtube", "/a/b/c/d"} {
		if w := get(r, p, nil); w.Code != http.StatusBadRequest || w.Body.Len() != 0 {
			t.Errorf("%s: %d %q", p, w.Code, w.Body.String())
		}
	}
}

func TestRouterAuth(t *testing.T) {
	r := newTestRouter(t)

	if w := get(r, "/v1/queue", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: %d", w.Code)
	}
	if w := get(r, "/v1/queue", map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", w.Code)
	}
	if w := get(r, "/v1/queue", map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("header key: %d", w.Code)
	}
	if w := get(r, "/v1/errcodes/1-2?api_key=secret", nil); w.Code != http.StatusOK {
		t.Fatalf("query key: %d", w.Code)
	}
	if w := get(r, "/v1/cache", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("cache stats without key: %d", w.Code)
	}
	if w := get(r, "/v1/cache", map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":2`) {
		t.Fatalf("cache stats: %d %s", w.Code, w.Body.String())
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/youtube/abc/audio", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Expose-Headers"), "Content-Range") {
		t.Fatal("Content-Range must be exposed")
	}
}
