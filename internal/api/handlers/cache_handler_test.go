package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/azin/mediacache-service/internal/cache"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeCacheAdmin struct {
	entries map[model.ResourceKey]bool
	err     error
	evicted []model.ResourceKey
}

func (f *fakeCacheAdmin) Counts() map[model.Kind]int {
	out := map[model.Kind]int{}
	for k := range f.entries {
		out[k.Kind]++
	}
	return out
}

func (f *fakeCacheAdmin) Evict(key model.ResourceKey) error {
	if f.err != nil {
		return f.err
	}
	if !f.entries[key] {
		return cache.ErrNotCached
	}
	delete(f.entries, key)
	f.evicted = append(f.evicted, key)
	return nil
}

func newCacheEngine(h *CacheHandler) *gin.Engine {
	r := gin.New()
	r.GET("/v1/cache", h.Stats)
	r.DELETE("/v1/cache/:kind/:id", h.Evict)
	return r
}

func deleteReq(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, path, nil))
	return w
}

func TestCacheStatsAndEvict(t *testing.T) {
	admin := &fakeCacheAdmin{entries: map[model.ResourceKey]bool{
		{Kind: model.KindYouTube, ID: "abc"}: true,
		{Kind: model.KindYouTube, ID: "def"}: true,
		{Kind: model.KindTwitter, ID: "17"}:  true,
	}}
	r := newCacheEngine(NewCacheHandler(admin, zap.NewNop()))

	w := do(r, "/v1/cache", nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"entries":{"twitter":1,"youtube":2},"total":3}` {
		t.Fatalf("stats: %d %s", w.Code, w.Body.String())
	}

	if w = deleteReq(r, "/v1/cache/youtube/abc"); w.Code != http.StatusOK {
		t.Fatalf("evict: %d %s", w.Code, w.Body.String())
	}
	// 多媒体帖子按整条资源删除
	if w = deleteReq(r, "/v1/cache/twitter/17-2"); w.Code != http.StatusOK {
		t.Fatalf("evict item: %d %s", w.Code, w.Body.String())
	}
	if len(admin.evicted) != 2 || admin.evicted[1] != (model.ResourceKey{Kind: model.KindTwitter, ID: "17"}) {
		t.Fatalf("evicted = %+v", admin.evicted)
	}

	if w = deleteReq(r, "/v1/cache/youtube/abc"); w.Code != http.StatusNotFound {
		t.Fatalf("evict missing: %d", w.Code)
	}
	if w = deleteReq(r, "/v1/cache/vimeo/abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: %d", w.Code)
	}

	admin.err = errors.New("disk full")
	if w = deleteReq(r, "/v1/cache/youtube/def"); w.Code != http.StatusInternalServerError {
		t.Fatalf("store failure: %d", w.Code)
	}
}
