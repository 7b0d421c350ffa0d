package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/azin/mediacache-service/internal/cache"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/store"
	"go.uber.org/zap"
)

type fakeProvider struct {
	infoCalls   atomic.Int32
	sourceCalls atomic.Int32

	infoGate   chan struct{}
	sourceGate chan struct{}

	items     int
	failItems map[int]bool
	infoErr   error
}

func newFake() *fakeProvider {
	return &fakeProvider{
		infoGate:   make(chan struct{}),
		sourceGate: make(chan struct{}),
	}
}

func (f *fakeProvider) provider(kind model.Kind) Provider {
	return Provider{
		Kind: kind,
		FetchInfo: func(ctx context.Context, id string) (*InfoResult, error) {
			f.infoCalls.Add(1)
			<-f.infoGate
			if f.infoErr != nil {
				return nil, f.infoErr
			}
			data, _ := json.Marshal(map[string]any{"id": id, "title": "title of " + id})
			return &InfoResult{Data: data, Items: f.items}, nil
		},
		FetchSource: func(ctx context.Context, key model.ResourceKey, onStatus model.StatusFunc) (*model.SourceInfo, error) {
			f.sourceCalls.Add(1)
			onStatus(model.Progress{Status: model.StatusQueue, Percent: 5})
			<-f.sourceGate
			if f.failItems[key.ItemNumber] {
				return nil, errcode.New("boom", errcode.YtDlpNoMedia)
			}
			onStatus(model.Progress{Status: model.StatusDownloading, Percent: 50})
			return &model.SourceInfo{Filename: key.FileStem() + ".m4a", Size: 1000, SourceGetTimestamp: time.Now()}, nil
		},
	}
}

func newCoordinator(t *testing.T, providers ...Provider) (*Coordinator, *cache.Cache) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c := cache.New(st, nil, nil, zap.NewNop())
	return NewCoordinator(c, providers, zap.NewNop()), c
}

func TestResolveSingleFlight(t *testing.T) {
	f := newFake()
	co, c := newCoordinator(t, f.provider(model.KindYouTube))
	key := model.ResourceKey{Kind: model.KindYouTube, ID: "abc123"}

	const n = 50
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = co.Resolve(context.Background(), key, false)
		}(i)
	}

	// 等所有调用方都挂到同一个任务上
	waitUntil(t, func() bool { return f.infoCalls.Load() == 1 && f.sourceCalls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(f.infoGate)
	close(f.sourceGate)
	wg.Wait()

	if got := f.infoCalls.Load(); got != 1 {
		t.Fatalf("info fetched %d times, want 1", got)
	}
	if got := f.sourceCalls.Load(); got != 1 {
		t.Fatalf("source fetched %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Source == nil || results[i].Source.Filename != "abc123.m4a" {
			t.Fatalf("caller %d got %+v", i, results[i])
		}
		if string(results[i].Info) != string(results[0].Info) {
			t.Fatalf("caller %d saw different info", i)
		}
	}

	if _, ok := c.Peek(key); !ok {
		t.Fatal("resolved record should be promoted into the cache")
	}
	if len(co.Inflight()) != 0 {
		t.Fatal("job should be removed after completion")
	}

	// 之后的调用直接命中缓存
	res, err := co.Resolve(context.Background(), key, false)
	if err != nil || !res.Cached {
		t.Fatalf("expected cached result, got %+v, %v", res, err)
	}
	if f.infoCalls.Load() != 1 {
		t.Fatal("cached resolve must not fetch again")
	}
}

func TestResolveFastReturnsBeforeSource(t *testing.T) {
	f := newFake()
	co, _ := newCoordinator(t, f.provider(model.KindNicoNico))
	key := model.ResourceKey{Kind: model.KindNicoNico, ID: "sm999"}

	close(f.infoGate)
	res, err := co.Resolve(context.Background(), key, true)
	if err != nil {
		t.Fatalf("fast resolve failed: %v", err)
	}
	if res.Source != nil {
		t.Fatal("fast result should not carry a source yet")
	}
	if res.Progress == nil {
		t.Fatal("fast result should carry a progress snapshot")
	}
	if len(res.Info) == 0 {
		t.Fatal("fast result should carry info")
	}

	if _, ok := co.Progress(key); !ok {
		t.Fatal("job should still be in flight")
	}

	close(f.sourceGate)
	full, err := co.Resolve(context.Background(), key, false)
	if err != nil {
		t.Fatal(err)
	}
	if full.Source == nil {
		t.Fatal("full resolve should carry a source")
	}
	if f.sourceCalls.Load() != 1 {
		t.Fatalf("source fetched %d times", f.sourceCalls.Load())
	}
}

func TestResolveFailureIsNotPromoted(t *testing.T) {
	f := newFake()
	f.infoErr = errors.New("network down")
	co, c := newCoordinator(t, f.provider(model.KindSoundCloud))
	key := model.ResourceKey{Kind: model.KindSoundCloud, ID: "42"}

	close(f.infoGate)
	close(f.sourceGate)
	_, err := co.Resolve(context.Background(), key, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errcode.Has(err, errcode.InfoFetchFailed) {
		t.Fatalf("codes = %v, want %s", errcode.Codes(err), errcode.InfoFetchFailed)
	}
	if _, _, ok := c.Raw(key); ok {
		t.Fatal("failed resolve must not write to the store")
	}

	// 失败的任务已移除，重新调用会重新取数
	f.infoErr = nil
	if _, err := co.Resolve(context.Background(), key, false); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if f.infoCalls.Load() != 2 {
		t.Fatalf("info calls = %d, want 2", f.infoCalls.Load())
	}
}

func TestResolveMultiItemPartialFailure(t *testing.T) {
	f := newFake()
	f.items = 3
	f.failItems = map[int]bool{2: true}
	co, c := newCoordinator(t, f.provider(model.KindTwitter))

	close(f.infoGate)
	close(f.sourceGate)

	key := model.ResourceKey{Kind: model.KindTwitter, ID: "1700", ItemNumber: 1}
	res, err := co.Resolve(context.Background(), key, false)
	if err != nil {
		t.Fatalf("item 1 should resolve: %v", err)
	}
	if res.Source.Filename != "1700-1.m4a" {
		t.Fatalf("filename = %q", res.Source.Filename)
	}
	if f.sourceCalls.Load() != 3 {
		t.Fatalf("source calls = %d, want 3", f.sourceCalls.Load())
	}

	rec, _, ok := c.Raw(key.Resource())
	if !ok {
		t.Fatal("partially failed resource should still be promoted")
	}
	if len(rec.Sources) != 3 || rec.Sources[1] != nil || rec.Sources[0] == nil || rec.Sources[2] == nil {
		t.Fatalf("sources = %+v", rec.Sources)
	}
	if !contains(rec.Codes, errcode.MultiSourceFailed) {
		t.Fatalf("codes = %v, want %s", rec.Codes, errcode.MultiSourceFailed)
	}

	_, err = co.Resolve(context.Background(), key.Item(2), false)
	if !errcode.Has(err, errcode.NoSourceInfo) {
		t.Fatalf("failed item should report %s, got %v", errcode.NoSourceInfo, err)
	}
}

func TestResolveMultiItemAllFail(t *testing.T) {
	f := newFake()
	f.items = 2
	f.failItems = map[int]bool{1: true, 2: true}
	co, c := newCoordinator(t, f.provider(model.KindTwitter))
	close(f.infoGate)
	close(f.sourceGate)

	key := model.ResourceKey{Kind: model.KindTwitter, ID: "1800", ItemNumber: 1}
	_, err := co.Resolve(context.Background(), key, false)
	if !errcode.Has(err, errcode.MultiSourceFailed) || !errcode.Has(err, errcode.YtDlpNoMedia) {
		t.Fatalf("err = %v", err)
	}
	// 第一个失败条目的原因保留在错误链上
	var cause *errcode.Error
	if !errors.As(errors.Unwrap(err), &cause) || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("item failure cause lost: %v", err)
	}
	if _, _, ok := c.Raw(key.Resource()); ok {
		t.Fatal("resource with no successful item must not be promoted")
	}
}

func TestResolveInfoOnlyKind(t *testing.T) {
	f := newFake()
	p := f.provider(model.KindMusicBrainzRelease)
	p.FetchSource = nil
	co, _ := newCoordinator(t, p)
	close(f.infoGate)

	res, err := co.Resolve(context.Background(), model.ResourceKey{Kind: model.KindMusicBrainzRelease, ID: "uuid"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != nil || len(res.Info) == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestResolveUnsupportedKind(t *testing.T) {
	co, _ := newCoordinator(t)
	_, err := co.Resolve(context.Background(), model.ResourceKey{Kind: model.KindYouTube, ID: "x"}, false)
	if !errcode.Has(err, errcode.UnsupportedSource) {
		t.Fatalf("err = %v", err)
	}
}

func TestProgressListenerReplaysAndAdvances(t *testing.T) {
	f := newFake()
	co, _ := newCoordinator(t, f.provider(model.KindYouTube))
	key := model.ResourceKey{Kind: model.KindYouTube, ID: "prog"}

	var mu sync.Mutex
	var seen []model.Status
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = co.ResolveWithProgress(context.Background(), key, false, func(p model.Progress) {
			mu.Lock()
			seen = append(seen, p.Status)
			mu.Unlock()
		})
	}()

	waitUntil(t, func() bool { return f.sourceCalls.Load() == 1 })
	close(f.infoGate)
	close(f.sourceGate)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != model.StatusDone {
		t.Fatalf("statuses = %v, want to end with done", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Rank() < seen[i-1].Rank() {
			t.Fatalf("status went backwards: %v", seen)
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
