package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/store"
	"go.uber.org/zap"
)

const ttl = 180 * 24 * time.Hour

func newTestCache(t *testing.T, overridesPath string) (*Cache, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	c := New(st, NewOverrideSet(overridesPath, zap.NewNop()), map[model.Kind]time.Duration{
		model.KindMusicBrainzRelease: ttl,
	}, zap.NewNop())
	return c, st
}

func putAt(t *testing.T, st *store.Store, key model.ResourceKey, info string, at time.Time) {
	t.Helper()
	data, _ := json.Marshal(model.Record{Info: json.RawMessage(info)})
	if err := st.Put(key.Kind, key.ID, store.Entry{FetchedAt: at, Data: data}); err != nil {
		t.Fatal(err)
	}
}

func TestPeekRespectsTTL(t *testing.T) {
	c, st := newTestCache(t, "")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	stale := model.ResourceKey{Kind: model.KindMusicBrainzRelease, ID: "stale"}
	fresh := model.ResourceKey{Kind: model.KindMusicBrainzRelease, ID: "fresh"}
	putAt(t, st, stale, `{"title":"old"}`, now.Add(-(ttl + time.Second)))
	putAt(t, st, fresh, `{"title":"new"}`, now.Add(-(ttl - time.Second)))

	if _, ok := c.Peek(stale); ok {
		t.Error("entry older than TTL should miss")
	}
	if _, ok := c.Peek(fresh); !ok {
		t.Error("entry younger than TTL should hit")
	}

	calls := 0
	fetch := func(context.Context) (*model.Record, error) {
		calls++
		return &model.Record{Info: json.RawMessage(`{"title":"refetched"}`)}, nil
	}

	if _, err := c.Get(context.Background(), fresh, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("fresh Get fetched %d times", calls)
	}

	rec, err := c.Get(context.Background(), stale, fetch)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("stale Get fetched %d times, want 1", calls)
	}
	if string(rec.Info) != `{"title":"refetched"}` {
		t.Fatalf("info = %s", rec.Info)
	}
	if _, ok := c.Peek(stale); !ok {
		t.Fatal("refetched entry should now hit")
	}
}

func TestMediaKindsNeverExpire(t *testing.T) {
	c, st := newTestCache(t, "")
	key := model.ResourceKey{Kind: model.KindYouTube, ID: "abc"}
	data, _ := json.Marshal(model.Record{
		Info:   json.RawMessage(`{"title":"t"}`),
		Source: &model.SourceInfo{Filename: "abc.m4a", Size: 10},
	})
	_ = st.Put(key.Kind, key.ID, store.Entry{FetchedAt: time.Unix(0, 0), Data: data})

	if _, ok := c.Peek(key); !ok {
		t.Fatal("media entry with source should never expire")
	}
}

func TestPeekIncompleteMediaMisses(t *testing.T) {
	c, st := newTestCache(t, "")
	key := model.ResourceKey{Kind: model.KindYouTube, ID: "nosrc"}
	putAt(t, st, key, `{"title":"t"}`, time.Now())

	if _, ok := c.Peek(key); ok {
		t.Fatal("media record without source must not count as a hit")
	}
}

func TestEvictAndCounts(t *testing.T) {
	c, st := newTestCache(t, "")
	a := model.ResourceKey{Kind: model.KindYouTube, ID: "a"}
	b := model.ResourceKey{Kind: model.KindYouTube, ID: "b"}
	rel := model.ResourceKey{Kind: model.KindMusicBrainzRelease, ID: "r"}
	for _, k := range []model.ResourceKey{a, b, rel} {
		putAt(t, st, k, `{"title":"t"}`, time.Now())
	}

	counts := c.Counts()
	if counts[model.KindYouTube] != 2 || counts[model.KindMusicBrainzRelease] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	if err := c.Evict(a); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := c.Raw(a); ok {
		t.Fatal("evicted entry still readable")
	}
	if got := c.Counts()[model.KindYouTube]; got != 1 {
		t.Fatalf("youtube count after evict = %d", got)
	}

	if err := c.Evict(a); !errors.Is(err, ErrNotCached) {
		t.Fatalf("second evict err = %v, want ErrNotCached", err)
	}
}

func TestOverrideAppliedOnRead(t *testing.T) {
	dir := t.TempDir()
	ovPath := filepath.Join(dir, "overrides.json")
	if err := os.WriteFile(ovPath, []byte(`{"musicbrainz-release":{"r1":{"title":"Fixed","tags":["x"]}}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, st := newTestCache(t, ovPath)
	key := model.ResourceKey{Kind: model.KindMusicBrainzRelease, ID: "r1"}
	putAt(t, st, key, `{"title":"Broken","author":"A","tags":["a","b"]}`, time.Now())

	rec, ok := c.Peek(key)
	if !ok {
		t.Fatal("expected hit")
	}
	var got map[string]any
	_ = json.Unmarshal(rec.Info, &got)
	want := map[string]any{"title": "Fixed", "author": "A", "tags": []any{"x"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}

	// 覆盖不会写回存储
	raw, _, _ := c.Raw(key)
	if string(raw.Info) != `{"title":"Broken","author":"A","tags":["a","b"]}` {
		t.Fatalf("stored info changed: %s", raw.Info)
	}

	// 修改覆盖文件后重新加载
	later := time.Now().Add(2 * time.Second)
	_ = os.WriteFile(ovPath, []byte(`{"musicbrainz-release":{"r1":{"author":"B"}}}`), 0o644)
	_ = os.Chtimes(ovPath, later, later)
	rec, _ = c.Peek(key)
	_ = json.Unmarshal(rec.Info, &got)
	if got["author"] != "B" || got["title"] != "Broken" {
		t.Fatalf("reloaded merge = %v", got)
	}
}

func TestMergeSemantics(t *testing.T) {
	base := map[string]any{
		"title": "a",
		"nested": map[string]any{
			"keep":  1.0,
			"swap":  "x",
			"items": []any{1.0, 2.0},
		},
	}
	override := map[string]any{
		"nested": map[string]any{
			"swap":  "y",
			"items": []any{3.0},
		},
		"extra": true,
	}

	once, err := Merge(base, override)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Merge(once, override)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge is not idempotent:\n%v\n%v", once, twice)
	}

	want := map[string]any{
		"title": "a",
		"extra": true,
		"nested": map[string]any{
			"keep":  1.0,
			"swap":  "y",
			"items": []any{3.0},
		},
	}
	if !reflect.DeepEqual(once, want) {
		t.Fatalf("merge = %v, want %v", once, want)
	}

	// 原值未被修改
	if base["nested"].(map[string]any)["swap"] != "x" {
		t.Fatal("Merge mutated its input")
	}
	if _, ok := override["title"]; ok {
		t.Fatal("Merge mutated the override")
	}

	// 对象与标量互相替换
	mixed, err := Merge(map[string]any{"a": "flat", "b": map[string]any{"x": 1.0}},
		map[string]any{"a": map[string]any{"deep": true}, "b": "flat", "c": nil})
	if err != nil {
		t.Fatal(err)
	}
	wantMixed := map[string]any{"a": map[string]any{"deep": true}, "b": "flat", "c": nil}
	if !reflect.DeepEqual(mixed, wantMixed) {
		t.Fatalf("mixed merge = %v", mixed)
	}

	if got, _ := Merge([]any{1.0}, map[string]any{"k": 1.0}); !reflect.DeepEqual(got, map[string]any{"k": 1.0}) {
		t.Fatalf("non-object base = %v", got)
	}
}
