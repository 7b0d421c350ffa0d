package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/azin/mediacache-service/internal/downloader"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/repository"
	"github.com/azin/mediacache-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type fakeHistory struct {
	records []*model.DownloadRecord
	filter  repository.DownloadFilter
	err     error
}

func (f *fakeHistory) List(ctx context.Context, filter repository.DownloadFilter) ([]*model.DownloadRecord, error) {
	f.filter = filter
	return f.records, f.err
}

func (f *fakeHistory) FindByResource(ctx context.Context, key model.ResourceKey) ([]*model.DownloadRecord, error) {
	var out []*model.DownloadRecord
	for _, r := range f.records {
		if r.Kind == string(key.Kind) && r.ResourceID == key.ID && r.ItemNumber == key.ItemNumber {
			out = append(out, r)
		}
	}
	return out, f.err
}

func (f *fakeHistory) CountByResult(ctx context.Context, result string) (int64, error) {
	var n int64
	for _, r := range f.records {
		if r.Result == result {
			n++
		}
	}
	return n, f.err
}

type fakeQueue struct {
	entries []downloader.Entry
}

func (f fakeQueue) Snapshot() []downloader.Entry { return f.entries }
func (f fakeQueue) Active() int                  { return 1 }

type fakeInflight map[string]model.Progress

func (f fakeInflight) Inflight() map[string]model.Progress { return f }

func (f fakeInflight) Progress(key model.ResourceKey) (model.Progress, bool) {
	p, ok := f[key.Resource().String()]
	return p, ok
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func newJobEngine(h *JobHandler) *gin.Engine {
	r := gin.New()
	r.GET("/healthz", h.Health)
	r.GET("/v1/jobs", h.List)
	r.GET("/v1/jobs/:kind/:id", h.Get)
	r.GET("/v1/queue", h.Queue)
	r.POST("/v1/prefetch", h.Prefetch)
	r.GET("/v1/errcodes", h.ErrCodes)
	r.GET("/v1/errcodes/:code", h.ErrCode)
	return r
}

func sampleHistory() *fakeHistory {
	now := time.Now()
	return &fakeHistory{records: []*model.DownloadRecord{
		{ID: "1", Kind: "youtube", ResourceID: "abc", Result: model.ResultDone, Filename: "abc.m4a", FinishedAt: now},
		{ID: "2", Kind: "twitter", ResourceID: "17", ItemNumber: 2, Result: model.ResultFailed, Codes: "ytdlp-12", FinishedAt: now},
	}}
}

func TestJobListAndGet(t *testing.T) {
	hist := sampleHistory()
	h := NewJobHandler(hist, fakeQueue{}, fakeInflight{}, nil, 3, zap.NewNop())
	r := newJobEngine(h)

	w := do(r, "/v1/jobs?kind=youtube&result=done&limit=10&offset=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if hist.filter != (repository.DownloadFilter{Kind: "youtube", Result: "done", Limit: 10, Offset: 5}) {
		t.Fatalf("filter = %+v", hist.filter)
	}

	w = do(r, "/v1/jobs/twitter/17-2", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"codes":"ytdlp-12"`) {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}
	if w = do(r, "/v1/jobs/youtube/nothing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", w.Code)
	}
	if w = do(r, "/v1/jobs/musicbrainz-release/x", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("metadata-only kind: %d", w.Code)
	}
}

func TestJobGetInflightWithoutHistory(t *testing.T) {
	inflight := fakeInflight{"youtube:fresh": {Status: model.StatusDownloading, Percent: 40}}
	h := NewJobHandler(sampleHistory(), fakeQueue{}, inflight, nil, 3, zap.NewNop())

	w := do(newJobEngine(h), "/v1/jobs/youtube/fresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Jobs     []*model.DownloadRecord `json:"jobs"`
		Progress *model.Progress         `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Jobs == nil || len(body.Jobs) != 0 {
		t.Fatalf("jobs = %s, want empty list", w.Body.String())
	}
	if body.Progress == nil || body.Progress.Status != model.StatusDownloading || body.Progress.Percent != 40 {
		t.Fatalf("progress = %+v", body.Progress)
	}

	// 有历史且已结束的资源不带进度
	w = do(newJobEngine(h), "/v1/jobs/youtube/abc", nil)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), `"progress"`) {
		t.Fatalf("finished job: %d %s", w.Code, w.Body.String())
	}
}

func TestJobQueueSnapshot(t *testing.T) {
	q := fakeQueue{entries: []downloader.Entry{{
		ID:      "e1",
		Key:     model.ResourceKey{Kind: model.KindYouTube, ID: "abc"},
		Status:  model.StatusDownloading,
		Percent: 50,
	}}}
	inflight := fakeInflight{"youtube:abc": {Status: model.StatusDownloading, Percent: 50}}
	h := NewJobHandler(sampleHistory(), q, inflight, nil, 3, zap.NewNop())

	w := do(newJobEngine(h), "/v1/queue", nil)
	var body struct {
		Active   int                       `json:"active"`
		Entries  []downloader.Entry        `json:"entries"`
		Inflight map[string]model.Progress `json:"inflight"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Active != 1 || len(body.Entries) != 1 || body.Entries[0].Status != model.StatusDownloading {
		t.Fatalf("body = %s", w.Body.String())
	}
	if body.Inflight["youtube:abc"].Percent != 50 {
		t.Fatalf("inflight = %+v", body.Inflight)
	}
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJobPrefetch(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewJobHandler(sampleHistory(), fakeQueue{}, fakeInflight{}, enq, 3, zap.NewNop())
	r := newJobEngine(h)

	w := postJSON(r, "/v1/prefetch", `{"service":"youtube","id":"abc"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if len(enq.tasks) != 1 || enq.tasks[0].Type() != worker.TypePrefetch {
		t.Fatalf("tasks = %+v", enq.tasks)
	}
	var payload worker.PrefetchPayload
	if err := json.Unmarshal(enq.tasks[0].Payload(), &payload); err != nil || payload.ID != "abc" {
		t.Fatalf("payload = %+v, %v", payload, err)
	}

	if w = postJSON(r, "/v1/prefetch", `{"service":"spotify","id":"abc"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown service: %d", w.Code)
	}
	if w = postJSON(r, "/v1/prefetch", `{"service":"youtube"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing id: %d", w.Code)
	}

	enq.err = asynq.ErrTaskIDConflict
	if w = postJSON(r, "/v1/prefetch", `{"service":"youtube","id":"abc"}`); w.Code != http.StatusOK {
		t.Fatalf("duplicate: %d", w.Code)
	}
	enq.err = errors.New("redis down")
	if w = postJSON(r, "/v1/prefetch", `{"service":"youtube","id":"abc"}`); w.Code != http.StatusInternalServerError {
		t.Fatalf("enqueue failure: %d", w.Code)
	}

	disabled := newJobEngine(NewJobHandler(sampleHistory(), fakeQueue{}, fakeInflight{}, nil, 3, zap.NewNop()))
	if w = postJSON(disabled, "/v1/prefetch", `{"service":"youtube","id":"abc"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("no redis: %d", w.Code)
	}
}

func TestJobErrCodes(t *testing.T) {
	h := NewJobHandler(sampleHistory(), fakeQueue{}, fakeInflight{}, nil, 3, zap.NewNop())
	r := newJobEngine(h)

	w := do(r, "/v1/errcodes/ytdlp-10", nil)
	if !strings.Contains(w.Body.String(), `"code":"ytdlp-10"`) {
		t.Fatalf("body = %s", w.Body.String())
	}

	w = do(r, "/v1/errcodes?codes=3-3,ytdlp-10,zz", nil)
	var body struct {
		Priority struct {
			Main  []string `json:"main"`
			Sub   []string `json:"sub"`
			Other []string `json:"other"`
		} `json:"priority"`
		Details []json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Details) != 3 || len(body.Priority.Main) != 1 || body.Priority.Main[0] != "ytdlp-10" {
		t.Fatalf("body = %s", w.Body.String())
	}
	if len(body.Priority.Other) != 1 || body.Priority.Other[0] != "zz" {
		t.Fatalf("other = %v", body.Priority.Other)
	}
}

func TestJobHealth(t *testing.T) {
	h := NewJobHandler(sampleHistory(), fakeQueue{}, fakeInflight{}, nil, 3, zap.NewNop())
	w := do(newJobEngine(h), "/healthz", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"failed_downloads":1`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}

	broken := &fakeHistory{err: errors.New("db closed")}
	h = NewJobHandler(broken, fakeQueue{}, fakeInflight{}, nil, 3, zap.NewNop())
	if w = do(newJobEngine(h), "/healthz", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: %d", w.Code)
	}
}
