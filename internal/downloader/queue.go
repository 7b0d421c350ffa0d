package downloader

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/metrics"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxActive 同时处于下载流程中的任务上限
const DefaultMaxActive = 5

// FetchFunc 执行一次下载，通过 advance 报告阶段
type FetchFunc func(ctx context.Context, key model.ResourceKey, advance model.StatusFunc) (*model.SourceInfo, error)

// Recorder 记录下载结束事件
type Recorder interface {
	Record(ctx context.Context, rec *model.DownloadRecord) error
}

// Prober 读取音频时长
type Prober interface {
	ProbeDuration(ctx context.Context, path string) *float64
}

// Option 队列选项
type Option func(*Queue)

// WithMaxActive 设置并发上限
func WithMaxActive(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxActive = n
		}
	}
}

// WithRecorder 设置下载历史记录器
func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

// WithProber 设置时长探测，用于接管磁盘上已有的文件
func WithProber(p Prober) Option {
	return func(q *Queue) { q.prober = p }
}

// Entry 队列条目快照
type Entry struct {
	ID        string            `json:"id"`
	Key       model.ResourceKey `json:"key"`
	Status    model.Status      `json:"status"`
	Percent   int               `json:"percent"`
	QueuedAt  time.Time         `json:"queuedAt"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
}

type entry struct {
	id        string
	key       model.ResourceKey
	queuedAt  time.Time
	startedAt *time.Time
	ctx       context.Context

	// 以下字段由 Queue.mu 保护
	status    model.Status
	percent   int
	listeners []*listener

	done   chan struct{}
	result *model.SourceInfo
	err    error
}

func (e *entry) progress() model.Progress {
	return model.Progress{Status: e.status, Percent: e.percent}
}

// listener 保证单个订阅者看到的进度单调不减
type listener struct {
	mu   sync.Mutex
	fn   model.StatusFunc
	last model.Progress
	seen bool
}

func (l *listener) deliver(p model.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen && !ahead(p, l.last) {
		return
	}
	l.seen = true
	l.last = p
	l.fn(p)
}

func ahead(p, than model.Progress) bool {
	if p.Status.Rank() != than.Status.Rank() {
		return p.Status.Rank() > than.Status.Rank()
	}
	return p.Percent > than.Percent
}

type notice struct {
	listeners []*listener
	progress  model.Progress
}

func fire(notices []notice) {
	for _, n := range notices {
		for _, l := range n.listeners {
			l.deliver(n.progress)
		}
	}
}

// Queue 有界并发的下载队列
//
// 同一个 key 只会有一个条目；新条目按到达顺序获得下载槽位，
// 任意时刻处于 formatchoosing/downloading/converting 的条目不超过 maxActive。
type Queue struct {
	fetch     FetchFunc
	layout    Layout
	maxActive int
	recorder  Recorder
	prober    Prober
	logger    *zap.Logger

	mu      sync.Mutex
	entries []*entry
	byKey   map[model.ResourceKey]*entry
	active  int
}

// NewQueue 创建队列
func NewQueue(fetch FetchFunc, layout Layout, log *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		fetch:     fetch,
		layout:    layout,
		maxActive: DefaultMaxActive,
		logger:    logger.Component(log, "downloader"),
		byKey:     make(map[model.ResourceKey]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue 下载 key 对应的文件并等待结果
//
// 磁盘上已有同名文件时直接接管；已在队列中的 key 不会重复下载，
// 调用方挂到已有条目上并立即收到当前进度。ctx 取消只影响本次等待。
func (q *Queue) Enqueue(ctx context.Context, key model.ResourceKey, onStatus model.StatusFunc) (*model.SourceInfo, error) {
	q.mu.Lock()
	e, exists := q.byKey[key]
	q.mu.Unlock()

	if !exists {
		if src, ok := q.adopt(ctx, key); ok {
			if onStatus != nil {
				onStatus(model.Progress{Status: model.StatusDone, Percent: 100})
			}
			return src, nil
		}
	}

	var notices []notice
	q.mu.Lock()
	e, exists = q.byKey[key]
	if !exists {
		e = &entry{
			id:       uuid.NewString(),
			key:      key,
			queuedAt: time.Now(),
			ctx:      context.WithoutCancel(ctx),
			status:   model.StatusQueue,
			percent:  model.StatusQueue.BasePercent(),
			done:     make(chan struct{}),
		}
		q.entries = append(q.entries, e)
		q.byKey[key] = e
		metrics.QueueEntries.WithLabelValues(string(model.StatusQueue)).Inc()
	}
	var l *listener
	if onStatus != nil {
		l = &listener{fn: onStatus}
		e.listeners = append(e.listeners, l)
	}
	current := e.progress()
	if !exists {
		notices = q.scheduleLocked()
	}
	q.mu.Unlock()

	if exists {
		q.logger.Debug("joined queued download", zap.String("key", key.String()))
	} else {
		q.logger.Info("download queued", zap.String("key", key.String()), zap.String("id", e.id))
	}
	if l != nil {
		l.deliver(current)
	}
	fire(notices)

	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// adopt 接管磁盘上已有的文件，不再重新下载
func (q *Queue) adopt(ctx context.Context, key model.ResourceKey) (*model.SourceInfo, bool) {
	path, st, ok := q.layout.Locate(key)
	if !ok {
		return nil, false
	}
	src := &model.SourceInfo{
		Filename:           filepath.Base(path),
		Size:               st.Size(),
		SourceGetTimestamp: st.ModTime().UTC(),
	}
	if q.prober != nil {
		src.Duration = q.prober.ProbeDuration(ctx, path)
	}
	q.logger.Info("adopted existing file", zap.String("key", key.String()), zap.String("file", src.Filename))
	return src, true
}

// scheduleLocked 按到达顺序让排队条目进入下载流程，返回需要在锁外发出的通知
func (q *Queue) scheduleLocked() []notice {
	var notices []notice
	for _, e := range q.entries {
		if q.active >= q.maxActive {
			break
		}
		if e.status != model.StatusQueue {
			continue
		}
		now := time.Now()
		e.startedAt = &now
		q.setStatusLocked(e, model.Progress{Status: model.StatusFormatChoosing, Percent: model.StatusFormatChoosing.BasePercent()})
		q.active++
		notices = append(notices, notice{listeners: append([]*listener(nil), e.listeners...), progress: e.progress()})
		go q.run(e)
	}
	return notices
}

func (q *Queue) setStatusLocked(e *entry, p model.Progress) {
	if p.Status != e.status {
		metrics.QueueEntries.WithLabelValues(string(e.status)).Dec()
		metrics.QueueEntries.WithLabelValues(string(p.Status)).Inc()
	}
	e.status = p.Status
	e.percent = p.Percent
}

// advance 推进条目进度，倒退的进度被忽略
func (q *Queue) advance(e *entry, p model.Progress) {
	q.mu.Lock()
	if !ahead(p, e.progress()) || !p.Status.Active() {
		q.mu.Unlock()
		return
	}
	q.setStatusLocked(e, p)
	ls := append([]*listener(nil), e.listeners...)
	q.mu.Unlock()

	fire([]notice{{listeners: ls, progress: p}})
}

func (q *Queue) run(e *entry) {
	start := time.Now()
	src, err := q.fetch(e.ctx, e.key, func(p model.Progress) { q.advance(e, p) })
	if err == nil && src == nil {
		err = errcode.New("download produced nothing", errcode.YtDlpFileNotFound)
	}

	q.mu.Lock()
	e.result, e.err = src, err
	var final []notice
	if err == nil {
		q.setStatusLocked(e, model.Progress{Status: model.StatusDone, Percent: 100})
		final = []notice{{listeners: append([]*listener(nil), e.listeners...), progress: e.progress()}}
	}
	metrics.QueueEntries.WithLabelValues(string(e.status)).Dec()
	delete(q.byKey, e.key)
	for i, it := range q.entries {
		if it == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.active--
	next := q.scheduleLocked()
	q.mu.Unlock()

	fire(final)
	close(e.done)
	fire(next)

	elapsed := time.Since(start)
	metrics.DownloadDuration.Observe(elapsed.Seconds())
	if err == nil {
		metrics.DownloadsTotal.WithLabelValues(string(e.key.Kind), model.ResultDone).Inc()
		q.logger.Info("download finished",
			zap.String("key", e.key.String()),
			zap.String("file", src.Filename),
			zap.Int64("size", src.Size),
			zap.Duration("elapsed", elapsed))
	} else {
		metrics.DownloadsTotal.WithLabelValues(string(e.key.Kind), model.ResultFailed).Inc()
		q.logger.Warn("download failed",
			zap.String("key", e.key.String()),
			zap.Strings("codes", errcode.Codes(err)),
			zap.Error(err))
	}
	q.record(e, src, err)
}

func (q *Queue) record(e *entry, src *model.SourceInfo, err error) {
	if q.recorder == nil {
		return
	}
	rec := &model.DownloadRecord{
		ID:         e.id,
		Kind:       string(e.key.Kind),
		ResourceID: e.key.ID,
		ItemNumber: e.key.ItemNumber,
		QueuedAt:   e.queuedAt,
		StartedAt:  e.startedAt,
		FinishedAt: time.Now(),
	}
	if err == nil {
		rec.Result = model.ResultDone
		rec.Filename = src.Filename
		rec.FileSize = src.Size
		rec.Duration = src.Duration
	} else {
		rec.Result = model.ResultFailed
		rec.Codes = strings.Join(errcode.Codes(err), ",")
	}
	if rerr := q.recorder.Record(e.ctx, rec); rerr != nil {
		q.logger.Error("failed to record download history", zap.String("id", e.id), zap.Error(rerr))
	}
}

// Snapshot 当前队列，按到达顺序
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, Entry{
			ID:        e.id,
			Key:       e.key,
			Status:    e.status,
			Percent:   e.percent,
			QueuedAt:  e.queuedAt,
			StartedAt: e.startedAt,
		})
	}
	return out
}

// Active 当前占用槽位的条目数
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Layout 队列使用的目录结构
func (q *Queue) Layout() Layout {
	return q.layout
}
