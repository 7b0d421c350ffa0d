package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/azin/mediacache-service/internal/cache"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/metrics"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator 单飞解析：同一资源任意时刻最多只有一个取数任务
//
// 调用方停止等待不会取消任务，任务总会跑完并让其他等待者受益。
type Coordinator struct {
	cache     *cache.Cache
	providers map[model.Kind]Provider
	logger    *zap.Logger

	// mu 只保护 jobs 的查找与插入，不跨越任何取数操作
	mu   sync.Mutex
	jobs map[model.ResourceKey]*job
}

// NewCoordinator 创建协调器
func NewCoordinator(c *cache.Cache, providers []Provider, log *zap.Logger) *Coordinator {
	byKind := make(map[model.Kind]Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind] = p
	}
	return &Coordinator{
		cache:     c,
		providers: byKind,
		logger:    logger.Component(log, "resolver"),
		jobs:      make(map[model.ResourceKey]*job),
	}
}

// Supports 是否注册了该类型
func (c *Coordinator) Supports(kind model.Kind) bool {
	_, ok := c.providers[kind]
	return ok
}

// Resolve 解析资源；fast 为 true 时元数据就绪即返回，音频继续在后台下载
func (c *Coordinator) Resolve(ctx context.Context, key model.ResourceKey, fast bool) (*Result, error) {
	return c.ResolveWithProgress(ctx, key, fast, nil)
}

// ResolveWithProgress 同 Resolve，并在任务进行中回调进度；挂上时立即回放当前进度
func (c *Coordinator) ResolveWithProgress(ctx context.Context, key model.ResourceKey, fast bool, onStatus model.StatusFunc) (*Result, error) {
	p, ok := c.providers[key.Kind]
	if !ok {
		return nil, errcode.Newf([]string{errcode.UnsupportedSource}, "unsupported kind %q", key.Kind)
	}
	rkey := key.Resource()

	// 已完整缓存的记录不可变，不需要加锁
	if rec, ok := c.cache.Peek(rkey); ok {
		metrics.ResolveTotal.WithLabelValues(string(key.Kind), "hit").Inc()
		return c.result(key, rec, true)
	}

	c.mu.Lock()
	// 任务可能在上面的 Peek 之后刚完成并移除，这里再查一次
	if rec, ok := c.cache.Peek(rkey); ok {
		c.mu.Unlock()
		metrics.ResolveTotal.WithLabelValues(string(key.Kind), "hit").Inc()
		return c.result(key, rec, true)
	}
	j, exists := c.jobs[rkey]
	if !exists {
		j = newJob(rkey)
		c.jobs[rkey] = j
	}
	c.mu.Unlock()

	if exists {
		metrics.ResolveTotal.WithLabelValues(string(key.Kind), "joined").Inc()
		c.logger.Debug("joined in-flight job", zap.String("key", rkey.String()))
	} else {
		metrics.ResolveTotal.WithLabelValues(string(key.Kind), "started").Inc()
		metrics.InflightJobs.Inc()
		c.logger.Info("resolve job started", zap.String("key", rkey.String()))
		go c.run(context.WithoutCancel(ctx), j, p)
	}

	if onStatus != nil {
		j.subscribe(onStatus)
	}

	if fast {
		select {
		case <-j.infoDone:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if j.infoErr != nil {
			return nil, j.infoErr
		}

		select {
		case <-j.done:
			if j.err != nil {
				return nil, j.err
			}
			return c.result(key, j.record, false)
		default:
		}

		prog := j.snapshot()
		partial := &model.Record{Info: j.info}
		if merged, err := c.cache.Overlay(rkey, partial); err == nil {
			partial = merged
		}
		return &Result{Key: key, Info: partial.Info, Progress: &prog}, nil
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if j.err != nil {
		return nil, j.err
	}
	return c.result(key, j.record, false)
}

// Progress 查询进行中任务的进度
func (c *Coordinator) Progress(key model.ResourceKey) (model.Progress, bool) {
	c.mu.Lock()
	j, ok := c.jobs[key.Resource()]
	c.mu.Unlock()
	if !ok {
		return model.Progress{}, false
	}
	return j.snapshot(), true
}

// Inflight 当前进行中的任务
func (c *Coordinator) Inflight() map[string]model.Progress {
	c.mu.Lock()
	jobs := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	c.mu.Unlock()

	out := make(map[string]model.Progress, len(jobs))
	for _, j := range jobs {
		out[j.key.String()] = j.snapshot()
	}
	return out
}

func (c *Coordinator) result(key model.ResourceKey, rec *model.Record, cached bool) (*Result, error) {
	if !cached {
		if merged, err := c.cache.Overlay(key.Resource(), rec); err == nil {
			rec = merged
		}
	}

	res := &Result{
		Key:    key,
		Info:   rec.Info,
		Codes:  rec.Codes,
		Cached: cached,
	}
	if !key.Kind.HasSource() {
		return res, nil
	}

	if key.Kind.MultiItem() && key.ItemNumber == 0 {
		res.Sources = rec.Sources
		return res, nil
	}
	src := rec.SourceFor(key)
	if src == nil {
		return nil, errcode.Newf(errcode.Merge([]string{errcode.NoSourceInfo}, rec.Codes),
			"no source for %s", key)
	}
	res.Source = src
	return res, nil
}

// run 执行取数并在成功时先写入缓存再移出任务表
func (c *Coordinator) run(ctx context.Context, j *job, p Provider) {
	start := time.Now()
	rec, err := c.fetch(ctx, j, p)

	if err == nil {
		if perr := c.cache.Put(j.key, rec); perr != nil {
			// 内存中的文档已更新，下一次写盘会带上这条记录
			c.logger.Error("failed to persist resolved record",
				zap.String("key", j.key.String()),
				zap.Error(perr))
		}
		j.record = rec
		j.update(0, model.Progress{Status: model.StatusDone, Percent: 100})
		c.logger.Info("resolve job finished",
			zap.String("key", j.key.String()),
			zap.Duration("elapsed", time.Since(start)))
	} else {
		j.err = err
		metrics.ResolveFailures.WithLabelValues(string(j.key.Kind)).Inc()
		c.logger.Warn("resolve job failed",
			zap.String("key", j.key.String()),
			zap.Strings("codes", errcode.Codes(err)),
			zap.Error(err))
	}

	j.closeInfo()
	close(j.done)

	c.mu.Lock()
	delete(c.jobs, j.key)
	c.mu.Unlock()
	metrics.InflightJobs.Dec()
}

func (c *Coordinator) fetch(ctx context.Context, j *job, p Provider) (*model.Record, error) {
	if p.FetchSource == nil || !j.key.Kind.HasSource() {
		info, err := c.fetchInfo(ctx, j, p)
		if err != nil {
			return nil, err
		}
		return &model.Record{Info: info.Data}, nil
	}
	if j.key.Kind.MultiItem() {
		return c.fetchMulti(ctx, j, p)
	}
	return c.fetchSingle(ctx, j, p)
}

func (c *Coordinator) fetchInfo(ctx context.Context, j *job, p Provider) (*InfoResult, error) {
	info, err := p.FetchInfo(ctx, j.key.ID)
	if err == nil && (info == nil || len(info.Data) == 0 || !json.Valid(info.Data)) {
		err = errcode.New("info fetcher returned no data", errcode.InfoFetchFailed)
	}
	if err != nil {
		j.infoErr = errcode.Wrap(err, "fetch info "+j.key.String(), errcode.InfoFetchFailed)
		j.closeInfo()
		return nil, j.infoErr
	}

	j.info = info.Data
	j.infoAt = time.Now().UTC()
	j.closeInfo()
	return info, nil
}

// fetchSingle 元数据与音频并行获取，两者都成功才算成功
func (c *Coordinator) fetchSingle(ctx context.Context, j *job, p Provider) (*model.Record, error) {
	var (
		g   errgroup.Group
		src *model.SourceInfo
	)
	g.Go(func() error {
		var err error
		src, err = p.FetchSource(ctx, j.key, func(pr model.Progress) { j.update(0, pr) })
		if err == nil && src == nil {
			err = errcode.New("source fetcher returned nothing", errcode.YtDlpFileNotFound)
		}
		return err
	})

	info, infoErr := c.fetchInfo(ctx, j, p)
	srcErr := g.Wait()

	if infoErr != nil {
		if srcErr != nil {
			return nil, errcode.Wrap(infoErr, "fetch info", errcode.Codes(srcErr)...)
		}
		return nil, infoErr
	}
	if srcErr != nil {
		return nil, errcode.Wrap(srcErr, "fetch source "+j.key.String(), errcode.SourceFetchFailed)
	}

	out := *src
	out.InfoGetTimestamp = j.infoAt
	return &model.Record{Info: info.Data, Source: &out}, nil
}

// fetchMulti 先取元数据得到条目数，再并行下载每个条目；失败的条目记为 null
func (c *Coordinator) fetchMulti(ctx context.Context, j *job, p Provider) (*model.Record, error) {
	info, err := c.fetchInfo(ctx, j, p)
	if err != nil {
		return nil, err
	}
	if info.Items <= 0 {
		return nil, errcode.New(fmt.Sprintf("%s has no media items", j.key), errcode.NoSourceInfo, errcode.YtDlpNoMedia)
	}

	sources := make([]*model.SourceInfo, info.Items)
	itemCodes := make([][]string, info.Items)

	var g errgroup.Group
	for i := 0; i < info.Items; i++ {
		n := i + 1
		g.Go(func() error {
			key := j.key.Item(n)
			src, err := p.FetchSource(ctx, key, func(pr model.Progress) { j.update(n, pr) })
			if err == nil && src == nil {
				err = errcode.New("source fetcher returned nothing", errcode.YtDlpFileNotFound)
			}
			if err != nil {
				itemCodes[n-1] = errcode.Codes(err)
				c.logger.Warn("media item failed",
					zap.String("key", key.String()),
					zap.Error(err))
				return errcode.Wrap(err, "fetch source "+key.String())
			}
			out := *src
			out.InfoGetTimestamp = j.infoAt
			sources[n-1] = &out
			return nil
		})
	}
	// 不带 context 的 Group 不会因单个条目失败而取消其他条目，Wait 返回第一个失败原因
	firstErr := g.Wait()

	rec := &model.Record{Info: info.Data, Sources: sources}
	succeeded := 0
	for _, s := range sources {
		if s != nil {
			succeeded++
		}
	}
	if succeeded == len(sources) {
		return rec, nil
	}

	codes := errcode.Merge(append([][]string{{errcode.MultiSourceFailed}}, itemCodes...)...)
	if succeeded == 0 {
		return nil, errcode.Wrap(firstErr, fmt.Sprintf("all %d items of %s failed", len(sources), j.key), codes...)
	}
	rec.Codes = codes
	return rec, nil
}
