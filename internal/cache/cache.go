package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/store"
	"github.com/azin/mediacache-service/pkg/logger"
	"go.uber.org/zap"
)

// ErrNotCached 要删除的条目不存在
var ErrNotCached = errors.New("entry not cached")

// FetchFunc 缓存未命中时的取数函数
type FetchFunc func(ctx context.Context) (*model.Record, error)

// Cache 按类型分表的解析结果缓存
//
// TTL 为 0 的类型永不过期（媒体类，一旦拿到完整结果就不再重取）。
// 同一个 key 的并发 Get 会重复取数，需要由 resolver 保证单飞。
type Cache struct {
	store     *store.Store
	overrides *OverrideSet
	ttl       map[model.Kind]time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// New 创建缓存
func New(st *store.Store, overrides *OverrideSet, ttl map[model.Kind]time.Duration, log *zap.Logger) *Cache {
	if ttl == nil {
		ttl = map[model.Kind]time.Duration{}
	}
	return &Cache{
		store:     st,
		overrides: overrides,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.Component(log, "cache"),
	}
}

// TTL 返回类型的有效期，0 表示永久
func (c *Cache) TTL(kind model.Kind) time.Duration {
	return c.ttl[kind]
}

// fresh 条目是否仍在有效期内
func (c *Cache) fresh(kind model.Kind, fetchedAt time.Time) bool {
	ttl := c.ttl[kind]
	if ttl <= 0 {
		return true
	}
	return c.now().Sub(fetchedAt) < ttl
}

// Peek 只读查询，不做任何网络或子进程操作；命中时返回已合并覆盖的结果
func (c *Cache) Peek(key model.ResourceKey) (*model.Record, bool) {
	rec, fetchedAt, ok := c.Raw(key)
	if !ok || !c.fresh(key.Kind, fetchedAt) || !rec.Complete(key.Kind) {
		return nil, false
	}

	merged, err := c.Overlay(key, rec)
	if err != nil {
		c.logger.Warn("failed to apply override, serving base record",
			zap.String("key", key.String()),
			zap.Error(err))
		return rec, true
	}
	return merged, true
}

// Raw 读取未合并覆盖、不检查有效期的原始记录
func (c *Cache) Raw(key model.ResourceKey) (*model.Record, time.Time, bool) {
	entry, ok := c.store.Get(key.Kind, key.ID)
	if !ok {
		return nil, time.Time{}, false
	}
	var rec model.Record
	if err := json.Unmarshal(entry.Data, &rec); err != nil {
		c.logger.Warn("unreadable cache entry treated as miss",
			zap.String("key", key.String()),
			zap.Error(err))
		return nil, time.Time{}, false
	}
	return &rec, entry.FetchedAt, true
}

// Get 命中时直接返回；否则调用 fetch，写入存储后返回
func (c *Cache) Get(ctx context.Context, key model.ResourceKey, fetch FetchFunc) (*model.Record, error) {
	if rec, ok := c.Peek(key); ok {
		return rec, nil
	}

	rec, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Put(key, rec); err != nil {
		return nil, err
	}

	merged, err := c.Overlay(key, rec)
	if err != nil {
		return rec, nil
	}
	return merged, nil
}

// Put 写入一条完整记录，触发一次存储落盘
func (c *Cache) Put(key model.ResourceKey, rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	entry := store.Entry{FetchedAt: c.now().UTC(), Data: data}
	if err := c.store.Put(key.Kind, key.ID, entry); err != nil {
		return fmt.Errorf("persist %s: %w", key.Resource(), err)
	}

	c.logger.Debug("cache entry stored", zap.String("key", key.Resource().String()))
	return nil
}

// Overlay 返回合并覆盖后的副本，不修改 rec
func (c *Cache) Overlay(key model.ResourceKey, rec *model.Record) (*model.Record, error) {
	if c.overrides == nil {
		return rec, nil
	}
	info, err := c.overrides.Apply(key.Kind, key.ID, rec.Info)
	if err != nil {
		return nil, err
	}
	out := *rec
	out.Info = info
	return &out, nil
}

// Evict 删除一条缓存记录；磁盘上的媒体文件保留，下次解析时会被重新认领
func (c *Cache) Evict(key model.ResourceKey) error {
	if _, ok := c.store.Get(key.Kind, key.ID); !ok {
		return ErrNotCached
	}
	if err := c.store.Delete(key.Kind, key.ID); err != nil {
		return fmt.Errorf("evict %s: %w", key.Resource(), err)
	}
	c.logger.Info("cache entry evicted", zap.String("key", key.Resource().String()))
	return nil
}

// Counts 各类型当前的条目数
func (c *Cache) Counts() map[model.Kind]int {
	return c.store.Snapshot().Count()
}
