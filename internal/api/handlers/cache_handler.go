package handlers

import (
	"errors"
	"net/http"

	"github.com/azin/mediacache-service/internal/cache"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CacheAdmin 缓存统计与清理
type CacheAdmin interface {
	Counts() map[model.Kind]int
	Evict(key model.ResourceKey) error
}

// CacheHandler 缓存管理
type CacheHandler struct {
	cache  CacheAdmin
	logger *zap.Logger
}

// NewCacheHandler 创建处理器
func NewCacheHandler(cache CacheAdmin, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: logger}
}

// Stats 各类型的缓存条目数
func (h *CacheHandler) Stats(c *gin.Context) {
	counts := h.cache.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": counts,
		"total":   total,
	})
}

// Evict 删除一条缓存记录，下次请求会重新解析；已下载的文件保留并被重新认领
func (h *CacheHandler) Evict(c *gin.Context) {
	kind, ok := model.ParseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}
	key, ok := keyFromPath(kind, c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	key = key.Resource()

	err := h.cache.Evict(key)
	if errors.Is(err, cache.ErrNotCached) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not cached"})
		return
	}
	if err != nil {
		h.logger.Error("failed to evict cache entry", zap.String("key", key.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to evict entry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":     key.String(),
		"message": "entry evicted",
	})
}
