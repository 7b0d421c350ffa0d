package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/azin/mediacache-service/internal/downloader"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/repository"
	"github.com/azin/mediacache-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// History 下载历史查询
type History interface {
	List(ctx context.Context, f repository.DownloadFilter) ([]*model.DownloadRecord, error)
	FindByResource(ctx context.Context, key model.ResourceKey) ([]*model.DownloadRecord, error)
	CountByResult(ctx context.Context, result string) (int64, error)
}

// QueueView 下载队列快照
type QueueView interface {
	Snapshot() []downloader.Entry
	Active() int
}

// InflightView 进行中的解析任务
type InflightView interface {
	Inflight() map[string]model.Progress
	Progress(key model.ResourceKey) (model.Progress, bool)
}

// TaskEnqueuer asynq 客户端
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobHandler 下载任务、队列与预取
type JobHandler struct {
	history  History
	queue    QueueView
	inflight InflightView
	client   TaskEnqueuer
	maxRetry int
	started  time.Time
	logger   *zap.Logger
}

// NewJobHandler 创建处理器；client 为 nil 时预取接口返回 503
func NewJobHandler(
	history History,
	queue QueueView,
	inflight InflightView,
	client TaskEnqueuer,
	maxRetry int,
	logger *zap.Logger,
) *JobHandler {
	return &JobHandler{
		history:  history,
		queue:    queue,
		inflight: inflight,
		client:   client,
		maxRetry: maxRetry,
		started:  time.Now(),
		logger:   logger,
	}
}

// List 列出下载历史
func (h *JobHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	records, err := h.history.List(c.Request.Context(), repository.DownloadFilter{
		Kind:   c.Query("kind"),
		Result: c.Query("result"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("failed to list downloads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  records,
		"count": len(records),
	})
}

// Get 某个资源的下载历史；正在解析的资源即使还没有历史也会返回当前进度
func (h *JobHandler) Get(c *gin.Context) {
	kind, ok := model.ParseKind(c.Param("kind"))
	if !ok || !kind.HasSource() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}
	key, ok := keyFromPath(kind, c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	records, err := h.history.FindByResource(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("failed to find downloads", zap.String("key", key.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to find jobs"})
		return
	}
	progress, running := h.inflight.Progress(key)
	if len(records) == 0 && !running {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if records == nil {
		records = []*model.DownloadRecord{}
	}

	body := gin.H{
		"key":  key,
		"jobs": records,
	}
	if running {
		body["progress"] = progress
	}
	c.JSON(http.StatusOK, body)
}

// Queue 当前下载队列与进行中的解析任务
func (h *JobHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":   h.queue.Active(),
		"entries":  h.queue.Snapshot(),
		"inflight": h.inflight.Inflight(),
	})
}

// PrefetchRequest 预取请求
type PrefetchRequest struct {
	Service string `json:"service" binding:"required"`
	ID      string `json:"id" binding:"required"`
}

// Prefetch 把资源加入后台预取队列
func (h *JobHandler) Prefetch(c *gin.Context) {
	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := model.ParseKind(req.Service); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown service"})
		return
	}
	if h.client == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prefetch queue is not configured"})
		return
	}

	task, err := worker.NewPrefetchTask(worker.PrefetchPayload{Service: req.Service, ID: req.ID}, h.maxRetry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build task"})
		return
	}

	info, err := h.client.EnqueueContext(c.Request.Context(), task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.JSON(http.StatusOK, gin.H{
			"service": req.Service,
			"id":      req.ID,
			"message": "prefetch already queued",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to enqueue task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue task"})
		return
	}

	h.logger.Info("prefetch enqueued",
		zap.String("service", req.Service),
		zap.String("id", req.ID),
		zap.String("task_id", info.ID))

	c.JSON(http.StatusAccepted, gin.H{
		"service": req.Service,
		"id":      req.ID,
		"task_id": info.ID,
		"message": "prefetch queued",
	})
}

// ErrCode 错误码说明
func (h *JobHandler) ErrCode(c *gin.Context) {
	c.JSON(http.StatusOK, errcode.Describe(c.Param("code")))
}

// ErrCodes 批量说明并按影响分组，?codes=a,b,c
func (h *JobHandler) ErrCodes(c *gin.Context) {
	codes := splitKeys(c.Query("codes"))
	details := make([]errcode.Info, 0, len(codes))
	for _, code := range codes {
		details = append(details, errcode.Describe(code))
	}
	c.JSON(http.StatusOK, gin.H{
		"priority": errcode.Prioritize(codes),
		"details":  details,
	})
}

// Health 健康检查
func (h *JobHandler) Health(c *gin.Context) {
	failed, err := h.history.CountByResult(c.Request.Context(), model.ResultFailed)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
		return
	}

	queue := "disabled"
	if h.client != nil {
		queue = "healthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Seconds(),
		"components": gin.H{
			"database": "healthy",
			"prefetch": queue,
		},
		"stats": gin.H{
			"active_downloads": h.queue.Active(),
			"queued_downloads": len(h.queue.Snapshot()),
			"inflight_jobs":    len(h.inflight.Inflight()),
			"failed_downloads": failed,
		},
	})
}
