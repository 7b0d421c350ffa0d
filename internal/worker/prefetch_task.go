package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypePrefetch = "media:prefetch"
)

// PrefetchPayload 预取任务载荷
type PrefetchPayload struct {
	Service string `json:"service"`
	ID      string `json:"id"`
}

// NewPrefetchTask 构建预取任务，同一资源排队中时不会重复入队
func NewPrefetchTask(payload PrefetchPayload, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal prefetch payload: %w", err)
	}
	return asynq.NewTask(TypePrefetch, data,
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(fmt.Sprintf("prefetch:%s:%s", payload.Service, payload.ID)),
	), nil
}

// 这些错误码重试也不会成功
var permanentCodes = []string{
	errcode.YtDlpUnavailable,
	errcode.UpstreamNotFound,
	errcode.UnsupportedSource,
	errcode.YtDlpNoMedia,
	errcode.URLParseFailed,
}

// Prefetcher 通过媒体服务的 HTTP 接口预热缓存
type Prefetcher struct {
	client *resty.Client
	logger *zap.Logger
}

// NewPrefetcher 创建预取处理器
func NewPrefetcher(cfg *config.WorkerConfig, log *zap.Logger) *Prefetcher {
	client := resty.New().
		SetBaseURL(cfg.MediaServerURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json")

	return &Prefetcher{
		client: client,
		logger: logger.Component(log, "prefetch"),
	}
}

// ProcessTask 处理任务
func (p *Prefetcher) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload PrefetchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %v: %w", err, asynq.SkipRetry)
	}
	kind, ok := model.ParseKind(payload.Service)
	if !ok || payload.ID == "" {
		return fmt.Errorf("invalid prefetch target %s/%s: %w", payload.Service, payload.ID, asynq.SkipRetry)
	}

	p.logger.Info("processing prefetch task",
		zap.String("service", payload.Service),
		zap.String("id", payload.ID))
	start := time.Now()

	var items int
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"info", func(ctx context.Context) error {
			var err error
			items, err = p.fetchInfo(ctx, payload)
			return err
		}},
		{"audio", func(ctx context.Context) error {
			if !kind.HasSource() {
				return nil
			}
			if !kind.MultiItem() {
				return p.warmAudio(ctx, payload.Service, payload.ID)
			}
			for n := 1; n <= items; n++ {
				if err := p.warmAudio(ctx, payload.Service, payload.ID+"-"+strconv.Itoa(n)); err != nil {
					return err
				}
			}
			return nil
		}},
	}

	for _, stage := range stages {
		if err := stage.fn(ctx); err != nil {
			p.logger.Error("stage failed",
				zap.String("stage", stage.name),
				zap.String("service", payload.Service),
				zap.String("id", payload.ID),
				zap.Strings("codes", errcode.Codes(err)),
				zap.Error(err))

			if permanent(err) {
				return fmt.Errorf("%s failed: %v: %w", stage.name, err, asynq.SkipRetry)
			}
			return fmt.Errorf("%s failed: %w", stage.name, err)
		}
	}

	p.logger.Info("prefetch task completed",
		zap.String("service", payload.Service),
		zap.String("id", payload.ID),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// fetchInfo 请求元数据，返回多媒体资源的条目数
func (p *Prefetcher) fetchInfo(ctx context.Context, payload PrefetchPayload) (int, error) {
	var body struct {
		Info struct {
			Items []json.RawMessage `json:"items"`
		} `json:"info"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"service": payload.Service, "id": payload.ID}).
		Get("/{service}/{id}/json")
	if err != nil {
		return 0, fmt.Errorf("request info: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return 0, err
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, errcode.Wrap(err, "decode info response", errcode.JSONResponseFailed)
	}
	return len(body.Info.Items), nil
}

// warmAudio 只取第一个字节；服务端会阻塞到文件下载完成
func (p *Prefetcher) warmAudio(ctx context.Context, service, id string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Range", "bytes=0-0").
		SetPathParams(map[string]string{"service": service, "id": id}).
		Get("/{service}/{id}/audio")
	if err != nil {
		return fmt.Errorf("request audio %s/%s: %w", service, id, err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	p.logger.Debug("audio warmed",
		zap.String("service", service),
		zap.String("id", id),
		zap.String("content_range", resp.Header().Get("Content-Range")))
	return nil
}

// checkResponse 404 响应体带错误码，400 表示请求本身不合法
func checkResponse(resp *resty.Response) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusOK || code == http.StatusPartialContent:
		return nil
	case code == http.StatusNotFound:
		var body struct {
			Codes []string `json:"errorCode"`
		}
		if err := json.Unmarshal(resp.Body(), &body); err != nil || len(body.Codes) == 0 {
			return errcode.Newf([]string{errcode.Unknown}, "media server returned 404 for %s", resp.Request.URL)
		}
		return errcode.Newf(body.Codes, "media server could not resolve %s", resp.Request.URL)
	case code == http.StatusBadRequest:
		return errcode.Newf([]string{errcode.URLParseFailed}, "media server rejected %s", resp.Request.URL)
	default:
		return fmt.Errorf("media server returned status %d", code)
	}
}

func permanent(err error) bool {
	for _, c := range permanentCodes {
		if errcode.Has(err, c) {
			return true
		}
	}
	return false
}
