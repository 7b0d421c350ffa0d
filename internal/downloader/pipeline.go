package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/service/ffmpeg"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AudioFetcher 选格式并下载原始文件
type AudioFetcher interface {
	ChooseFormat(ctx context.Context, key model.ResourceKey) (string, error)
	Download(ctx context.Context, key model.ResourceKey, dir, format string, onPercent func(float64)) (string, error)
}

// Remuxer 把原始文件转换为最终音频文件
type Remuxer interface {
	Remux(ctx context.Context, src, dir, stem string) (*ffmpeg.Result, error)
}

// Pipeline 单个条目的下载流程：选格式 → 下载 → 转换 → 移入缓存目录
type Pipeline struct {
	fetcher AudioFetcher
	remuxer Remuxer
	layout  Layout
	logger  *zap.Logger
}

// NewPipeline 创建下载流程
func NewPipeline(fetcher AudioFetcher, remuxer Remuxer, layout Layout, log *zap.Logger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		remuxer: remuxer,
		layout:  layout,
		logger:  logger.Component(log, "pipeline"),
	}
}

// downloadPercent 把 yt-dlp 的 0..100 映射到 downloading 阶段的 40..60
func downloadPercent(pct float64) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return model.StatusDownloading.BasePercent() + int(pct*20/100)
}

// Fetch 实现 FetchFunc
func (p *Pipeline) Fetch(ctx context.Context, key model.ResourceKey, advance model.StatusFunc) (*model.SourceInfo, error) {
	work := filepath.Join(p.layout.WorkDir(), uuid.NewString())
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, errcode.Wrap(err, "create work dir", errcode.SourceFetchFailed)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			p.logger.Warn("failed to clean work dir", zap.String("dir", work), zap.Error(err))
		}
	}()

	var (
		format string
		raw    string
		out    *ffmpeg.Result
		final  string
	)

	stages := []struct {
		name   string
		status model.Status
		fn     func() error
	}{
		{"choose format", model.StatusFormatChoosing, func() error {
			var err error
			format, err = p.fetcher.ChooseFormat(ctx, key)
			return err
		}},
		{"download", model.StatusDownloading, func() error {
			var err error
			raw, err = p.fetcher.Download(ctx, key, work, format, func(pct float64) {
				advance(model.Progress{Status: model.StatusDownloading, Percent: downloadPercent(pct)})
			})
			return err
		}},
		{"convert", model.StatusConverting, func() error {
			var err error
			out, err = p.remuxer.Remux(ctx, raw, work, key.FileStem())
			return err
		}},
		{"move", model.StatusConverting, func() error {
			dir := p.layout.Dir(key.Kind)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			final = filepath.Join(dir, filepath.Base(out.Path))
			return os.Rename(out.Path, final)
		}},
	}

	for _, stage := range stages {
		advance(model.Progress{Status: stage.status, Percent: stage.status.BasePercent()})
		if err := stage.fn(); err != nil {
			p.logger.Warn("download stage failed",
				zap.String("key", key.String()),
				zap.String("stage", stage.name),
				zap.Error(err))
			var coded *errcode.Error
			if errors.As(err, &coded) {
				return nil, err
			}
			return nil, errcode.Wrap(err, fmt.Sprintf("%s %s", stage.name, key), errcode.SourceFetchFailed)
		}
	}

	st, err := os.Stat(final)
	if err != nil {
		return nil, errcode.Wrap(err, "stat cached file", errcode.FileMissing)
	}
	return &model.SourceInfo{
		Filename:           filepath.Base(final),
		Size:               st.Size(),
		Duration:           out.Duration,
		SourceGetTimestamp: time.Now().UTC(),
	}, nil
}
