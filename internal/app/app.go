package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azin/mediacache-service/internal/cache"
	"github.com/azin/mediacache-service/internal/config"
	"github.com/azin/mediacache-service/internal/downloader"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/repository"
	"github.com/azin/mediacache-service/internal/resolver"
	"github.com/azin/mediacache-service/internal/service/ffmpeg"
	"github.com/azin/mediacache-service/internal/service/musicbrainz"
	"github.com/azin/mediacache-service/internal/service/ytdlp"
	"github.com/azin/mediacache-service/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InfoSource yt-dlp 元数据
type InfoSource interface {
	Info(ctx context.Context, kind model.Kind, id string) (json.RawMessage, int, error)
}

// SourceQueue 下载队列
type SourceQueue interface {
	Enqueue(ctx context.Context, key model.ResourceKey, onStatus model.StatusFunc) (*model.SourceInfo, error)
}

// MusicBrainz 元数据
type MusicBrainz interface {
	Release(ctx context.Context, id string) (*model.MusicBrainzReleaseInfo, error)
	Recording(ctx context.Context, id string) (*model.MusicBrainzRecordingInfo, error)
}

// Providers 各资源类型的取数实现
//
// 媒体类：yt-dlp 取元数据，下载队列取音频；MusicBrainz 与用户头像只有元数据。
func Providers(info InfoSource, queue SourceQueue, mb MusicBrainz) []resolver.Provider {
	var providers []resolver.Provider

	for _, kind := range []model.Kind{model.KindYouTube, model.KindNicoNico, model.KindSoundCloud, model.KindTwitter} {
		providers = append(providers, resolver.Provider{
			Kind:        kind,
			FetchInfo:   ytdlpInfo(info, kind),
			FetchSource: queue.Enqueue,
		})
	}
	for _, kind := range []model.Kind{model.KindYouTubeUserIcon, model.KindSoundCloudUserIcon} {
		providers = append(providers, resolver.Provider{
			Kind:      kind,
			FetchInfo: ytdlpInfo(info, kind),
		})
	}

	providers = append(providers,
		resolver.Provider{
			Kind: model.KindMusicBrainzRelease,
			FetchInfo: func(ctx context.Context, id string) (*resolver.InfoResult, error) {
				rel, err := mb.Release(ctx, id)
				if err != nil {
					return nil, err
				}
				return marshalInfo(rel)
			},
		},
		resolver.Provider{
			Kind: model.KindMusicBrainzRecording,
			FetchInfo: func(ctx context.Context, id string) (*resolver.InfoResult, error) {
				rec, err := mb.Recording(ctx, id)
				if err != nil {
					return nil, err
				}
				return marshalInfo(rec)
			},
		},
	)
	return providers
}

func ytdlpInfo(info InfoSource, kind model.Kind) resolver.InfoFunc {
	return func(ctx context.Context, id string) (*resolver.InfoResult, error) {
		data, items, err := info.Info(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		return &resolver.InfoResult{Data: data, Items: items}, nil
	}
}

func marshalInfo(v any) (*resolver.InfoResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errcode.Wrap(err, "marshal info", errcode.JSONResponseFailed)
	}
	return &resolver.InfoResult{Data: data}, nil
}

// TTLs 缓存有效期；媒体类不设置，即永久有效
func TTLs(cfg *config.CacheConfig) map[model.Kind]time.Duration {
	return map[model.Kind]time.Duration{
		model.KindMusicBrainzRelease:   cfg.MusicBrainzTTL,
		model.KindMusicBrainzRecording: cfg.MusicBrainzTTL,
		model.KindYouTubeUserIcon:      cfg.UserIconTTL,
		model.KindSoundCloudUserIcon:   cfg.UserIconTTL,
	}
}

// App 媒体服务进程内的全部组件
type App struct {
	Store       *store.Store
	Cache       *cache.Cache
	Coordinator *resolver.Coordinator
	Queue       *downloader.Queue
	DB          *gorm.DB
	History     *repository.DownloadRepository
	Settings    *repository.SettingRepository
}

// New 按配置组装组件
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := repository.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repository.InitDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	st, err := store.Open(cfg.Storage.StorePath, log)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	history := repository.NewDownloadRepository(db)
	layout := downloader.Layout{Root: cfg.Storage.CacheDir}

	runner := ytdlp.NewRunner(ytdlp.Options{
		Path:           cfg.Downloader.YtDlpPath,
		CookiesBrowser: cfg.Downloader.CookiesBrowser,
		CookiesFile:    cfg.Downloader.CookiesFile,
		PlayerClient:   cfg.Downloader.PlayerClient,
		FallbackClient: cfg.Downloader.FallbackClient,
	}, log)
	tool := ffmpeg.New(cfg.Downloader.FFmpegPath, cfg.Downloader.FFprobePath, log)
	pipeline := downloader.NewPipeline(runner, tool, layout, log)

	queue := downloader.NewQueue(pipeline.Fetch, layout, log,
		downloader.WithMaxActive(cfg.Downloader.MaxActive),
		downloader.WithRecorder(history),
		downloader.WithProber(tool),
	)

	c := cache.New(st, cache.NewOverrideSet(cfg.Storage.OverridesPath, log), TTLs(&cfg.Cache), log)
	mb := musicbrainz.NewClient(&cfg.MusicBrainz, log)
	coord := resolver.NewCoordinator(c, Providers(runner, queue, mb), log)

	return &App{
		Store:       st,
		Cache:       c,
		Coordinator: coord,
		Queue:       queue,
		DB:          db,
		History:     history,
		Settings:    repository.NewSettingRepository(db),
	}, nil
}

// Close 等待存储写盘并关闭数据库
func (a *App) Close() error {
	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
