package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Downloader  DownloaderConfig  `mapstructure:"downloader"`
	Cache       CacheConfig       `mapstructure:"cache"`
	MusicBrainz MusicBrainzConfig `mapstructure:"musicbrainz"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release / test
}

type StorageConfig struct {
	CacheDir      string `mapstructure:"cache_dir"`      // 音频文件根目录，按 kind 分子目录
	StorePath     string `mapstructure:"store_path"`     // 元数据 JSON 文档
	OverridesPath string `mapstructure:"overrides_path"` // 人工维护的覆盖 JSON
}

type DownloaderConfig struct {
	MaxActive      int    `mapstructure:"max_active"`
	YtDlpPath      string `mapstructure:"ytdlp_path"`
	FFmpegPath     string `mapstructure:"ffmpeg_path"`
	FFprobePath    string `mapstructure:"ffprobe_path"`
	CookiesBrowser string `mapstructure:"cookies_browser"`
	CookiesFile    string `mapstructure:"cookies_file"`
	PlayerClient   string `mapstructure:"player_client"`   // 首次尝试的 youtube player_client
	FallbackClient string `mapstructure:"fallback_client"` // 普通失败后的替代 player_client
}

type CacheConfig struct {
	MusicBrainzTTL time.Duration `mapstructure:"musicbrainz_ttl"`
	UserIconTTL    time.Duration `mapstructure:"user_icon_ttl"`
}

type MusicBrainzConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	CoverBaseURL string        `mapstructure:"cover_base_url"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite / postgres
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	DB  int    `mapstructure:"db"`
}

type SecurityConfig struct {
	APIKeys []APIKey `mapstructure:"api_keys"`
}

type APIKey struct {
	Key  string `mapstructure:"key"`
	Name string `mapstructure:"name"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`  // debug / info / warn / error
	Format   string `mapstructure:"format"` // json / console
	Output   string `mapstructure:"output"` // stdout / file / both
	FilePath string `mapstructure:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MediaServerURL string        `mapstructure:"media_server_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetry       int           `mapstructure:"max_retry"`
}

// Load 加载配置；配置文件不存在时只使用环境变量和默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	// 环境变量覆盖
	v.BindEnv("server.port", "PORT")
	v.BindEnv("storage.cache_dir", "MEDIA_CACHE_DIR")
	v.BindEnv("storage.store_path", "MEDIA_STORE_PATH")
	v.BindEnv("downloader.ytdlp_path", "YTDLP_PATH")
	v.BindEnv("downloader.cookies_file", "YTDLP_COOKIES_FILE")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("worker.media_server_url", "MEDIA_SERVER_URL")
	v.BindEnv("logging.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 兼容纯数字秒值（例如 MUSICBRAINZ_TIMEOUT=15）
	normalizeDurationValues(v, []string{
		"cache.musicbrainz_ttl",
		"cache.user_icon_ttl",
		"musicbrainz.timeout",
		"database.conn_max_lifetime",
		"worker.request_timeout",
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	SetDefaults(&cfg)

	if err := normalizeRedisAddress(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to parse redis config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults 填充未配置的字段
func SetDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "./cache"
	}
	if cfg.Storage.StorePath == "" {
		cfg.Storage.StorePath = "./data/store.json"
	}
	if cfg.Storage.OverridesPath == "" {
		cfg.Storage.OverridesPath = "./data/overrides.json"
	}
	if cfg.Downloader.MaxActive == 0 {
		cfg.Downloader.MaxActive = 5
	}
	if cfg.Downloader.YtDlpPath == "" {
		cfg.Downloader.YtDlpPath = "yt-dlp"
	}
	if cfg.Downloader.FFmpegPath == "" {
		cfg.Downloader.FFmpegPath = "ffmpeg"
	}
	if cfg.Downloader.FFprobePath == "" {
		cfg.Downloader.FFprobePath = "ffprobe"
	}
	if cfg.Downloader.CookiesBrowser == "" {
		cfg.Downloader.CookiesBrowser = "firefox"
	}
	if cfg.Downloader.CookiesFile == "" {
		cfg.Downloader.CookiesFile = "./cookies.txt"
	}
	if cfg.Downloader.PlayerClient == "" {
		cfg.Downloader.PlayerClient = "tv_embedded"
	}
	if cfg.Downloader.FallbackClient == "" {
		cfg.Downloader.FallbackClient = "mweb"
	}
	if cfg.Cache.MusicBrainzTTL == 0 {
		cfg.Cache.MusicBrainzTTL = 6 * 30 * 24 * time.Hour
	}
	if cfg.Cache.UserIconTTL == 0 {
		cfg.Cache.UserIconTTL = 6 * 30 * 24 * time.Hour
	}
	if cfg.MusicBrainz.BaseURL == "" {
		cfg.MusicBrainz.BaseURL = "https://musicbrainz.org/ws/2"
	}
	if cfg.MusicBrainz.CoverBaseURL == "" {
		cfg.MusicBrainz.CoverBaseURL = "https://coverartarchive.org"
	}
	if cfg.MusicBrainz.UserAgent == "" {
		cfg.MusicBrainz.UserAgent = "mediacache-service/1.0 (https://github.com/azin/mediacache-service)"
	}
	if cfg.MusicBrainz.Timeout == 0 {
		cfg.MusicBrainz.Timeout = 15 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "./data/history.db"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 2
	}
	if cfg.Worker.MediaServerURL == "" {
		cfg.Worker.MediaServerURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}
	if cfg.Worker.RequestTimeout == 0 {
		cfg.Worker.RequestTimeout = 30 * time.Minute
	}
	if cfg.Worker.MaxRetry == 0 {
		cfg.Worker.MaxRetry = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func normalizeDurationValues(v *viper.Viper, keys []string) {
	for _, key := range keys {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err == nil {
			continue
		}
		if isDigits(raw) {
			v.Set(key, raw+"s")
		}
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// RedisEnabled 是否配置了 Redis（prefetch 队列依赖它）
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.URL) != ""
}

func normalizeRedisAddress(redisCfg *RedisConfig) error {
	raw := strings.TrimSpace(redisCfg.URL)
	if raw == "" {
		return nil
	}

	// asynq 的 Addr 需要 host:port
	if !strings.Contains(raw, "://") {
		redisCfg.URL = raw
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL %q: %w", raw, err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("unsupported REDIS_URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid REDIS_URL %q: missing host", raw)
	}

	redisCfg.URL = u.Host

	if redisCfg.DB != 0 {
		return nil
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return nil
	}

	db, err := strconv.Atoi(path)
	if err != nil || db < 0 {
		return fmt.Errorf("invalid REDIS_URL database index %q", path)
	}
	redisCfg.DB = db

	return nil
}
