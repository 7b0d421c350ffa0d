package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/azin/mediacache-service/internal/downloader"
	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/metrics"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/internal/resolver"
	"github.com/azin/mediacache-service/internal/service/link"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	formatAudio = "audio"
	formatJSON  = "json"

	serviceSetting = "setting"
	serviceParse   = "parse"
	serviceURL     = "url"
)

// Resolver 单飞解析
type Resolver interface {
	Resolve(ctx context.Context, key model.ResourceKey, fast bool) (*resolver.Result, error)
}

// SettingStore 服务器设置读写
type SettingStore interface {
	Get(ctx context.Context, guildID string, keys []string) (map[string]string, error)
	Set(ctx context.Context, guildID string, values map[string]string) error
	Delete(ctx context.Context, guildID string, keys []string) error
}

var contentTypes = map[string]string{
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// MediaHandler 处理 /{service}/{id}/{audio|json}
type MediaHandler struct {
	resolver Resolver
	layout   downloader.Layout
	settings SettingStore
	logger   *zap.Logger
}

// NewMediaHandler 创建处理器；settings 为 nil 时 setting 服务返回 2-2
func NewMediaHandler(r Resolver, layout downloader.Layout, settings SettingStore, log *zap.Logger) *MediaHandler {
	return &MediaHandler{
		resolver: r,
		layout:   layout,
		settings: settings,
		logger:   logger.Component(log, "media"),
	}
}

// BadRequest 固定的 400 响应，不带响应体
func BadRequest(c *gin.Context) {
	c.AbortWithStatus(http.StatusBadRequest)
}

// Serve 路由入口
func (h *MediaHandler) Serve(c *gin.Context) {
	service := c.Param("service")
	id := c.Param("id")
	format := c.Param("format")

	if id == "" || (format != formatAudio && format != formatJSON) {
		BadRequest(c)
		return
	}
	if format == formatAudio && c.Request.URL.RawQuery != "" {
		BadRequest(c)
		return
	}

	switch service {
	case serviceSetting:
		h.serveSetting(c, id, format)
		return
	case serviceParse:
		h.serveParse(c, id, format)
		return
	case serviceURL:
		raw, err := link.DecodeParam(id)
		if err != nil {
			h.fail(c, err)
			return
		}
		key, err := link.Parse(raw)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.serveKey(c, key, format)
		return
	}

	kind, ok := model.ParseKind(service)
	if !ok {
		BadRequest(c)
		return
	}
	key, ok := keyFromPath(kind, id)
	if !ok {
		BadRequest(c)
		return
	}
	h.serveKey(c, key, format)
}

// keyFromPath twitter 的 id 为 {postId}-{itemNumber}
func keyFromPath(kind model.Kind, id string) (model.ResourceKey, bool) {
	if !kind.MultiItem() {
		return model.ResourceKey{Kind: kind, ID: id}, true
	}
	postID, n, err := model.ParseCompositeID(id)
	if err != nil {
		return model.ResourceKey{}, false
	}
	return model.ResourceKey{Kind: kind, ID: postID, ItemNumber: n}, true
}

func (h *MediaHandler) serveKey(c *gin.Context, key model.ResourceKey, format string) {
	ctx := c.Request.Context()

	if format == formatJSON {
		res, err := h.resolver.Resolve(ctx, key, true)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	if !key.Kind.HasSource() {
		BadRequest(c)
		return
	}
	if key.Kind.MultiItem() && key.ItemNumber == 0 {
		key = key.Item(1)
	}
	res, err := h.resolver.Resolve(ctx, key, false)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Source == nil {
		h.fail(c, errcode.Newf([]string{errcode.NoSourceInfo}, "no source for %s", key))
		return
	}
	h.sendFile(c, key, h.layout.Path(key.Kind, res.Source.Filename))
}

// sendFile 按 Range 头输出文件；有 Range 头时一律 206
func (h *MediaHandler) sendFile(c *gin.Context, key model.ResourceKey, path string) {
	f, err := os.Open(path)
	if err != nil {
		h.fail(c, errcode.Wrap(err, "open cached file "+key.String(), errcode.FileMissing))
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() || st.Size() == 0 {
		h.fail(c, errcode.Newf([]string{errcode.FileMissing}, "cached file %s is not usable", path))
		return
	}
	size := st.Size()

	header := c.GetHeader("Range")
	r := parseRange(header, size)
	if _, err := f.Seek(r.start, io.SeekStart); err != nil {
		h.fail(c, errcode.Wrap(err, "seek cached file", errcode.FileMissing))
		return
	}

	status := http.StatusOK
	extra := map[string]string{"Accept-Ranges": "bytes"}
	if header != "" {
		status = http.StatusPartialContent
		extra["Content-Range"] = r.contentRange(size)
	}

	ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		ct = "application/octet-stream"
	}
	c.DataFromReader(status, r.length(), ct, io.LimitReader(f, r.length()), extra)
	metrics.BytesServed.Add(float64(r.length()))
}

func (h *MediaHandler) serveParse(c *gin.Context, encoded, format string) {
	if format != formatJSON {
		BadRequest(c)
		return
	}
	raw, err := link.DecodeParam(encoded)
	if err != nil {
		h.fail(c, err)
		return
	}
	key, err := link.Parse(raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service":    key.Kind,
		"id":         key.ID,
		"itemNumber": key.ItemNumber,
	})
}

// serveSetting GET /setting/{guildId}/json?type=server&key=a,b,c
func (h *MediaHandler) serveSetting(c *gin.Context, guildID, format string) {
	if format != formatJSON || c.Query("type") != "server" {
		BadRequest(c)
		return
	}
	if h.settings == nil {
		h.fail(c, errcode.New("settings are not configured", errcode.NotImplemented))
		return
	}

	values, err := h.settings.Get(c.Request.Context(), guildID, splitKeys(c.Query("key")))
	if err != nil {
		h.fail(c, errcode.Wrap(err, "read settings "+guildID, errcode.JSONResponseFailed))
		return
	}
	c.JSON(http.StatusOK, decodeSettings(values))
}

// fail 404 + 错误码；调用方已断开时不写响应
func (h *MediaHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		c.Abort()
		return
	}
	codes := errcode.Codes(err)
	h.logger.Warn("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Strings("codes", codes),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"errorCode": codes})
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// decodeSettings 值按 JSON 存储，历史数据里的非 JSON 值按字符串返回
func decodeSettings(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if json.Valid([]byte(v)) {
			out[k] = json.RawMessage(v)
		} else {
			out[k] = v
		}
	}
	return out
}
