package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SettingHandler 服务器设置管理
type SettingHandler struct {
	settings SettingStore
	logger   *zap.Logger
}

// NewSettingHandler 创建处理器
func NewSettingHandler(settings SettingStore, logger *zap.Logger) *SettingHandler {
	return &SettingHandler{settings: settings, logger: logger}
}

// Get 读取全部设置或 ?key=a,b 指定的设置
func (h *SettingHandler) Get(c *gin.Context) {
	guildID := c.Param("guildId")
	values, err := h.settings.Get(c.Request.Context(), guildID, splitKeys(c.Query("key")))
	if err != nil {
		h.logger.Error("failed to read settings", zap.String("guild_id", guildID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"guild_id": guildID,
		"settings": decodeSettings(values),
	})
}

// Put 写入设置，请求体为 {"key": 任意 JSON 值}
func (h *SettingHandler) Put(c *gin.Context) {
	guildID := c.Param("guildId")

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings given"})
		return
	}

	values := make(map[string]string, len(body))
	for k, v := range body {
		if k == "" || len(k) > 64 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid setting key"})
			return
		}
		values[k] = string(v)
	}

	if err := h.settings.Set(c.Request.Context(), guildID, values); err != nil {
		h.logger.Error("failed to save settings", zap.String("guild_id", guildID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	h.logger.Info("settings updated",
		zap.String("guild_id", guildID),
		zap.Int("keys", len(values)))
	c.JSON(http.StatusOK, gin.H{
		"guild_id": guildID,
		"updated":  len(values),
	})
}

// Delete 删除 ?key=a,b 指定的设置
func (h *SettingHandler) Delete(c *gin.Context) {
	guildID := c.Param("guildId")
	keys := splitKeys(c.Query("key"))
	if len(keys) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if err := h.settings.Delete(c.Request.Context(), guildID, keys); err != nil {
		h.logger.Error("failed to delete settings", zap.String("guild_id", guildID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete settings"})
		return
	}
	c.Status(http.StatusNoContent)
}
