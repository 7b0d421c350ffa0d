package repository

import (
	"context"
	"time"

	"github.com/azin/mediacache-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository 服务器设置仓库
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository 创建设置仓库
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get 读取设置；keys 为空时返回该服务器的全部设置
func (r *SettingRepository) Get(ctx context.Context, guildID string, keys []string) (map[string]string, error) {
	q := r.db.WithContext(ctx).Where("guild_id = ?", guildID)
	if len(keys) > 0 {
		q = q.Where("setting_key IN ?", keys)
	}

	var rows []model.GuildSetting
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Set 写入多个设置，已存在的键覆盖
func (r *SettingRepository) Set(ctx context.Context, guildID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]model.GuildSetting, 0, len(values))
	for k, v := range values {
		rows = append(rows, model.GuildSetting{GuildID: guildID, Key: k, Value: v, UpdatedAt: now})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// Delete 删除指定键
func (r *SettingRepository) Delete(ctx context.Context, guildID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("guild_id = ? AND setting_key IN ?", guildID, keys).
		Delete(&model.GuildSetting{}).Error
}
