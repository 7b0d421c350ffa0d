package model

import "time"

// GuildSetting 服务器级别的键值设置
type GuildSetting struct {
	GuildID   string    `gorm:"primaryKey;size:64" json:"guild_id"`
	Key       string    `gorm:"primaryKey;size:64;column:setting_key" json:"key"`
	Value     string    `gorm:"type:text" json:"value"` // JSON 编码的值
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 表名
func (GuildSetting) TableName() string {
	return "guild_settings"
}
