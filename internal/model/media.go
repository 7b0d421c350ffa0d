package model

import (
	"encoding/json"
	"time"
)

// SourceInfo 已缓存到磁盘的音频文件
type SourceInfo struct {
	Filename           string    `json:"filename"`
	Size               int64     `json:"size"`
	Duration           *float64  `json:"duration,omitempty"` // 秒
	InfoGetTimestamp   time.Time `json:"infoGetTimestamp"`
	SourceGetTimestamp time.Time `json:"sourceGetTimestamp"`
}

// Record 一条完整解析结果：元数据 + 音频文件
//
// 单媒体类型使用 Source；多媒体类型（twitter）使用 Sources，
// 下载失败的条目记录为 null。仅元数据类型两者都为空。
type Record struct {
	Info    json.RawMessage `json:"info"`
	Source  *SourceInfo     `json:"source,omitempty"`
	Sources []*SourceInfo   `json:"sources,omitempty"`
	Codes   []string        `json:"errorCode,omitempty"`
}

// SourceFor 返回 key 对应的文件信息
func (r *Record) SourceFor(key ResourceKey) *SourceInfo {
	if r == nil {
		return nil
	}
	if key.ItemNumber > 0 {
		idx := key.ItemNumber - 1
		if idx < len(r.Sources) {
			return r.Sources[idx]
		}
		return nil
	}
	if r.Source != nil {
		return r.Source
	}
	if len(r.Sources) > 0 {
		return r.Sources[0]
	}
	return nil
}

// Complete 是否已同时拿到元数据和（需要时）音频
func (r *Record) Complete(kind Kind) bool {
	if r == nil || len(r.Info) == 0 {
		return false
	}
	if !kind.HasSource() {
		return true
	}
	if kind.MultiItem() {
		return len(r.Sources) > 0
	}
	return r.Source != nil
}

// YouTubeInfo YouTube 视频元数据
type YouTubeInfo struct {
	VideoID      string `json:"videoId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelName  string `json:"channelName"`
	ChannelID    string `json:"channelId"`
	UserID       string `json:"userId,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// NicoNicoInfo ニコニコ動画元数据
type NicoNicoInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelName  string `json:"channelName,omitempty"`
	ChannelID    string `json:"channelId,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// SoundCloudInfo SoundCloud 曲目元数据
type SoundCloudInfo struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	UserName     string  `json:"userName"`
	UserID       string  `json:"userId"`
	ThumbnailURL string  `json:"thumbnailUrl"`
}

// TwitterItem 推文中的单个媒体
type TwitterItem struct {
	ID           string `json:"id"`
	Full         string `json:"full"`
	Body         string `json:"body"`
	UserName     string `json:"userName,omitempty"`
	UserID       string `json:"userId,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// TwitterInfo 推文元数据，Items 按 ItemNumber-1 排列
type TwitterInfo struct {
	ID    string        `json:"id"`
	Items []TwitterItem `json:"items"`
}

// MusicBrainzReleaseInfo MusicBrainz release
type MusicBrainzReleaseInfo struct {
	UUID         string `json:"uuid"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// MusicBrainzRecordingInfo MusicBrainz recording
type MusicBrainzRecordingInfo struct {
	UUID  string `json:"uuid"`
	Title string `json:"title"`
}

// UserIconInfo 用户头像
type UserIconInfo struct {
	UserID       string `json:"userId"`
	Name         string `json:"name,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl"`
}
