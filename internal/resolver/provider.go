package resolver

import (
	"context"
	"encoding/json"

	"github.com/azin/mediacache-service/internal/model"
)

// InfoResult 元数据取数结果
type InfoResult struct {
	Data json.RawMessage
	// Items 多媒体资源（twitter）的条目数，单媒体为 0
	Items int
}

// InfoFunc 取元数据
type InfoFunc func(ctx context.Context, id string) (*InfoResult, error)

// SourceFunc 取音频文件，key 带 ItemNumber 时只取该条目
type SourceFunc func(ctx context.Context, key model.ResourceKey, onStatus model.StatusFunc) (*model.SourceInfo, error)

// Provider 一种资源类型的取数实现；FetchSource 为 nil 表示只有元数据
type Provider struct {
	Kind        model.Kind
	FetchInfo   InfoFunc
	FetchSource SourceFunc
}

// Result 解析结果
type Result struct {
	Key      model.ResourceKey   `json:"key"`
	Info     json.RawMessage     `json:"info"`
	Source   *model.SourceInfo   `json:"source,omitempty"`
	Sources  []*model.SourceInfo `json:"sources,omitempty"`
	Progress *model.Progress     `json:"progress,omitempty"`
	Codes    []string            `json:"errorCode,omitempty"`
	Cached   bool                `json:"cached"`
}
