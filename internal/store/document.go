package store

import (
	"encoding/json"
	"time"

	"github.com/azin/mediacache-service/internal/model"
)

// DocumentVersion 当前文档格式版本
const DocumentVersion = 1

// Entry 缓存条目，写入后只会被整体替换
type Entry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Data      json.RawMessage `json:"data"`
}

// Document 持久化的单一 JSON 文档
type Document struct {
	Version int                             `json:"version"`
	Tables  map[model.Kind]map[string]Entry `json:"tables"`
}

// NewDocument 返回一个空但合法的文档
func NewDocument() *Document {
	d := &Document{Version: DocumentVersion}
	d.normalize()
	return d
}

func (d *Document) normalize() {
	if d.Version == 0 {
		d.Version = DocumentVersion
	}
	if d.Tables == nil {
		d.Tables = make(map[model.Kind]map[string]Entry, len(model.Kinds))
	}
	for _, k := range model.Kinds {
		if d.Tables[k] == nil {
			d.Tables[k] = make(map[string]Entry)
		}
	}
}

// Clone 复制表结构；Entry 不可变，因此不做深拷贝
func (d *Document) Clone() *Document {
	out := &Document{
		Version: d.Version,
		Tables:  make(map[model.Kind]map[string]Entry, len(d.Tables)),
	}
	for kind, table := range d.Tables {
		t := make(map[string]Entry, len(table))
		for id, e := range table {
			t[id] = e
		}
		out.Tables[kind] = t
	}
	return out
}

// Count 各类型条目数
func (d *Document) Count() map[model.Kind]int {
	out := make(map[model.Kind]int, len(d.Tables))
	for kind, table := range d.Tables {
		out[kind] = len(table)
	}
	return out
}
