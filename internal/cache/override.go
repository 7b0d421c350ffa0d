package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/azin/mediacache-service/internal/model"
	"go.uber.org/zap"
)

// OverrideSet 人工维护的覆盖文档：{kind: {id: {...}}}
//
// 文件修改时间变化后在下一次读取时重新加载。
type OverrideSet struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	data    map[model.Kind]map[string]map[string]any
}

// NewOverrideSet 创建覆盖集，path 为空时始终为空集
func NewOverrideSet(path string, logger *zap.Logger) *OverrideSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideSet{path: path, logger: logger}
}

// Lookup 返回指定资源的覆盖内容
func (o *OverrideSet) Lookup(kind model.Kind, id string) (map[string]any, bool) {
	if o == nil || o.path == "" {
		return nil, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.refreshLocked(); err != nil {
		o.logger.Warn("failed to load overrides, keeping previous set",
			zap.String("path", o.path),
			zap.Error(err))
	}

	v, ok := o.data[kind][id]
	return v, ok
}

// Apply 把覆盖合并到 info 上；没有覆盖时原样返回
func (o *OverrideSet) Apply(kind model.Kind, id string, info json.RawMessage) (json.RawMessage, error) {
	ov, ok := o.Lookup(kind, id)
	if !ok || len(info) == 0 {
		return info, nil
	}

	var base any
	if err := json.Unmarshal(info, &base); err != nil {
		return nil, fmt.Errorf("decode info for override: %w", err)
	}
	merged, err := Merge(base, ov)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged info: %w", err)
	}
	return out, nil
}

func (o *OverrideSet) refreshLocked() error {
	st, err := os.Stat(o.path)
	if errors.Is(err, fs.ErrNotExist) {
		o.data = nil
		o.modTime = time.Time{}
		o.size = 0
		return nil
	}
	if err != nil {
		return err
	}
	if st.ModTime().Equal(o.modTime) && st.Size() == o.size && o.data != nil {
		return nil
	}

	raw, err := os.ReadFile(o.path)
	if err != nil {
		return err
	}
	var data map[model.Kind]map[string]map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse overrides: %w", err)
		}
	}
	if data == nil {
		data = map[model.Kind]map[string]map[string]any{}
	}

	o.data = data
	o.modTime = st.ModTime()
	o.size = st.Size()
	o.logger.Debug("overrides loaded", zap.String("path", o.path), zap.Int("kinds", len(data)))
	return nil
}
