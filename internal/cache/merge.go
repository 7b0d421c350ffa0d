package cache

import (
	"fmt"

	"dario.cat/mergo"
)

// Merge 把 override 深度合并到 base 上并返回新值，不修改入参
//
// 两边都是对象时逐键递归；其余情况（数组、标量、类型不一致）override 整体替换。
// base 中 override 没有提到的键原样保留。
func Merge(base, override any) (any, error) {
	ov, ok := override.(map[string]any)
	if !ok {
		return clone(override), nil
	}
	bv, ok := base.(map[string]any)
	if !ok {
		return clone(override), nil
	}

	// mergo 原地修改 dst 并可能引用 src 的子对象，两边都先复制
	dst := clone(bv).(map[string]any)
	if err := mergo.Merge(&dst, clone(ov).(map[string]any), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge override: %w", err)
	}
	return dst, nil
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = clone(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = clone(x)
		}
		return out
	default:
		return v
	}
}
