package handlers

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange 闭区间 [start, end]
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}

// parseRange 解析 Range 头，支持 bytes=a-b、bytes=a-、bytes=-n
//
// 两端都收进 [0, size-1]；无法解析时返回整个文件。多个区间只取第一个。
func parseRange(header string, size int64) byteRange {
	full := byteRange{start: 0, end: size - 1}
	if size <= 0 {
		return full
	}

	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return full
	}
	if i := strings.IndexByte(rng, ','); i >= 0 {
		rng = rng[:i]
	}
	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return full
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	var r byteRange
	switch {
	case startStr == "" && endStr == "":
		return full
	case startStr == "":
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return full
		}
		r = byteRange{start: size - n, end: size - 1}
	default:
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || s < 0 {
			return full
		}
		e := size - 1
		if endStr != "" {
			if e, err = strconv.ParseInt(endStr, 10, 64); err != nil {
				return full
			}
		}
		r = byteRange{start: s, end: e}
	}

	r.start = clamp(r.start, 0, size-1)
	r.end = clamp(r.end, 0, size-1)
	if r.start > r.end {
		return full
	}
	return r
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
