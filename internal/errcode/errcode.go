package errcode

import (
	"errors"
	"fmt"
	"strings"
)

// 错误码分组：
//   0    无法识别的错误
//   1-x  音频响应
//   2-x  HTTP 请求处理
//   3-x  资源解析
//   4-x  错误码转换本身出错
//   5-x  外部 HTTP
const (
	Unknown              = "0"
	NoSourceInfo         = "1-1"
	FileMissing          = "1-2"
	JSONResponseFailed   = "2-1"
	NotImplemented       = "2-2"
	ParseFoundNothing    = "2-3"
	URLParseFailed       = "2-4"
	UnsupportedSource    = "3-1"
	InfoFetchFailed      = "3-2"
	SourceFetchFailed    = "3-3"
	MultiSourceFailed    = "3-4"
	ConversionFailed     = "4-1"
	UpstreamNotFound     = "5-1"
	FFmpegNoOutput       = "ffmpeg-1"
	YtDlpUnavailable     = "ytdlp-1"
	YtDlpNoJSRuntime     = "ytdlp-2"
	YtDlpExited          = "ytdlp-3"
	YtDlpFileNotFound    = "ytdlp-4"
	YtDlpM3U8Forbidden   = "ytdlp-5"
	YtDlpPrecondition    = "ytdlp-6"
	YtDlpBadRequestRetry = "ytdlp-7"
	YtDlpBadRequest      = "ytdlp-8"
	YtDlpNoTitle         = "ytdlp-9"
	YtDlpBotDetected     = "ytdlp-10"
	YtDlpForbidden       = "ytdlp-11"
	YtDlpNoMedia         = "ytdlp-12"
)

// Error 携带错误码的失败结果
type Error struct {
	Codes   []string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.Join(e.Codes, ","))
	b.WriteString("]")
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建错误
func New(message string, codes ...string) *Error {
	return &Error{Codes: Merge(codes), Message: message}
}

// Newf 创建格式化消息的错误
func Newf(codes []string, format string, args ...any) *Error {
	return &Error{Codes: Merge(codes), Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并追加错误码；err 已带有错误码时会保留原有的码
func Wrap(err error, message string, codes ...string) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{Codes: Merge(inner.Codes, codes), Message: message, Err: err}
	}
	return &Error{Codes: Merge(codes), Message: message, Err: err}
}

// Codes 提取错误码，无法识别时返回 ["0"]
func Codes(err error) []string {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && len(e.Codes) > 0 {
		return append([]string(nil), e.Codes...)
	}
	return []string{Unknown}
}

// Has 错误中是否包含指定错误码
func Has(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range e.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// Merge 合并错误码并去重，保持首次出现的顺序
func Merge(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, c := range list {
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
