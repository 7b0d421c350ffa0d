package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/pkg/logger"
	"go.uber.org/zap"
)

// ProbeResult ffprobe -show_format -show_streams 的解析结果
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream 单条流
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format 容器信息
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// AudioStream 第一条音频流
func (r ProbeResult) AudioStream() (Stream, bool) {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "audio") {
			return s, true
		}
	}
	return Stream{}, false
}

// Duration 音频时长（秒），优先取音频流，其次取容器
func (r ProbeResult) Duration() (float64, bool) {
	if s, ok := r.AudioStream(); ok {
		if d := parseFloat(s.Duration); d > 0 {
			return d, true
		}
	}
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d, true
	}
	return 0, false
}

// Target 按音频编码决定输出扩展名和 ffmpeg 编码参数
func Target(codec string) (ext string, codecArg string) {
	switch strings.ToLower(codec) {
	case "aac":
		return "m4a", "copy"
	case "opus", "vorbis":
		return "ogg", "copy"
	case "mp3":
		return "mp3", "copy"
	}
	return "ogg", "libopus"
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Tool ffmpeg / ffprobe 封装
type Tool struct {
	ffmpeg  string
	ffprobe string
	run     runFunc
	logger  *zap.Logger
}

// New 创建 Tool，空路径使用 PATH 中的默认命令
func New(ffmpegPath, ffprobePath string, log *zap.Logger) *Tool {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Tool{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		run:     combinedOutput,
		logger:  logger.Component(log, "ffmpeg"),
	}
}

// Probe 读取文件的流信息
func (t *Tool) Probe(ctx context.Context, path string) (ProbeResult, error) {
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}
	out, err := t.run(ctx, t.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(string(out)))
	}
	var res ProbeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return res, nil
}

// ProbeDuration 只取时长，失败时返回 nil
func (t *Tool) ProbeDuration(ctx context.Context, path string) *float64 {
	res, err := t.Probe(ctx, path)
	if err != nil {
		t.logger.Debug("probe duration failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	if d, ok := res.Duration(); ok {
		return &d
	}
	return nil
}

// Result 转换结果
type Result struct {
	Path     string
	Codec    string
	Duration *float64
}

// Remux 去掉视频流并按编码封装为 dir/stem.{ext}，成功后删除原文件
func (t *Tool) Remux(ctx context.Context, src, dir, stem string) (*Result, error) {
	probe, err := t.Probe(ctx, src)
	if err != nil {
		return nil, errcode.Wrap(err, "probe downloaded file", errcode.FFmpegNoOutput)
	}
	audio, ok := probe.AudioStream()
	if !ok {
		return nil, errcode.New(filepath.Base(src)+" has no audio stream", errcode.FFmpegNoOutput)
	}

	ext, codecArg := Target(audio.CodecName)
	dst := filepath.Join(dir, stem+"."+ext)
	out, err := t.run(ctx, t.ffmpeg, "-y", "-v", "error", "-i", src, "-vn", "-c:a", codecArg, dst)
	if err != nil {
		_ = os.Remove(dst)
		return nil, errcode.Wrap(fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))), "ffmpeg remux", errcode.FFmpegNoOutput)
	}
	if st, err := os.Stat(dst); err != nil || st.Size() == 0 {
		_ = os.Remove(dst)
		return nil, errcode.New("ffmpeg produced no output for "+filepath.Base(src), errcode.FFmpegNoOutput)
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("failed to remove intermediate file", zap.String("path", src), zap.Error(err))
	}

	res := &Result{Path: dst, Codec: audio.CodecName}
	if d, ok := probe.Duration(); ok {
		res.Duration = &d
	}
	t.logger.Debug("remuxed",
		zap.String("dst", dst),
		zap.String("codec", audio.CodecName),
		zap.String("mode", codecArg))
	return res, nil
}

func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
