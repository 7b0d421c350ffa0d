package ytdlp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/model"
	"go.uber.org/zap"
)

// FallbackFormat 拿不到格式列表时交给 yt-dlp 自己挑
const FallbackFormat = "ba*"

func itemArgs(key model.ResourceKey) []string {
	if key.Kind.MultiItem() && key.ItemNumber > 0 {
		return []string{"--playlist-items", strconv.Itoa(key.ItemNumber)}
	}
	return nil
}

// ChooseFormat 通过 -J 列出格式并选出最佳音频格式 ID
func (r *Runner) ChooseFormat(ctx context.Context, key model.ResourceKey) (string, error) {
	url, err := URL(key.Kind, key.ID)
	if err != nil {
		return "", err
	}
	args := append([]string{"-J", "-q", "--no-warnings"}, itemArgs(key)...)
	out, err := r.Output(ctx, key.Kind, args, url)
	if err != nil {
		return "", err
	}

	var v VideoInfo
	if err := json.Unmarshal(out, &v); err != nil {
		return "", errcode.Wrap(err, "decode format list", errcode.JSONResponseFailed)
	}
	formats := v.Formats
	if len(formats) == 0 && len(v.Entries) > 0 {
		formats = v.Entries[0].Formats
	}
	if len(formats) == 0 {
		r.logger.Debug("no format list, using fallback", zap.String("key", key.String()))
		return FallbackFormat, nil
	}

	best, ok := PickBestAudioFormat(formats)
	if !ok || best.FormatID == "" {
		return "", errcode.New("no usable audio format for "+key.String(), errcode.YtDlpNoMedia)
	}
	r.logger.Debug("format chosen",
		zap.String("key", key.String()),
		zap.String("format", best.FormatID),
		zap.String("acodec", best.ACodec))
	return best.FormatID, nil
}

// Download 下载到 dir，文件名为 {stem}-before.{ext}，onPercent 收到 0..100 的下载进度
func (r *Runner) Download(ctx context.Context, key model.ResourceKey, dir, format string, onPercent func(float64)) (string, error) {
	url, err := URL(key.Kind, key.ID)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = FallbackFormat
	}
	prefix := key.FileStem() + "-before."
	args := []string{
		"-f", format,
		"--progress", "--newline",
		"--progress-template", "%(progress)j",
		"-o", filepath.Join(dir, prefix+"%(ext)s"),
	}
	args = append(args, itemArgs(key)...)

	onLine := func(line string) {
		p, ok := ParseProgressLine(line)
		if !ok || onPercent == nil {
			return
		}
		if pct, ok := p.PercentDone(); ok {
			onPercent(pct)
		}
	}

	var found string
	check := func() error {
		path, err := findOutput(dir, prefix)
		if err != nil {
			return err
		}
		found = path
		return nil
	}

	// 失败尝试留下的半成品不复用
	before := func() error {
		found = ""
		return removeOutputs(dir, prefix)
	}

	err = r.Run(ctx, Call{Kind: key.Kind, Args: args, URL: url, OnLine: onLine, Before: before, Check: check})
	if err != nil {
		return "", err
	}
	return found, nil
}

// findOutput 按前缀查找 yt-dlp 写出的文件，忽略 .part 等临时文件
func findOutput(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errcode.Wrap(err, "read download dir", errcode.YtDlpFileNotFound)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(dir, name), nil
	}
	return "", errcode.New("downloaded file not found in "+dir, errcode.YtDlpFileNotFound)
}

func removeOutputs(dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
