package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/azin/mediacache-service/internal/errcode"
	"github.com/azin/mediacache-service/internal/metrics"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/pkg/logger"
	"go.uber.org/zap"
)

// MaxAttempts 单次调用最多启动的进程数（首次 + 两次重试）
const MaxAttempts = 3

// Step 重试阶梯上的一级调用方式
type Step int

const (
	StepBase Step = iota
	StepAltClient
	StepBrowserCookies
	StepCookieFile
)

func (s Step) String() string {
	switch s {
	case StepBase:
		return "base"
	case StepAltClient:
		return "alt_client"
	case StepBrowserCookies:
		return "browser_cookies"
	case StepCookieFile:
		return "cookie_file"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// fatalCodes 出现这些错误码时重试没有意义
var fatalCodes = []string{errcode.YtDlpUnavailable, errcode.YtDlpNoMedia, errcode.UpstreamNotFound}

// nextStep 根据本次失败的错误码决定下一级；attempt 为已经尝试的次数
//
// 普通失败逐级向下（非 youtube 跳过 player_client 一级），
// 检测到 bot 验证时直接进入带 cookie 的分支。
func nextStep(cur Step, attempt int, youtube bool, codes []string) (Step, bool) {
	if attempt >= MaxAttempts {
		return cur, false
	}
	for _, c := range codes {
		for _, f := range fatalCodes {
			if c == f {
				return cur, false
			}
		}
	}

	bot := false
	for _, c := range codes {
		if c == errcode.YtDlpBotDetected {
			bot = true
			break
		}
	}

	next := cur + 1
	if bot && next < StepBrowserCookies {
		next = StepBrowserCookies
	}
	if !youtube && next == StepAltClient {
		next = StepBrowserCookies
	}
	if next > StepCookieFile {
		return cur, false
	}
	return next, true
}

// ExecFunc 启动一个进程，stdout 按行回调，返回收集到的 stderr
type ExecFunc func(ctx context.Context, name string, args []string, onLine func(string)) (string, error)

// Options yt-dlp 调用参数
type Options struct {
	Path           string
	CookiesBrowser string
	CookiesFile    string
	PlayerClient   string
	FallbackClient string
}

// Runner yt-dlp 进程封装
type Runner struct {
	opts   Options
	exec   ExecFunc
	logger *zap.Logger
}

// NewRunner 创建 Runner
func NewRunner(opts Options, log *zap.Logger) *Runner {
	if opts.Path == "" {
		opts.Path = "yt-dlp"
	}
	return &Runner{
		opts:   opts,
		exec:   execCommand,
		logger: logger.Component(log, "ytdlp"),
	}
}

// stepArgs 某一级附加的参数
func (r *Runner) stepArgs(step Step, kind model.Kind) []string {
	var args []string
	if kind == model.KindYouTube || kind == model.KindYouTubeUserIcon {
		client := r.opts.PlayerClient
		if step == StepAltClient && r.opts.FallbackClient != "" {
			client = r.opts.FallbackClient
		}
		if client != "" {
			args = append(args, "--extractor-args", "youtube:player_client="+client)
		}
	}
	switch step {
	case StepBrowserCookies:
		if r.opts.CookiesBrowser != "" {
			args = append(args, "--cookies-from-browser", r.opts.CookiesBrowser)
		}
	case StepCookieFile:
		if r.opts.CookiesFile != "" {
			args = append(args, "--cookies", r.opts.CookiesFile)
		}
	}
	return args
}

// Call 一次 yt-dlp 调用
type Call struct {
	Kind   model.Kind
	Args   []string
	URL    string
	OnLine func(string)
	// Before 在每次尝试前执行，用来清理上一次失败留下的输出
	Before func() error
	// Check 对成功退出的结果再做校验
	Check func() error
}

// Run 按重试阶梯执行 yt-dlp，每次尝试都是新进程
func (r *Runner) Run(ctx context.Context, call Call) error {
	kind, url := call.Kind, call.URL
	step := StepBase
	var lastErr error
	for attempt := 1; ; attempt++ {
		metrics.DownloadAttempts.WithLabelValues(step.String()).Inc()

		if call.Before != nil {
			if err := call.Before(); err != nil {
				return errcode.Wrap(err, "prepare yt-dlp attempt", errcode.SourceFetchFailed)
			}
		}

		full := append([]string{}, call.Args...)
		full = append(full, r.stepArgs(step, kind)...)
		full = append(full, url)

		stderr, err := r.exec(ctx, r.opts.Path, full, call.OnLine)
		codes := errcode.ScanStderr(stderr)
		if err == nil && call.Check != nil {
			if cerr := call.Check(); cerr != nil {
				err = errcode.Wrap(cerr, "yt-dlp exited without output", codes...)
			}
		}
		if err == nil {
			return nil
		}

		lastErr = classify(err, codes)
		if ctx.Err() != nil {
			return lastErr
		}

		next, ok := nextStep(step, attempt, kind == model.KindYouTube || kind == model.KindYouTubeUserIcon, errcode.Codes(lastErr))
		if !ok {
			r.logger.Warn("yt-dlp failed",
				zap.String("url", url),
				zap.String("step", step.String()),
				zap.Int("attempt", attempt),
				zap.Strings("codes", errcode.Codes(lastErr)))
			return lastErr
		}
		r.logger.Info("yt-dlp failed, retrying",
			zap.String("url", url),
			zap.String("step", step.String()),
			zap.String("next", next.String()),
			zap.Int("attempt", attempt),
			zap.Strings("codes", errcode.Codes(lastErr)))
		step = next
	}
}

// classify 把进程错误转换成带错误码的错误
func classify(err error, codes []string) error {
	var coded *errcode.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, exec.ErrNotFound) {
		return errcode.Wrap(err, "yt-dlp not available", errcode.Merge([]string{errcode.YtDlpUnavailable}, codes)...)
	}
	return errcode.Wrap(err, "yt-dlp exited", errcode.Merge(codes, []string{errcode.YtDlpExited})...)
}

// Output 执行一次并返回完整 stdout
func (r *Runner) Output(ctx context.Context, kind model.Kind, args []string, url string) ([]byte, error) {
	var buf bytes.Buffer
	err := r.Run(ctx, Call{
		Kind: kind,
		Args: args,
		URL:  url,
		OnLine: func(line string) {
			buf.WriteString(line)
			buf.WriteByte('\n')
		},
		Before: func() error {
			buf.Reset()
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func execCommand(ctx context.Context, name string, args []string, onLine func(string)) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", err
	}
	scanLines(stdout, onLine)
	err = cmd.Wait()
	return stderr.String(), err
}

func scanLines(r io.Reader, onLine func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if onLine != nil {
			onLine(strings.TrimRight(sc.Text(), "\r"))
		}
	}
	// 读取出错时把剩余输出丢弃，避免子进程阻塞
	_, _ = io.Copy(io.Discard, r)
}
