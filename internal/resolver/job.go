package resolver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/azin/mediacache-service/internal/model"
)

// job 进行中的解析任务，解析成功或失败后从任务表移除
type job struct {
	key model.ResourceKey

	infoDone chan struct{}
	infoOnce sync.Once
	done     chan struct{}

	// infoDone 关闭后只读
	info    json.RawMessage
	infoAt  time.Time
	infoErr error

	// done 关闭后只读
	record *model.Record
	err    error

	mu           sync.Mutex
	progress     model.Progress
	itemProgress map[int]model.Progress
	listeners    []model.StatusFunc
}

func newJob(key model.ResourceKey) *job {
	return &job{
		key:          key,
		infoDone:     make(chan struct{}),
		done:         make(chan struct{}),
		progress:     model.Progress{Status: model.StatusLoading},
		itemProgress: make(map[int]model.Progress),
	}
}

func (j *job) closeInfo() {
	j.infoOnce.Do(func() { close(j.infoDone) })
}

// subscribe 注册进度回调并立即回放当前进度
func (j *job) subscribe(fn model.StatusFunc) {
	j.mu.Lock()
	j.listeners = append(j.listeners, fn)
	cur := j.progress
	j.mu.Unlock()
	fn(cur)
}

func (j *job) snapshot() model.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// update 记录条目 n 的进度（单媒体为 0），状态只前进不后退
func (j *job) update(n int, pr model.Progress) {
	j.mu.Lock()
	if prev, ok := j.itemProgress[n]; ok && pr.Status.Rank() < prev.Status.Rank() {
		j.mu.Unlock()
		return
	}
	j.itemProgress[n] = pr

	next := aggregate(j.itemProgress)
	if next.Status.Rank() < j.progress.Status.Rank() {
		next.Status = j.progress.Status
	}
	if next == j.progress {
		j.mu.Unlock()
		return
	}
	j.progress = next
	listeners := append([]model.StatusFunc(nil), j.listeners...)
	j.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// aggregate 多条目时取最慢的状态和平均进度
func aggregate(items map[int]model.Progress) model.Progress {
	if done, ok := items[0]; ok && done.Status == model.StatusDone {
		return done
	}
	var (
		out   model.Progress
		first = true
		sum   int
	)
	for _, p := range items {
		if first || p.Status.Rank() < out.Status.Rank() {
			out.Status = p.Status
		}
		first = false
		sum += p.Percent
	}
	if len(items) > 0 {
		out.Percent = sum / len(items)
	}
	return out
}
