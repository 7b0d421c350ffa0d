package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/azin/mediacache-service/internal/metrics"
	"github.com/azin/mediacache-service/internal/model"
	"github.com/azin/mediacache-service/pkg/logger"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrLocked 其他进程已持有存储文件
var ErrLocked = errors.New("store file is locked by another process")

// Store 单文档存储：内存中持有最新文档，写盘经过合并与原子替换
type Store struct {
	path   string
	logger *zap.Logger
	lock   *flock.Flock

	mu  sync.RWMutex
	doc *Document

	// 合并写盘
	saveMu  sync.Mutex
	writing bool
	next    *flight
	idle    *sync.Cond

	// 测试钩子：临时文件写完、rename 之前调用
	beforeRename func(tmpPath string) error
}

type flight struct {
	payload []byte
	done    chan struct{}
	err     error
}

// Open 打开存储文件并获取文件锁
func Open(path string, log *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	log = logger.Component(log, "store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	s := &Store{
		path:   path,
		logger: log,
		lock:   lock,
	}
	s.idle = sync.NewCond(&s.saveMu)

	doc, err := s.load()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.doc = doc

	log.Info("store opened",
		zap.String("path", path),
		zap.Any("entries", doc.Count()))
	return s, nil
}

// load 读取文档；文件不存在时创建空文档，解析失败时把坏文件挪开后重建
func (s *Store) load() (*Document, error) {
	s.removeStaleTemps()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := NewDocument()
		if err := s.writeFile(mustMarshal(doc)); err != nil {
			return nil, fmt.Errorf("create store file: %w", err)
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	doc, parseErr := parse(data)
	if parseErr == nil {
		return doc, nil
	}

	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
	s.logger.Warn("store file is corrupt, resetting",
		zap.String("path", s.path),
		zap.String("moved_to", aside),
		zap.Error(parseErr))
	if err := os.Rename(s.path, aside); err != nil {
		s.logger.Warn("failed to move corrupt store file aside", zap.Error(err))
	}

	doc = NewDocument()
	if err := s.writeFile(mustMarshal(doc)); err != nil {
		return nil, fmt.Errorf("recreate store file: %w", err)
	}
	return doc, nil
}

// removeStaleTemps 清理上次进程在 rename 之前退出留下的临时文件；调用时已持有文件锁
func (s *Store) removeStaleTemps() {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			s.logger.Warn("failed to remove stale temp file", zap.String("file", m), zap.Error(err))
			continue
		}
		s.logger.Info("removed stale temp file", zap.String("file", m))
	}
}

func parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store file: %w", err)
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("unsupported store version %d", doc.Version)
	}
	doc.normalize()
	return &doc, nil
}

// ReadFile 只读解析存储文件，不加锁也不修复
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func mustMarshal(doc *Document) []byte {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Document 只包含可序列化的字段
		panic(err)
	}
	return data
}

// Get 读取一条记录
func (s *Store) Get(kind model.Kind, id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.doc.Tables[kind][id]
	return e, ok
}

// Put 写入（整体替换）一条记录并等待落盘
func (s *Store) Put(kind model.Kind, id string, entry Entry) error {
	return s.mutate(func(doc *Document) {
		doc.Tables[kind][id] = entry
	})
}

// Delete 删除一条记录并等待落盘
func (s *Store) Delete(kind model.Kind, id string) error {
	return s.mutate(func(doc *Document) {
		delete(doc.Tables[kind], id)
	})
}

// Snapshot 当前文档的副本
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// mutate 在写锁内修改并序列化，保证入队顺序与修改顺序一致
func (s *Store) mutate(fn func(*Document)) error {
	s.mu.Lock()
	fn(s.doc)
	payload, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal store: %w", err)
	}
	f := s.enqueue(payload)
	s.mu.Unlock()

	<-f.done
	return f.err
}

// enqueue 写盘进行中时只替换待写内容，不排第二个队
func (s *Store) enqueue(payload []byte) *flight {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.next == nil {
		s.next = &flight{done: make(chan struct{})}
	}
	s.next.payload = payload
	f := s.next

	if !s.writing {
		s.writing = true
		go s.writeLoop()
	}
	return f
}

func (s *Store) writeLoop() {
	for {
		s.saveMu.Lock()
		f := s.next
		if f == nil {
			s.writing = false
			s.idle.Broadcast()
			s.saveMu.Unlock()
			return
		}
		s.next = nil
		s.saveMu.Unlock()

		f.err = s.writeFile(f.payload)
		if f.err != nil {
			metrics.StoreSaves.WithLabelValues("error").Inc()
			s.logger.Error("failed to save store", zap.Error(f.err))
		} else {
			metrics.StoreSaves.WithLabelValues("ok").Inc()
		}
		close(f.done)
	}
}

// writeFile 写临时文件后 rename，磁盘上始终是完整的旧文件或新文件
func (s *Store) writeFile(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			cleanup()
			return err
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Close 等待写盘结束并释放文件锁
func (s *Store) Close() error {
	s.saveMu.Lock()
	for s.writing {
		s.idle.Wait()
	}
	s.saveMu.Unlock()

	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("release store lock: %w", err)
	}
	return nil
}
