// Package sqlite file: internal/adapter/store/sqlite/watcher.go
//
// 缓存文件监视器。本地缓存是可重建的派生物，运维可以直接删除
// cache.db 做整体清空；监视器观察到文件消失后重建 schema，
// 并通过 OnReset 回调通知注册表清空内存层。
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher 在缓存文件所在目录上启动文件系统监视器。
func (s *Store) StartWatcher() error {
	dir := filepath.Dir(s.path)
	slog.Info("[CacheStore] 尝试启动缓存文件监视器", "dir", dir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}

	go func() {
		defer watcher.Close()
		slog.Info("[CacheStore] 文件监视 goroutine 已启动")
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					slog.Warn("[CacheStore] 文件监视器事件通道已关闭")
					return
				}
				s.handleFsEvent(event)
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					slog.Warn("[CacheStore] 文件监视器错误通道已关闭")
					return
				}
				slog.Error("[CacheStore] 文件监视器报告错误", "error", errWatch)
			}
		}
	}()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("添加目录 '%s' 到监视器失败: %w", dir, err)
	}
	return nil
}

// handleFsEvent 处理单个文件系统事件，只关心缓存主文件本身。
func (s *Store) handleFsEvent(event fsnotify.Event) {
	cleanPath := filepath.Clean(event.Name)
	if cleanPath != filepath.Clean(s.path) {
		return
	}
	if !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	// 防抖：WAL checkpoint 等操作可能触发连续事件
	s.eventTimersMu.Lock()
	defer s.eventTimersMu.Unlock()
	if timer, exists := s.eventTimers[cleanPath]; exists {
		timer.Stop()
	}
	s.eventTimers[cleanPath] = time.AfterFunc(debounceDuration, func() {
		s.processDebouncedEvent(cleanPath)
		s.eventTimersMu.Lock()
		delete(s.eventTimers, cleanPath)
		s.eventTimersMu.Unlock()
	})
}

// processDebouncedEvent 在防抖后确认缓存文件确实消失并重建。
func (s *Store) processDebouncedEvent(path string) {
	if _, err := os.Stat(path); err == nil {
		return // 文件仍在 (或已被重建)，不处理
	}
	slog.Warn("[CacheStore] 检测到缓存文件被外部清除，开始重建 schema", "path", path)

	s.mu.Lock()
	err := s.initSchemaInternal(context.Background())
	reset := s.onReset
	s.mu.Unlock()

	if err != nil {
		slog.Error("[CacheStore] 缓存文件重建失败", "path", path, "error", err)
		return
	}
	if reset != nil {
		reset()
	}
	slog.Info("[CacheStore] 缓存文件已重建，内存层已通知清空", "path", path)
}
