package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay 合并编辑器保存时产生的多次写事件
const reloadDelay = 150 * time.Millisecond

// Reload 是一次配置重载的结果
type Reload struct {
	Config *Config
	Err    error
}

// Watch 监听配置文件变化，每次变化后重新加载并发送到返回的通道。
// 监听的是所在目录，这样编辑器“写临时文件再改名”的保存方式也能被捕获。
// ctx 结束后通道关闭。
func Watch(ctx context.Context, configPath string) (<-chan Reload, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("监听配置目录失败: %w", err)
	}

	out := make(chan Reload, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		target := filepath.Clean(configPath)
		timer := time.NewTimer(reloadDelay)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					timer.Reset(reloadDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case out <- Reload{Err: fmt.Errorf("文件监听出错: %w", err)}:
				case <-ctx.Done():
					return
				}
			case <-timer.C:
				cfg, err := Load(configPath)
				select {
				case out <- Reload{Config: cfg, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
