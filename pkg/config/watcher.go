package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadFunc 配置文件变更并解析成功后的回调
type ReloadFunc func(cfg *HubConfig)

// Watcher 监听配置文件变更并重新加载（对外导出）
// 监听所在目录而不是文件本身，编辑器的原子替换（rename）也能被捕获
type Watcher struct {
	path          string
	onReload      ReloadFunc
	log           *logrus.Entry
	fsWatcher     *fsnotify.Watcher
	debounceDelay time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher 创建配置监听器
func NewWatcher(path string, onReload ReloadFunc, log *logrus.Entry) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{
		path:          abs,
		onReload:      onReload,
		log:           log.WithField("component", "config-watcher"),
		fsWatcher:     fsWatcher,
		debounceDelay: 300 * time.Millisecond,
	}, nil
}

// Start 开始监听
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
	w.log.WithField("path", w.path).Info("👀 配置文件监听已启动")
	return nil
}

// Stop 停止监听
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fsWatcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("配置文件监听出错")
		}
	}
}

// schedule 合并短时间内的多次写入事件
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Error("❌ 重新加载配置失败，保留当前配置")
		return
	}
	w.log.Info("🔄 配置文件已重新加载")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
