package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"go.uber.org/zap"
)

// FsnotifyBackend emulates recursive watching on top of fsnotify by adding
// every directory below the root and following directories as they appear.
type FsnotifyBackend struct {
	opts   Options
	logger *zap.Logger
}

// NewFsnotifyBackend creates a fsnotify backed recursive watcher
func NewFsnotifyBackend(opts Options) *FsnotifyBackend {
	return &FsnotifyBackend{
		opts:   opts,
		logger: logger.Get(),
	}
}

// Name returns the backend name
func (b *FsnotifyBackend) Name() string {
	return string(Fsnotify)
}

// fsnotifyWatch is one recursive watch with its own delivery goroutine
type fsnotifyWatch struct {
	watcher       *fsnotify.Watcher
	root          string
	callback      Callback
	reportParents bool
	paths         map[string]bool // directories being watched
	pathsMu       sync.Mutex
	done          chan struct{}
	stopped       chan struct{}
	closeOnce     sync.Once
	closeErr      error
	logger        *zap.Logger
}

// Watch starts watching root and everything below it
func (b *FsnotifyBackend) Watch(root string, callback Callback) (Handle, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &fsnotifyWatch{
		watcher:       w,
		root:          filepath.Clean(root),
		callback:      callback,
		reportParents: b.opts.ReportParents,
		paths:         make(map[string]bool),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		logger:        b.logger.With(zap.String("root", root)),
	}

	// The root must be watchable; directories below it are best effort
	if err := w.Add(fw.root); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to add path to watcher: %w", err)
	}
	fw.paths[fw.root] = true
	fw.addRecursive(fw.root)

	b.opts.supervisor().Go("fsnotify "+fw.root, fw.monitor)

	fw.logger.Debug("Recursive watch started", zap.Int("directories", fw.watchedCount()))
	return fw, nil
}

// Close stops delivery and releases the fsnotify watcher
func (fw *fsnotifyWatch) Close() error {
	fw.closeOnce.Do(func() {
		close(fw.done)
		fw.closeErr = fw.watcher.Close()
		<-fw.stopped
		fw.logger.Debug("Recursive watch stopped")
	})
	return fw.closeErr
}

// monitor is the delivery goroutine
func (fw *fsnotifyWatch) monitor() error {
	defer close(fw.stopped)

	for {
		select {
		case <-fw.done:
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return fw.closedUnexpectedly("events")
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return fw.closedUnexpectedly("errors")
			}
			fw.handleError(err)
		}
	}
}

func (fw *fsnotifyWatch) closedUnexpectedly(channel string) error {
	select {
	case <-fw.done:
		return nil
	default:
		return fmt.Errorf("fsnotify %s channel closed while watching %s", channel, fw.root)
	}
}

// handleEvent reports one fsnotify event and follows new directories
func (fw *fsnotifyWatch) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			// Entries created before the watch lands are covered by
			// reporting the directory itself below.
			fw.addRecursive(event.Name)
		}
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		fw.forget(event.Name)
	}

	fw.callback(event.Name)

	if fw.reportParents && event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		if parent, ok := parentOf(fw.root, event.Name); ok {
			fw.callback(parent)
		}
	}
}

// handleError reports the whole root: after an overflow or read error we no
// longer know which paths changed.
func (fw *fsnotifyWatch) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		fw.logger.Warn("Event queue overflowed, reporting whole replica")
	} else {
		fw.logger.Error("File watcher error, reporting whole replica", zap.Error(err))
	}
	fw.callback(fw.root)
}

// addRecursive adds dir and every directory below it. Directories that
// vanish or cannot be read while walking are skipped.
func (fw *fsnotifyWatch) addRecursive(dir string) {
	filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			fw.logger.Debug("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// Symlinked directories are not followed
		if !entry.IsDir() {
			return nil
		}

		fw.pathsMu.Lock()
		defer fw.pathsMu.Unlock()
		if fw.paths[path] {
			return nil
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Warn("Failed to add directory to watcher",
				zap.String("path", path),
				zap.Error(err),
			)
			return filepath.SkipDir
		}
		fw.paths[path] = true
		return nil
	})
}

// forget drops bookkeeping for a removed directory and everything below it.
// The kernel side watch disappears with the directory itself.
func (fw *fsnotifyWatch) forget(path string) {
	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()

	prefix := path + string(filepath.Separator)
	for watched := range fw.paths {
		if watched == path || len(watched) > len(prefix) && watched[:len(prefix)] == prefix {
			delete(fw.paths, watched)
		}
	}
}

func (fw *fsnotifyWatch) watchedCount() int {
	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()
	return len(fw.paths)
}
