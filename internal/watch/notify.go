package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"github.com/rjeczalik/notify"
	"go.uber.org/zap"
)

// NotifyBackend uses native recursive watchpoints (FSEvents,
// ReadDirectoryChangesW) and falls back to emulation on inotify/kqueue.
//
// notify never blocks on a full channel and drops what does not fit. When
// the delivery loop finds the channel full it reports the whole root, as
// fsnotify does on overflow.
type NotifyBackend struct {
	opts   Options
	logger *zap.Logger
}

// NewNotifyBackend creates a notify backed recursive watcher
func NewNotifyBackend(opts Options) *NotifyBackend {
	return &NotifyBackend{
		opts:   opts,
		logger: logger.Get(),
	}
}

// Name returns the backend name
func (b *NotifyBackend) Name() string {
	return string(Notify)
}

type notifyWatch struct {
	events        chan notify.EventInfo
	root          string
	realRoot      string
	callback      Callback
	reportParents bool
	done          chan struct{}
	stopped       chan struct{}
	closeOnce     sync.Once
	logger        *zap.Logger
}

// Watch starts a recursive watchpoint on root
func (b *NotifyBackend) Watch(root string, callback Callback) (Handle, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	cleanRoot := filepath.Clean(root)
	// notify reports paths with symlinks resolved, e.g. /private/tmp for /tmp
	realRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve symbolic links for watch root: %w", err)
	}

	size := b.opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	nw := &notifyWatch{
		events:        make(chan notify.EventInfo, size),
		root:          cleanRoot,
		realRoot:      realRoot,
		callback:      callback,
		reportParents: b.opts.ReportParents,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		logger:        b.logger.With(zap.String("root", root)),
	}

	if err := notify.Watch(filepath.Join(cleanRoot, "..."), nw.events, notify.All); err != nil {
		return nil, fmt.Errorf("failed to watch path: %w", err)
	}

	b.opts.supervisor().Go("notify "+cleanRoot, nw.monitor)

	nw.logger.Debug("Recursive watchpoint started", zap.String("real_root", realRoot))
	return nw, nil
}

// Close removes the watchpoint and stops delivery
func (nw *notifyWatch) Close() error {
	nw.closeOnce.Do(func() {
		notify.Stop(nw.events)
		close(nw.done)
		<-nw.stopped
		nw.logger.Debug("Recursive watchpoint stopped")
	})
	return nil
}

func (nw *notifyWatch) monitor() error {
	defer close(nw.stopped)

	for {
		select {
		case <-nw.done:
			return nil
		case ei := <-nw.events:
			saturated := len(nw.events)+1 >= cap(nw.events)
			nw.handleEvent(ei)
			if saturated {
				nw.logger.Warn("Event buffer full, reporting whole replica",
					zap.Int("buffer_size", cap(nw.events)))
				nw.callback(nw.root)
			}
		}
	}
}

func (nw *notifyWatch) handleEvent(ei notify.EventInfo) {
	path := nw.translate(ei.Path())
	nw.callback(path)

	if nw.reportParents && ei.Event()&(notify.Create|notify.Remove|notify.Rename) != 0 {
		if parent, ok := parentOf(nw.root, path); ok {
			nw.callback(parent)
		}
	}
}

// translate maps a symlink resolved event path back below the root the
// client registered.
func (nw *notifyWatch) translate(path string) string {
	if nw.realRoot == nw.root {
		return path
	}
	if path == nw.realRoot {
		return nw.root
	}
	if strings.HasPrefix(path, nw.realRoot+string(filepath.Separator)) {
		return nw.root + path[len(nw.realRoot):]
	}
	return path
}
