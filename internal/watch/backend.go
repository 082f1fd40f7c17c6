// Package watch provides the recursive filesystem watch backends that feed
// change notifications into the session.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"

	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
)

// Callback receives the absolute path of every change below a watched root.
// It runs on the backend's delivery goroutine.
type Callback func(path string)

// Handle releases the resources of one recursive watch
type Handle interface {
	Close() error
}

// Backend establishes recursive watches
type Backend interface {
	// Watch starts a recursive watch on root. root must be an existing directory.
	Watch(root string, callback Callback) (Handle, error)

	// Name returns the backend name used in configuration
	Name() string
}

// Supervisor runs delivery goroutines. A delivery loop that panics or returns
// an error must bring the whole process down.
type Supervisor interface {
	Go(name string, fn func() error)
}

// BackendType represents the kind of filesystem backend
type BackendType string

const (
	// Fsnotify walks the tree and watches every directory (inotify, kqueue, ...)
	Fsnotify BackendType = "fsnotify"
	// Notify uses native recursive watchpoints where the OS has them
	Notify BackendType = "notify"
)

// DefaultBufferSize is the event channel capacity used when none is set
const DefaultBufferSize = 4096

// Options configures a backend
type Options struct {
	// Supervisor owns the delivery goroutines. Nil runs them unsupervised.
	Supervisor Supervisor
	// ReportParents also reports the parent directory of entries that were
	// created, removed or renamed, since the parent's listing changed.
	ReportParents bool
	// BufferSize is the event channel capacity of backends that need one
	BufferSize int
}

func (o Options) supervisor() Supervisor {
	if o.Supervisor != nil {
		return o.Supervisor
	}
	return unsupervised{}
}

type unsupervised struct{}

func (unsupervised) Go(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			panic(fmt.Sprintf("%s: %v", name, err))
		}
	}()
}

// New creates a backend by type
func New(backendType BackendType, opts Options) (Backend, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	switch backendType {
	case Fsnotify, "":
		return NewFsnotifyBackend(opts), nil
	case Notify:
		return NewNotifyBackend(opts), nil
	default:
		return nil, fserrors.NewConfigError(fmt.Sprintf("unknown watcher backend: %s", backendType), nil)
	}
}

// parentOf returns the directory holding path when it still lies inside the
// watched root. The root itself is reported without its trailing separator.
func parentOf(root, path string) (string, bool) {
	cleanRoot := filepath.Clean(root)
	if filepath.Clean(path) == cleanRoot {
		return "", false
	}
	parent := filepath.Dir(path)
	if parent == cleanRoot || strings.HasPrefix(parent, strings.TrimSuffix(cleanRoot, string(filepath.Separator))+string(filepath.Separator)) {
		return parent, true
	}
	return "", false
}
