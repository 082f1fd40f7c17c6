// Package watchtest provides a scriptable watch.Backend for tests.
package watchtest

import (
	"os"
	"strings"
	"sync"

	"github.com/pulsepoint/fsmonitor/internal/watch"
	"github.com/stretchr/testify/mock"
)

// Backend is a watch.Backend whose Watch results are set with On("Watch",
// root) and whose events are produced by Emit.
type Backend struct {
	mock.Mock

	mu      sync.Mutex
	handles []*Handle
}

// NewBackend creates a backend that accepts every root
func NewBackend() *Backend {
	b := &Backend{}
	b.On("Watch", mock.Anything).Return(nil).Maybe()
	return b
}

// Watch records the call and returns the configured error or a new Handle
func (b *Backend) Watch(root string, callback watch.Callback) (watch.Handle, error) {
	args := b.Called(root)
	if err := args.Error(0); err != nil {
		return nil, err
	}

	h := &Handle{root: root, callback: callback}
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
	return h, nil
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "watchtest"
}

// Handle returns the most recent open handle for root. The trailing
// separator of root is optional.
func (b *Backend) Handle(root string) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	want := strings.TrimSuffix(root, string(os.PathSeparator))
	for i := len(b.handles) - 1; i >= 0; i-- {
		h := b.handles[i]
		if strings.TrimSuffix(h.root, string(os.PathSeparator)) == want {
			return h
		}
	}
	return nil
}

// Handles returns every handle created so far
func (b *Backend) Handles() []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Handle(nil), b.handles...)
}

// Emit delivers path to the handle watching root on the calling goroutine.
// It reports false when no open handle watches root.
func (b *Backend) Emit(root, path string) bool {
	h := b.Handle(root)
	if h == nil || h.Closed() {
		return false
	}
	h.callback(path)
	return true
}

// Handle is the watch.Handle returned by Backend
type Handle struct {
	root     string
	callback watch.Callback

	mu     sync.Mutex
	closes int
}

// Root returns the path the handle was created for
func (h *Handle) Root() string {
	return h.root
}

// Close counts the call
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
	return nil
}

// Closed reports whether Close was called
func (h *Handle) Closed() bool {
	return h.Closes() > 0
}

// Closes returns how many times Close was called
func (h *Handle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}
