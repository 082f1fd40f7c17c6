// Package replica tracks the filesystem subtrees the client asked us to watch.
package replica

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulsepoint/fsmonitor/internal/trigger"
	"github.com/pulsepoint/fsmonitor/internal/watch"
	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Replica is one registered subtree
type Replica struct {
	Token        string
	Root         string // absolute, always ends in a separator
	Subpath      string
	RegisteredAt time.Time

	handle      watch.Handle
	releaseOnce sync.Once
	releaseErr  error
}

// Release closes the watch handle. Repeated calls return the first result.
// The handle is only attached while the replica is registered, so callers
// release a replica after removing it under the registry lock.
func (r *Replica) Release() error {
	r.releaseOnce.Do(func() {
		if r.handle != nil {
			r.releaseErr = r.handle.Close()
		}
	})
	return r.releaseErr
}

// Relative returns the path segments of eventPath below the replica root
func (r *Replica) Relative(eventPath string) ([]string, bool) {
	return Relative(r.Root, eventPath)
}

// NormalizeRoot makes path absolute and gives it a trailing separator
func NormalizeRoot(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty root path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	if !strings.HasSuffix(abs, string(os.PathSeparator)) {
		abs += string(os.PathSeparator)
	}
	return abs, nil
}

// Relative returns the segments of eventPath relative to root. The root
// itself, with or without its trailing separator, yields no segments.
func Relative(root, eventPath string) ([]string, bool) {
	if eventPath == root || eventPath+string(os.PathSeparator) == root {
		return nil, true
	}
	if !strings.HasPrefix(eventPath, root) {
		return nil, false
	}
	return trigger.Tokenize(eventPath[len(root):]), true
}

// DeliverFunc receives every event path reported for a replica
type DeliverFunc func(rep *Replica, path string)

// Registry maps tokens to replicas and owns their watch handles.
//
// The registry shares its lock with the rest of the session state. Register,
// Unregister and UnregisterAll take the lock themselves and must be called
// without it; every other method expects the caller to hold it.
type Registry struct {
	mu       sync.Locker
	backend  watch.Backend
	replicas map[string]*Replica
	logger   *zap.Logger
}

// NewRegistry creates an empty registry guarded by mu
func NewRegistry(mu sync.Locker, backend watch.Backend) *Registry {
	return &Registry{
		mu:       mu,
		backend:  backend,
		replicas: make(map[string]*Replica),
		logger:   logger.Get(),
	}
}

// Register starts watching rootPath for token. Registering a token twice is
// a no-op and reports created == false. The entry exists before the watch is
// requested so nothing delivered during setup is lost; the backend call
// itself runs without the lock because delivery goroutines contend for it.
func (reg *Registry) Register(token, rootPath, subpath string, deliver DeliverFunc) (rep *Replica, created bool, err error) {
	root, err := NormalizeRoot(rootPath)
	if err != nil {
		return nil, false, fserrors.NewWatchSetupError("invalid replica root", err).
			WithContext("token", token)
	}

	reg.mu.Lock()
	if existing, ok := reg.replicas[token]; ok {
		reg.mu.Unlock()
		reg.logger.Debug("Replica already registered",
			zap.String("token", token),
			zap.String("root", existing.Root),
		)
		return existing, false, nil
	}
	rep = &Replica{
		Token:        token,
		Root:         root,
		Subpath:      subpath,
		RegisteredAt: time.Now(),
	}
	reg.replicas[token] = rep
	reg.mu.Unlock()

	handle, err := reg.backend.Watch(root, func(path string) {
		deliver(rep, path)
	})

	reg.mu.Lock()
	current := reg.replicas[token] == rep
	if err != nil {
		if current {
			delete(reg.replicas, token)
		}
		reg.mu.Unlock()
		return nil, false, fserrors.NewWatchSetupError(fmt.Sprintf("cannot watch %s", root), err).
			WithContext("token", token)
	}
	if !current {
		// Unregistered (session teardown) while the watch was being set up
		reg.mu.Unlock()
		if err := handle.Close(); err != nil {
			reg.logger.Warn("Failed to release watch", zap.String("token", token), zap.Error(err))
		}
		return nil, false, fserrors.NewWatchSetupError(fmt.Sprintf("replica %s removed while watching %s", token, root), nil).
			WithContext("token", token)
	}
	rep.handle = handle
	count := reg.Len()
	reg.mu.Unlock()

	reg.logger.Info("Replica registered",
		zap.String("token", token),
		zap.String("root", root),
		zap.String("subpath", subpath),
		zap.String("backend", reg.backend.Name()),
		zap.Int("replicas", count),
	)
	return rep, true, nil
}

// Unregister removes token and releases its watch. detach, when set, runs
// under the lock right after removal so callers can drop associated state
// atomically. It returns false for an unknown token.
func (reg *Registry) Unregister(token string, detach func(*Replica)) bool {
	reg.mu.Lock()
	rep, ok := reg.replicas[token]
	if ok {
		delete(reg.replicas, token)
		if detach != nil {
			detach(rep)
		}
	}
	reg.mu.Unlock()

	if !ok {
		return false
	}
	if err := rep.Release(); err != nil {
		reg.logger.Warn("Failed to release watch",
			zap.String("token", token),
			zap.Error(err),
		)
	}
	reg.logger.Info("Replica unregistered", zap.String("token", token))
	return true
}

// UnregisterAll removes every replica and releases the watches in parallel
func (reg *Registry) UnregisterAll(detach func(*Replica)) error {
	reg.mu.Lock()
	all := make([]*Replica, 0, len(reg.replicas))
	for _, token := range reg.Tokens() {
		rep := reg.replicas[token]
		if detach != nil {
			detach(rep)
		}
		all = append(all, rep)
	}
	reg.replicas = make(map[string]*Replica)
	reg.mu.Unlock()

	var g errgroup.Group
	for _, rep := range all {
		rep := rep
		g.Go(func() error {
			if err := rep.Release(); err != nil {
				return fmt.Errorf("failed to release watch for %s: %w", rep.Token, err)
			}
			return nil
		})
	}
	err := g.Wait()

	if len(all) > 0 {
		reg.logger.Info("All replicas unregistered", zap.Int("count", len(all)))
	}
	return err
}

// IsRegistered reports whether token is registered
func (reg *Registry) IsRegistered(token string) bool {
	_, ok := reg.replicas[token]
	return ok
}

// Current reports whether rep is still the replica registered under its
// token. Events for a replica that was reset in the meantime fail this check.
func (reg *Registry) Current(rep *Replica) bool {
	return rep != nil && reg.replicas[rep.Token] == rep
}

// Tokens returns every registered token in sorted order
func (reg *Registry) Tokens() []string {
	tokens := make([]string, 0, len(reg.replicas))
	for token := range reg.replicas {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Len returns the number of registered replicas
func (reg *Registry) Len() int {
	return len(reg.replicas)
}
