// Package supervisor runs background goroutines whose failure must take the
// whole process down instead of silently stopping one replica's delivery.
package supervisor

import (
	"fmt"
	"runtime/debug"
	"sync"

	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"go.uber.org/zap"
)

// Supervisor forwards the first fault of any supervised goroutine to a
// monitor reading Faults.
type Supervisor struct {
	faults chan error
	once   sync.Once
	logger *zap.Logger
}

// New creates a supervisor
func New() *Supervisor {
	return &Supervisor{
		faults: make(chan error, 1),
		logger: logger.Get(),
	}
}

// Faults delivers at most one fault
func (s *Supervisor) Faults() <-chan error {
	return s.faults
}

// Go runs fn in its own goroutine. A panic or a returned error is a fault.
func (s *Supervisor) Go(name string, fn func() error) {
	go func() {
		if err := s.Run(name, fn); err != nil {
			s.Report(err)
		}
	}()
}

// Run calls fn on the current goroutine and converts a panic into a fault
// error carrying the stack.
func (s *Supervisor) Run(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fserrors.NewFaultError(fmt.Sprintf("panic in %s", name), fmt.Errorf("%v", rec)).
				WithContext("stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		return fserrors.NewFaultError(fmt.Sprintf("%s stopped", name), err)
	}
	return nil
}

// Guard wraps a callback so a panic inside it is reported as a fault
func (s *Supervisor) Guard(name string, fn func(string)) func(string) {
	return func(arg string) {
		if err := s.Run(name, func() error {
			fn(arg)
			return nil
		}); err != nil {
			s.Report(err)
		}
	}
}

// Report records a fault. Only the first one is kept.
func (s *Supervisor) Report(err error) {
	s.once.Do(func() {
		s.logger.Error("Background task failed", zap.Error(err))
		s.faults <- err
	})
}

// Stack returns the goroutine stack captured for a fault, if any
func Stack(err error) string {
	var fe *fserrors.FsmonError
	if !fserrors.As(err, &fe) || fe.Context == nil {
		return ""
	}
	stack, _ := fe.Context["stack"].(string)
	return stack
}
