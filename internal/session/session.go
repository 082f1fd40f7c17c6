// Package session runs one fswatch protocol conversation with the Unison
// client: it owns the replica registry, the change triggers and the set of
// replicas the client is waiting on.
package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pulsepoint/fsmonitor/internal/protocol"
	"github.com/pulsepoint/fsmonitor/internal/replica"
	"github.com/pulsepoint/fsmonitor/internal/supervisor"
	"github.com/pulsepoint/fsmonitor/internal/trigger"
	"github.com/pulsepoint/fsmonitor/internal/watch"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"go.uber.org/zap"
)

// Recorder receives replica lifecycle and counter updates. The journal
// implements it; a nil Recorder disables recording.
type Recorder interface {
	ReplicaRegistered(token, root, subpath string) error
	ReplicaUnregistered(token string) error
	EventRecorded(token string)
	Pushed(token string)
	Drained(token string, n int) error
	Close(exitErr error) error
}

// Config holds the session collaborators
type Config struct {
	// ID correlates log lines and journal records; generated when empty
	ID string

	// Backend creates the filesystem watches
	Backend watch.Backend

	// Supervisor must be the one the backend was built with so that a
	// failing delivery goroutine ends the session
	Supervisor *supervisor.Supervisor

	// Journal is optional
	Journal Recorder

	// Trace dumps the trigger trees and the wait set after every change
	Trace bool
}

// Session is one protocol conversation
type Session struct {
	id string

	// mu guards registry, triggers and pending. It is always taken before
	// the writer lock inside conn.
	mu       sync.Mutex
	registry *replica.Registry
	triggers *trigger.Set
	pending  map[string]struct{}

	conn    *protocol.Conn
	backend watch.Backend
	sup     *supervisor.Supervisor
	journal Recorder
	trace   bool
	deliver replica.DeliverFunc

	closeOnce sync.Once
	closeErr  error
	logger    *zap.Logger
}

// New creates a session reading commands from in and writing replies to out
func New(in io.Reader, out io.Writer, cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = supervisor.New()
	}

	s := &Session{
		id:       cfg.ID,
		triggers: trigger.NewSet(),
		pending:  make(map[string]struct{}),
		conn:     protocol.NewConn(in, out),
		backend:  cfg.Backend,
		sup:      cfg.Supervisor,
		journal:  cfg.Journal,
		trace:    cfg.Trace,
		logger:   logger.WithCorrelationID(cfg.ID),
	}
	s.registry = replica.NewRegistry(&s.mu, cfg.Backend)
	s.deliver = s.guardedDeliver()
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Run serves the conversation until the client closes stdin, ctx is
// cancelled, a protocol or watch error was reported to the client, or a
// background task faults. The first two end the session cleanly and return
// nil.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Session started", zap.String("backend", s.backend.Name()))

	done := make(chan error, 1)
	go func() {
		var err error
		if fault := s.sup.Run("command loop", func() error {
			err = s.serve()
			return nil
		}); fault != nil {
			err = fault
		}
		done <- err
	}()

	select {
	case err := <-done:
		if errors.Is(err, io.EOF) {
			s.logger.Debug("stdin closed, exiting")
			return nil
		}
		return err
	case err := <-s.sup.Faults():
		return err
	case <-ctx.Done():
		s.logger.Info("Session interrupted")
		return nil
	}
}

// Close stops every watch and finalizes the journal. exitErr is the value
// Run returned and is kept in the journal.
func (s *Session) Close(exitErr error) error {
	s.closeOnce.Do(func() {
		if err := s.registry.UnregisterAll(s.detach); err != nil {
			s.logger.Warn("Failed to release watches", zap.Error(err))
			s.closeErr = err
		}
		if s.journal != nil {
			if err := s.journal.Close(exitErr); err != nil {
				s.logger.Warn("Failed to finalize journal", zap.Error(err))
				if s.closeErr == nil {
					s.closeErr = err
				}
			}
		}
		s.logger.Info("Session closed")
	})
	return s.closeErr
}

// detach drops the state kept for rep. Called with mu held.
func (s *Session) detach(rep *replica.Replica) {
	s.triggers.Forget(rep.Token)
	delete(s.pending, rep.Token)
	if s.journal != nil {
		if err := s.journal.ReplicaUnregistered(rep.Token); err != nil {
			s.logger.Warn("Failed to journal unregistration", zap.String("token", rep.Token), zap.Error(err))
		}
	}
}
