package session

import (
	"sort"

	"github.com/pulsepoint/fsmonitor/internal/protocol"
	"github.com/pulsepoint/fsmonitor/internal/replica"
	"go.uber.org/zap"
)

func (s *Session) clearPending() {
	s.mu.Lock()
	if len(s.pending) > 0 {
		s.pending = make(map[string]struct{})
	}
	s.mu.Unlock()
}

// guardedDeliver routes backend events into onChange. A panic while handling
// an event is a session fault.
func (s *Session) guardedDeliver() replica.DeliverFunc {
	return func(rep *replica.Replica, path string) {
		s.sup.Guard("change callback "+rep.Token, func(p string) {
			s.onChange(rep, p)
		})(path)
	}
}

// onChange records a change under rep and wakes the client if it is waiting
// on that replica. It runs on backend delivery goroutines.
func (s *Session) onChange(rep *replica.Replica, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// events racing a RESET of the same token
	if !s.registry.Current(rep) {
		return
	}

	segments, ok := rep.Relative(path)
	if !ok {
		s.logger.Warn("unexpected file event",
			zap.String("path", path),
			zap.String("root", rep.Root),
			zap.String("token", rep.Token),
		)
		return
	}

	if _, waiting := s.pending[rep.Token]; waiting {
		if err := s.conn.Inject(protocol.ReplyChanges, rep.Token); err != nil {
			s.logger.Error("Failed to notify client", zap.String("token", rep.Token), zap.Error(err))
		}
		s.pending = make(map[string]struct{})
		if s.journal != nil {
			s.journal.Pushed(rep.Token)
		}
	}

	s.triggers.Record(rep.Token, segments)
	if s.journal != nil {
		s.journal.EventRecorded(rep.Token)
	}
	s.logger.Debug("Change recorded",
		zap.String("token", rep.Token),
		zap.Strings("segments", segments),
		zap.Int("pending", s.triggers.Len(rep.Token)),
	)
	s.traceLocked()
}

func (s *Session) traceTriggers() {
	if !s.trace {
		return
	}
	s.mu.Lock()
	s.traceLocked()
	s.mu.Unlock()
}

// traceLocked dumps the trigger trees and the wait set. Called with mu held.
func (s *Session) traceLocked() {
	if !s.trace {
		return
	}
	wait := make([]string, 0, len(s.pending))
	for token := range s.pending {
		wait = append(wait, token)
	}
	sort.Strings(wait)

	s.logger.Debug("DEBUG+",
		zap.Any("triggers", s.triggers.Snapshot()),
		zap.Strings("wait", wait),
		zap.Int("replicas", s.registry.Len()),
	)
}
