package session

import (
	"fmt"

	"github.com/pulsepoint/fsmonitor/internal/protocol"
	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"go.uber.org/zap"
)

const linkUnsupported = "link following is not supported by unison-fsmonitor, please disable this option (-links)"

// serve runs the handshake and the root command loop. It returns io.EOF when
// the client closes the stream.
func (s *Session) serve() error {
	if err := s.handshake(); err != nil {
		return err
	}
	s.traceTriggers()

	for {
		cmd, err := s.readCommand()
		if err != nil {
			return err
		}
		if err := s.dispatch(cmd); err != nil {
			return err
		}
	}
}

func (s *Session) handshake() error {
	if err := s.conn.Send(protocol.ReplyVersion, protocol.Version); err != nil {
		return err
	}

	cmd, err := s.readCommand()
	if err != nil {
		return err
	}
	if cmd.Name != protocol.CmdVersion {
		return s.fail(fmt.Sprintf("unexpected version cmd: %s", cmd.Name))
	}
	if len(cmd.Args) != 1 {
		return s.fail(fmt.Sprintf("VERSION expects 1 argument, got %d", len(cmd.Args)))
	}
	if v := cmd.Arg(0); v != protocol.Version {
		s.logger.Warn("unexpected version", zap.String("version", v))
	}
	return nil
}

func (s *Session) readCommand() (protocol.Command, error) {
	return s.conn.ReadCommand()
}

func (s *Session) dispatch(cmd protocol.Command) error {
	name := protocol.Canonical(cmd.Name)
	if name != protocol.CmdWait {
		s.clearPending()
	}

	switch name {
	case protocol.CmdDebug:
		logger.SetDebug(true)
		s.logger.Debug("Debug logging enabled")
		return nil
	case protocol.CmdStart:
		return s.handleStart(cmd)
	case protocol.CmdWait:
		return s.handleWait(cmd)
	case protocol.CmdChanges:
		return s.handleChanges(cmd)
	case protocol.CmdReset:
		return s.handleReset(cmd)
	default:
		return s.fail(fmt.Sprintf("unexpected root cmd: %s", cmd.Name))
	}
}

// handleStart registers a replica and runs the DIR/LINK/DONE exchange. OK is
// sent before the exchange, which is when the client waits for it.
func (s *Session) handleStart(cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return s.fail(fmt.Sprintf("%s expects a replica and a root, got %d arguments", cmd.Name, len(cmd.Args)))
	}
	token, root, subpath := cmd.Arg(0), cmd.Arg(1), cmd.Arg(2)

	rep, created, err := s.registry.Register(token, root, subpath, s.deliver)
	if err != nil {
		s.sendError(fserrors.ClientMessage(err))
		return err
	}
	if created && s.journal != nil {
		if err := s.journal.ReplicaRegistered(token, rep.Root, subpath); err != nil {
			s.logger.Warn("Failed to journal registration", zap.String("token", token), zap.Error(err))
		}
	}

	if err := s.conn.SendOK(); err != nil {
		return err
	}
	return s.replicaStart(token)
}

func (s *Session) replicaStart(token string) error {
	for {
		cmd, err := s.readCommand()
		if err != nil {
			return err
		}

		switch cmd.Name {
		case protocol.CmdDir:
			if err := s.conn.SendOK(); err != nil {
				return err
			}
		case protocol.CmdLink:
			return s.fail(linkUnsupported)
		case protocol.CmdDone:
			s.logger.Debug("Replica start finished", zap.String("token", token))
			return nil
		default:
			return s.fail(fmt.Sprintf("unexpected cmd in replica start: %s", cmd.Name))
		}
	}
}

func (s *Session) handleWait(cmd protocol.Command) error {
	token, err := s.replicaArg(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.registry.IsRegistered(token) {
		s.mu.Unlock()
		return s.fail(fmt.Sprintf("unknown replica: %s", token))
	}
	var sendErr error
	if s.triggers.Pending(token) {
		sendErr = s.conn.Send(protocol.ReplyChanges, token)
		s.pending = make(map[string]struct{})
	} else {
		s.pending[token] = struct{}{}
	}
	s.traceLocked()
	s.mu.Unlock()

	return sendErr
}

func (s *Session) handleChanges(cmd protocol.Command) error {
	token, err := s.replicaArg(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.registry.IsRegistered(token) {
		s.mu.Unlock()
		return s.fail(fmt.Sprintf("unknown replica: %s", token))
	}
	paths := s.triggers.Drain(token)
	s.traceLocked()
	s.mu.Unlock()

	for _, path := range paths {
		if err := s.conn.Send(protocol.ReplyRecursive, path); err != nil {
			return err
		}
	}
	if err := s.conn.Send(protocol.ReplyDone); err != nil {
		return err
	}

	if s.journal != nil {
		if err := s.journal.Drained(token, len(paths)); err != nil {
			s.logger.Warn("Failed to journal drain", zap.String("token", token), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) handleReset(cmd protocol.Command) error {
	token, err := s.replicaArg(cmd)
	if err != nil {
		return err
	}

	if !s.registry.Unregister(token, s.detach) {
		s.logger.Warn("unknown replica", zap.String("token", token))
		return nil
	}
	s.traceTriggers()
	return nil
}

// replicaArg returns the single replica argument of WAIT, CHANGES and RESET
func (s *Session) replicaArg(cmd protocol.Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", s.fail(fmt.Sprintf("%s expects 1 argument, got %d", cmd.Name, len(cmd.Args)))
	}
	return cmd.Arg(0), nil
}

// fail reports msg to the client and returns the protocol error that ends
// the session.
func (s *Session) fail(msg string) error {
	s.sendError(msg)
	return fserrors.NewProtocolError(msg)
}

func (s *Session) sendError(msg string) {
	s.logger.Error("Sending error to client", zap.String("message", msg))
	if err := s.conn.SendError(msg); err != nil {
		s.logger.Warn("Failed to send error reply", zap.Error(err))
	}
}
