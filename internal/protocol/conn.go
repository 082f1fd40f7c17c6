package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"go.uber.org/zap"
)

// Reader decodes commands from the inbound stream
type Reader struct {
	r      *bufio.Reader
	logger *zap.Logger
}

// NewReader creates a command reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:      bufio.NewReader(r),
		logger: logger.Get(),
	}
}

// ReadCommand blocks until a full line is available. A closed stream,
// including one that ends in an unterminated fragment, returns io.EOF.
func (r *Reader) ReadCommand() (Command, error) {
	line, err := r.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line != "" {
				r.logger.Debug("Discarding unterminated input at end of stream", zap.String("line", line))
			}
			return Command{}, io.EOF
		}
		return Command{}, fmt.Errorf("failed to read command: %w", err)
	}

	r.logger.Debug("recvCmd", zap.String("line", strings.TrimRight(line, "\r\n")))
	return Decode(line), nil
}

// Writer serializes replies onto the outbound stream one full line at a time
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	logger *zap.Logger
}

// NewWriter creates a buffered reply writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:      bufio.NewWriter(w),
		logger: logger.Get(),
	}
}

// Send buffers one line. Callers on the command path rely on the flush
// performed before the next blocking read.
func (w *Writer) Send(cmd string, args ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sendLocked(cmd, args...)
}

// Flush writes every buffered line
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Inject sends and flushes one line atomically. It is the write path for
// notifications that are not a reply to an inbound command.
func (w *Writer) Inject(cmd string, args ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.sendLocked(cmd, args...); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) sendLocked(cmd string, args ...string) error {
	line := Encode(cmd, args...)
	w.logger.Debug("sendCmd", zap.String("line", strings.TrimRight(line, "\n")))
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("failed to write %s: %w", cmd, err)
	}
	return nil
}

// Conn couples a Reader and a Writer with the flush discipline the client
// depends on: everything written is visible before we block on a read.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a protocol connection over an inbound and outbound stream
func NewConn(in io.Reader, out io.Writer) *Conn {
	return &Conn{
		Reader: NewReader(in),
		Writer: NewWriter(out),
	}
}

// ReadCommand flushes pending replies and then reads the next command
func (c *Conn) ReadCommand() (Command, error) {
	if err := c.Writer.Flush(); err != nil {
		return Command{}, fmt.Errorf("failed to flush replies: %w", err)
	}
	return c.Reader.ReadCommand()
}

// SendOK acknowledges the current command
func (c *Conn) SendOK() error {
	return c.Send(ReplyOK)
}

// SendError sends a fatal error reply and flushes it immediately, since the
// adapter exits right after.
func (c *Conn) SendError(msg string) error {
	return c.Inject(ReplyError, msg)
}
