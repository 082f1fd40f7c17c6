package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewProtocolError("unknown replica: r1")
	assert.Equal(t, "[protocol] unknown replica: r1", err.Error())
	assert.Equal(t, "unknown replica: r1", ClientMessage(err))

	cause := stderrors.New("no such file or directory")
	werr := NewWatchSetupError("cannot watch /tmp/a/", cause)
	assert.Equal(t, "[watch] cannot watch /tmp/a/: no such file or directory", werr.Error())
	assert.Equal(t, "cannot watch /tmp/a/: no such file or directory", ClientMessage(werr))
	assert.ErrorIs(t, werr, cause)

	assert.Equal(t, "plain", ClientMessage(stderrors.New("plain")))
}

func TestTypeChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		typ   ErrorType
	}{
		{name: "protocol", err: NewProtocolError("x"), check: IsProtocolError, typ: ProtocolError},
		{name: "watch", err: NewWatchSetupError("x", nil), check: IsWatchError, typ: WatchError},
		{name: "config", err: NewConfigError("x", nil), check: IsConfigError, typ: ConfigError},
		{name: "journal", err: NewJournalError("x", nil), check: IsJournalError, typ: JournalError},
		{name: "fault", err: NewFaultError("x", nil), check: IsFaultError, typ: FaultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.Equal(t, tt.typ, TypeOf(tt.err))

			wrapped := fmt.Errorf("failed to serve: %w", tt.err)
			assert.True(t, tt.check(wrapped), "type survives wrapping")
		})
	}

	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
	assert.False(t, IsFaultError(nil))
}

func TestWithContext(t *testing.T) {
	err := NewWatchSetupError("cannot watch", nil).
		WithContext("token", "r1").
		WithContext("root", "/tmp/a/")

	assert.Equal(t, "r1", err.Context["token"])
	assert.Equal(t, "/tmp/a/", err.Context["root"])

	var fe *FsmonError
	assert.True(t, As(fmt.Errorf("wrap: %w", err), &fe))
	assert.Same(t, err, fe)
}
