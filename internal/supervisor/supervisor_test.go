package supervisor

import (
	"errors"
	"testing"
	"time"

	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFault(t *testing.T, s *Supervisor) error {
	t.Helper()
	select {
	case err := <-s.Faults():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fault")
		return nil
	}
}

func TestGoPanicBecomesFault(t *testing.T) {
	s := New()
	s.Go("delivery", func() error {
		panic("boom")
	})

	err := waitFault(t, s)
	assert.True(t, fserrors.IsFaultError(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, Stack(err), "supervisor")
}

func TestGoErrorBecomesFault(t *testing.T) {
	s := New()
	s.Go("delivery", func() error {
		return errors.New("channel closed")
	})

	err := waitFault(t, s)
	assert.True(t, fserrors.IsFaultError(err))
	assert.Contains(t, err.Error(), "channel closed")
	assert.Empty(t, Stack(err))
}

func TestGoCleanExitIsNotAFault(t *testing.T) {
	s := New()
	s.Go("delivery", func() error { return nil })

	select {
	case err := <-s.Faults():
		t.Fatalf("unexpected fault: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGuard(t *testing.T) {
	s := New()
	var got string
	guarded := s.Guard("callback", func(path string) {
		got = path
		if path == "bad" {
			panic("bad path")
		}
	})

	guarded("ok")
	assert.Equal(t, "ok", got)

	guarded("bad")
	err := waitFault(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad path")
}

func TestReportKeepsFirst(t *testing.T) {
	s := New()
	s.Report(errors.New("first"))
	s.Report(errors.New("second"))

	err := waitFault(t, s)
	assert.EqualError(t, err, "first")
}
