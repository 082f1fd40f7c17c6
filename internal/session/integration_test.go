package session

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pulsepoint/fsmonitor/internal/journal"
	"github.com/pulsepoint/fsmonitor/internal/supervisor"
	"github.com/pulsepoint/fsmonitor/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full conversation against the fsnotify backend and an on-disk journal
func TestFsnotifySessionWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "x"), 0o755))

	sup := supervisor.New()
	backend, err := watch.New(watch.Fsnotify, watch.Options{Supervisor: sup, ReportParents: true})
	require.NoError(t, err)

	store := journal.NewStore(&journal.Options{Path: filepath.Join(t.TempDir(), "fsmonitor.db"), NoSync: true})
	j, err := journal.Open(store, "integration", backend.Name())
	require.NoError(t, err)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s := New(inR, outW, Config{ID: "integration", Backend: backend, Supervisor: sup, Journal: j})

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	expect := func(want string) {
		t.Helper()
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out expecting %q", want)
		}
	}
	send := func(line string) {
		t.Helper()
		_, err := io.WriteString(inW, line+"\n")
		require.NoError(t, err)
	}

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background()) }()

	expect("VERSION 1")
	send("VERSION 1")
	send("START r1 " + root)
	expect("OK")
	send("DONE")

	send("WAIT r1")
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.pending["r1"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "x", "y"), []byte("y"), 0o644))
	expect("CHANGES r1")

	require.NoError(t, os.WriteFile(filepath.Join(root, "x", "z"), []byte("z"), 0o644))
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return reflect.DeepEqual(s.triggers.Snapshot(), map[string][]string{"r1": {"x"}})
	}, 5*time.Second, 10*time.Millisecond)

	send("CHANGES r1")
	expect("RECURSIVE x")
	expect("DONE")

	require.NoError(t, inW.Close())
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	require.NoError(t, s.Close(nil))
	outR.Close()

	reader := journal.NewStore(&journal.Options{Path: store.Path(), ReadOnly: true})
	require.NoError(t, reader.Open())
	defer reader.Close()

	replicas, err := journal.ListReplicas(reader, "integration")
	require.NoError(t, err)
	require.Len(t, replicas, 1)
	assert.Positive(t, replicas[0].EventsRecorded)
	assert.Equal(t, int64(1), replicas[0].Pushes)
	assert.Equal(t, int64(1), replicas[0].Queries)
	assert.False(t, replicas[0].IsActive())
}
