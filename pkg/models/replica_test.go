package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplicaRecordLifecycle(t *testing.T) {
	rec := NewReplicaRecord("s-1", "r1", "/tmp/a/", "sub", "fsnotify")

	rec.Registration = 3
	assert.Equal(t, "s-1/r1/000003", rec.Key())
	assert.True(t, rec.IsActive())
	assert.False(t, rec.RegisteredAt.IsZero())

	rec.RegisteredAt = time.Now().Add(-time.Minute)
	assert.GreaterOrEqual(t, rec.Duration(), time.Minute)

	rec.MarkUnregistered()
	assert.False(t, rec.IsActive())

	frozen := rec.Duration()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, frozen, rec.Duration(), "duration stops at unregistration")
}
