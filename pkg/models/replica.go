package models

import (
	"fmt"
	"time"
)

// ReplicaRecord is the journal entry kept for one replica registration
type ReplicaRecord struct {
	// Identification
	SessionID string `json:"session_id" bolt:"session_id"`
	Token     string `json:"token" bolt:"token"`
	Root      string `json:"root" bolt:"root"`
	Subpath   string `json:"subpath,omitempty" bolt:"subpath"`
	Backend   string `json:"backend" bolt:"backend"`

	// Registration numbers the registrations of a session from 1, so a
	// token that is reset and registered again gets a new record
	Registration int `json:"registration" bolt:"registration"`

	// Lifecycle
	RegisteredAt   time.Time `json:"registered_at" bolt:"registered_at"`
	UnregisteredAt time.Time `json:"unregistered_at,omitempty" bolt:"unregistered_at"`

	// Counters
	EventsRecorded  int64 `json:"events_recorded" bolt:"events_recorded"`
	Pushes          int64 `json:"pushes" bolt:"pushes"`
	Queries         int64 `json:"queries" bolt:"queries"`
	SubtreesDrained int64 `json:"subtrees_drained" bolt:"subtrees_drained"`
}

// NewReplicaRecord creates a record for a freshly registered replica
func NewReplicaRecord(sessionID, token, root, subpath, backend string) *ReplicaRecord {
	return &ReplicaRecord{
		SessionID:    sessionID,
		Token:        token,
		Root:         root,
		Subpath:      subpath,
		Backend:      backend,
		RegisteredAt: time.Now(),
	}
}

// Key returns the journal key for the record: session/token/registration
func (r *ReplicaRecord) Key() string {
	return fmt.Sprintf("%s/%s/%06d", r.SessionID, r.Token, r.Registration)
}

// IsActive reports whether the replica was still registered when last written
func (r *ReplicaRecord) IsActive() bool {
	return r.UnregisteredAt.IsZero()
}

// MarkUnregistered stamps the unregistration time
func (r *ReplicaRecord) MarkUnregistered() {
	r.UnregisteredAt = time.Now()
}

// Duration returns how long the replica has been (or was) watched
func (r *ReplicaRecord) Duration() time.Duration {
	if r.IsActive() {
		return time.Since(r.RegisteredAt)
	}
	return r.UnregisteredAt.Sub(r.RegisteredAt)
}

// SessionRecord describes one adapter process run
type SessionRecord struct {
	ID        string    `json:"id" bolt:"id"`
	StartedAt time.Time `json:"started_at" bolt:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty" bolt:"ended_at"`
	Backend   string    `json:"backend" bolt:"backend"`
	ExitError string    `json:"exit_error,omitempty" bolt:"exit_error"`
}
