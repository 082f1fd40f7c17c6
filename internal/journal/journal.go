package journal

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/pulsepoint/fsmonitor/pkg/models"
	"go.uber.org/zap"
)

// Journal records one session's replicas. Counters are kept in memory and
// written out on lifecycle points (register, unregister, drain, close) so the
// change callback never waits on disk.
type Journal struct {
	store         *Store
	session       *models.SessionRecord
	replicas      map[string]*models.ReplicaRecord // active record per token
	registrations int
	mu            sync.Mutex
	logger        *zap.Logger
}

// Open opens the store and writes the session record
func Open(store *Store, sessionID, backend string) (*Journal, error) {
	if err := store.Open(); err != nil {
		return nil, fserrors.NewJournalError("cannot open journal", err).
			WithContext("path", store.Path())
	}

	j := &Journal{
		store: store,
		session: &models.SessionRecord{
			ID:        sessionID,
			StartedAt: time.Now(),
			Backend:   backend,
		},
		replicas: make(map[string]*models.ReplicaRecord),
		logger:   store.logger.With(zap.String("session_id", sessionID)),
	}

	if err := store.Put(BucketSessions, sessionID, j.session); err != nil {
		store.Close()
		return nil, fserrors.NewJournalError("cannot write session record", err)
	}
	return j, nil
}

// SessionID returns the id the journal records under
func (j *Journal) SessionID() string {
	return j.session.ID
}

// ReplicaRegistered starts a new record for token. Earlier registrations of
// the same token keep their own records.
func (j *Journal) ReplicaRegistered(token, root, subpath string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.registrations++
	rec := models.NewReplicaRecord(j.session.ID, token, root, subpath, j.session.Backend)
	rec.Registration = j.registrations
	j.replicas[token] = rec
	return j.saveLocked(rec)
}

// ReplicaUnregistered stamps the end of token's record
func (j *Journal) ReplicaUnregistered(token string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.replicas[token]
	if !ok {
		return nil
	}
	rec.MarkUnregistered()
	delete(j.replicas, token)
	return j.saveLocked(rec)
}

// EventRecorded counts one change recorded for token
func (j *Journal) EventRecorded(token string) {
	j.mu.Lock()
	if rec, ok := j.replicas[token]; ok {
		rec.EventsRecorded++
	}
	j.mu.Unlock()
}

// Pushed counts one unsolicited CHANGES notification for token
func (j *Journal) Pushed(token string) {
	j.mu.Lock()
	if rec, ok := j.replicas[token]; ok {
		rec.Pushes++
	}
	j.mu.Unlock()
}

// Drained counts one CHANGES query that reported n subtrees
func (j *Journal) Drained(token string, n int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.replicas[token]
	if !ok {
		return nil
	}
	rec.Queries++
	rec.SubtreesDrained += int64(n)
	return j.saveLocked(rec)
}

// Close writes every open record, stamps the session end and closes the store
func (j *Journal) Close(exitErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, token := range sortedTokens(j.replicas) {
		rec := j.replicas[token]
		rec.MarkUnregistered()
		keep(j.saveLocked(rec))
	}
	j.replicas = make(map[string]*models.ReplicaRecord)

	j.session.EndedAt = time.Now()
	if exitErr != nil {
		j.session.ExitError = exitErr.Error()
	}
	keep(j.store.Put(BucketSessions, j.session.ID, j.session))
	keep(j.store.Close())

	if firstErr != nil {
		return fserrors.NewJournalError("cannot finalize journal", firstErr)
	}
	return nil
}

func (j *Journal) saveLocked(rec *models.ReplicaRecord) error {
	if err := j.store.Put(BucketReplicas, rec.Key(), rec); err != nil {
		return fserrors.NewJournalError(fmt.Sprintf("cannot write replica %s", rec.Token), err)
	}
	j.logger.Debug("Journal record written",
		zap.String("token", rec.Token),
		zap.Int64("events", rec.EventsRecorded),
	)
	return nil
}

// ListSessions returns every session record, most recent first
func ListSessions(store *Store) ([]*models.SessionRecord, error) {
	var sessions []*models.SessionRecord
	err := store.ForEachWithPrefix(BucketSessions, "", func(_ string, data []byte) error {
		var rec models.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to decode session record: %w", err)
		}
		sessions = append(sessions, &rec)
		return nil
	})
	if err != nil {
		return nil, fserrors.NewJournalError("cannot list sessions", err)
	}

	sort.Slice(sessions, func(a, b int) bool {
		return sessions[a].StartedAt.After(sessions[b].StartedAt)
	})
	return sessions, nil
}

// ListReplicas returns the replica records of one session in registration
// order
func ListReplicas(store *Store, sessionID string) ([]*models.ReplicaRecord, error) {
	var replicas []*models.ReplicaRecord
	err := store.ForEachWithPrefix(BucketReplicas, sessionID+"/", func(_ string, data []byte) error {
		var rec models.ReplicaRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to decode replica record: %w", err)
		}
		replicas = append(replicas, &rec)
		return nil
	})
	if err != nil {
		return nil, fserrors.NewJournalError("cannot list replicas", err)
	}

	sort.SliceStable(replicas, func(a, b int) bool {
		return replicas[a].Registration < replicas[b].Registration
	})
	return replicas, nil
}

func sortedTokens(m map[string]*models.ReplicaRecord) []string {
	tokens := make([]string, 0, len(m))
	for token := range m {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
