// Package journal keeps a diagnostic record of adapter sessions and the
// replicas they watched. Nothing in it is read back into a running session.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pulsepoint/fsmonitor/pkg/logger"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Journal buckets
const (
	// BucketSessions stores one record per adapter run
	BucketSessions = "sessions"

	// BucketReplicas stores one record per replica registration
	BucketReplicas = "replicas"
)

// Store manages the BoltDB file backing the journal
type Store struct {
	db      *bolt.DB
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	isOpen  bool
	options *Options
}

// Options represents store options
type Options struct {
	Path     string        `json:"path" yaml:"path"`
	FileMode uint32        `json:"file_mode" yaml:"file_mode"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	ReadOnly bool          `json:"read_only" yaml:"read_only"`
	NoSync   bool          `json:"no_sync" yaml:"no_sync"`
}

// DefaultPath returns the journal location below the user's home directory
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pulsepoint", "fsmonitor.db")
	}
	return filepath.Join(home, ".pulsepoint", "fsmonitor.db")
}

// DefaultOptions returns default store options
func DefaultOptions() *Options {
	return &Options{
		Path:     DefaultPath(),
		FileMode: 0600,
		Timeout:  1 * time.Second,
	}
}

// NewStore creates a store for the given options without opening it
func NewStore(options *Options) *Store {
	if options == nil {
		options = DefaultOptions()
	}
	if options.Path == "" {
		options.Path = DefaultPath()
	}
	if options.FileMode == 0 {
		options.FileMode = 0600
	}

	return &Store{
		path:    options.Path,
		logger:  logger.Get(),
		options: options,
	}
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Open opens the database file, creating it and its buckets if needed
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOpen {
		return nil
	}

	if !s.options.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(s.path, os.FileMode(s.options.FileMode), &bolt.Options{
		Timeout:  s.options.Timeout,
		ReadOnly: s.options.ReadOnly,
		NoSync:   s.options.NoSync,
	})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	s.db = db

	if !s.options.ReadOnly {
		if err := s.initBuckets(); err != nil {
			s.db.Close()
			return fmt.Errorf("failed to initialize buckets: %w", err)
		}
	}

	s.isOpen = true
	s.logger.Debug("Journal opened", zap.String("path", s.path))
	return nil
}

// Close closes the database file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen || s.db == nil {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}

	s.isOpen = false
	s.logger.Debug("Journal closed", zap.String("path", s.path))
	return nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketSessions, BucketReplicas} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// IsOpen checks if the store is open
func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOpen
}

// Transaction executes a function within a database transaction
func (s *Store) Transaction(writable bool, fn func(*bolt.Tx) error) error {
	if !s.IsOpen() {
		return fmt.Errorf("journal is not open")
	}

	if writable {
		return s.db.Update(fn)
	}
	return s.db.View(fn)
}

// Put stores value as JSON under key
func (s *Store) Put(bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return s.Transaction(true, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

// ForEachWithPrefix calls fn for every value whose key starts with prefix,
// in key order. An empty prefix visits the whole bucket.
func (s *Store) ForEachWithPrefix(bucket, prefix string, fn func(key string, data []byte) error) error {
	prefixBytes := []byte(prefix)

	return s.Transaction(false, func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			// a read-only store opened on a fresh file has no buckets yet
			return nil
		}

		c := b.Cursor()
		for k, v := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
