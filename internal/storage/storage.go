// Package storage persists benchmark evaluation runs. It uses BoltDB as the
// underlying storage engine so accuracy history survives process restarts and
// can be queried by time range.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const runsBucket = "runs" // Bucket name for evaluation run records

// Run is one completed evaluation of a model bundle against its sample set.
type Run struct {
	Timestamp      time.Time     `json:"timestamp"`
	BundleChecksum string        `json:"bundle_checksum"`
	Iterations     int           `json:"iterations"`
	Samples        int           `json:"samples"`
	Correct        int           `json:"correct"`
	Accuracy       float64       `json:"accuracy"`
	Duration       time.Duration `json:"duration"`
}

// Store provides persistent storage for evaluation runs using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New creates a new storage instance under the specified data path.
// Returns an error if the database cannot be opened or the bucket cannot be
// created.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "forestbench.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreRun stores an evaluation run record. Keys are zero-padded nanosecond
// timestamps so a cursor scan returns runs in chronological order.
func (s *Store) StoreRun(run Run) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}

		key := fmt.Sprintf("%020d", run.Timestamp.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// GetRuns retrieves run records within a time range, inclusive of both ends,
// in chronological order.
func (s *Store) GetRuns(start, end time.Time) ([]Run, error) {
	var runs []Run

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		c := b.Cursor()

		startKey := []byte(fmt.Sprintf("%020d", start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%020d", end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && string(k) <= string(endKey); k, v = c.Next() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed records
			}
			runs = append(runs, run)
		}
		return nil
	})

	return runs, err
}

// LatestRun returns the most recent run record, or false when the store is
// empty.
func (s *Store) LatestRun() (Run, bool, error) {
	var run Run
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		if err := json.Unmarshal(v, &run); err != nil {
			return fmt.Errorf("unmarshal run: %w", err)
		}
		found = true
		return nil
	})

	return run, found, err
}
