// Package db stores per-run metadata in an embedded bolt database under the
// cache directory, so past runs can be inspected and re-attached to.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("metadata: run not found")

	runsBucket = []byte("runs")
)

// RunMetadata is one record per generation run, keyed by the run fingerprint.
type RunMetadata struct {
	RunHash        string    `json:"run_hash"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	DatasetHash    string    `json:"dataset_hash"`
	RunName        string    `json:"run_name,omitempty"`
	Model          string    `json:"model_name"`
	Backend        string    `json:"backend"`
	ResponseFormat string    `json:"response_format"`
	BatchMode      bool      `json:"batch_mode"`
}

// MetadataDB wraps a bolt database holding run records.
type MetadataDB struct {
	db *bolt.DB
}

// Open opens (creating if needed) the metadata database at path.
func Open(path string) (*MetadataDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("metadata: mkdir: %w", err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("metadata: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: init: %w", err)
	}
	return &MetadataDB{db: db}, nil
}

// Close closes the underlying database.
func (m *MetadataDB) Close() error {
	return m.db.Close()
}

// StoreRun upserts a run record keyed by its run hash.
func (m *MetadataDB) StoreRun(rec *RunMetadata) error {
	if rec.RunHash == "" {
		return errors.New("metadata: empty run hash")
	}
	bs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metadata: encode: %w", err)
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(rec.RunHash), bs)
	})
}

// GetRun fetches the record for a run hash.
func (m *MetadataDB) GetRun(runHash string) (*RunMetadata, error) {
	var rec *RunMetadata
	err := m.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(runsBucket).Get([]byte(runHash))
		if bs == nil {
			return ErrNotFound
		}
		rec = new(RunMetadata)
		return json.Unmarshal(bs, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRuns returns every stored run record.
func (m *MetadataDB) ListRuns() ([]RunMetadata, error) {
	var out []RunMetadata
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(_, v []byte) error {
			var rec RunMetadata
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
