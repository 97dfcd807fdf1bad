// Package history persists a log of shares and downloads in a local badger store.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"packshare/pkg/types"
)

const keyPrefix = "history:"

// Kind distinguishes share records from download records
type Kind string

const (
	KindShare    Kind = "share"
	KindDownload Kind = "download"
)

// Entry is one recorded event
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ShareCode string    `json:"share_code"`
	PackName  string    `json:"pack_name"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	OutputDir string    `json:"output_dir,omitempty"`
	Files     int       `json:"files"`
	Bytes     uint64    `json:"bytes"`
	Time      time.Time `json:"time"`
}

// Store wraps a badger database holding history entries
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at dbPath
func Open(dbPath string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open history store: %v", types.ErrIO, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// entryKey orders entries by time; the id keeps same-instant entries distinct
func entryKey(e Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", keyPrefix, e.Time.UnixNano(), e.ID))
}

// Record stores e, filling in ID and Time when unset
func (s *Store) Record(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e), data)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write history entry: %v", types.ErrIO, err)
	}

	logrus.WithFields(logrus.Fields{"kind": e.Kind, "share_code": e.ShareCode, "status": e.Status}).Debug("Recorded history entry")
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the prefix range
		for it.Seek([]byte(keyPrefix + "\xff")); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				logrus.Warnf("Skipping unreadable history entry %q: %v", it.Item().Key(), err)
				continue
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history: %v", types.ErrIO, err)
	}

	return entries, nil
}
