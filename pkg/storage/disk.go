package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"

	"voicenote-processor/pkg/models"
)

const (
	recordingPrefix  = "rec/"
	userIndexPrefix  = "urec/"
	deadLetterPrefix = "dead/"

	// conflictRetries bounds re-reads after badger reports a write conflict.
	conflictRetries = 3
)

// DiskStore keeps recordings and dead letters in badger. Status transitions run
// inside a single read-write transaction, so two concurrent writers against the
// same recording cannot both commit.
type DiskStore struct {
	db *badger.DB
}

func NewDiskStore(path string) (*DiskStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil
	return openDiskStore(opts)
}

// NewInMemoryDiskStore opens badger without touching the filesystem.
func NewInMemoryDiskStore() (*DiskStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openDiskStore(opts)
}

func openDiskStore(opts badger.Options) (*DiskStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &DiskStore{db: db}, nil
}

func (s *DiskStore) CreateRecording(_ context.Context, rec *models.VoiceRecording) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordingKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(userIndexKey(rec.UserID, rec.ID), nil)
	})
}

func (s *DiskStore) GetRecording(_ context.Context, id string) (*models.VoiceRecording, error) {
	var rec *models.VoiceRecording
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecording(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *DiskStore) ListRecordings(_ context.Context, userID string, limit int) ([]*models.VoiceRecording, error) {
	var out []*models.VoiceRecording
	prefix := []byte(userIndexPrefix + userID + "/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			rec, err := readRecording(txn, id)
			if errors.Is(err, ErrRecordingNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DiskStore) UpdateRecording(_ context.Context, id string, update models.RecordingUpdate) (*models.VoiceRecording, error) {
	var updated *models.VoiceRecording
	var err error

	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			rec, err := readRecording(txn, id)
			if err != nil {
				return err
			}
			if !update.Allows(rec.Status) {
				return ErrStaleTransition
			}
			update.Apply(rec, time.Now().UTC())

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal recording: %w", err)
			}
			updated = rec
			return txn.Set(recordingKey(id), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *DiskStore) RecordDeadLetter(_ context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(deadLetterPrefix+dl.ID), data)
	})
}

// DeadLetters returns every recorded dead letter.
func (s *DiskStore) DeadLetters() ([]DeadLetter, error) {
	var out []DeadLetter
	prefix := []byte(deadLetterPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var dl DeadLetter
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dl)
			}); err != nil {
				return err
			}
			out = append(out, dl)
		}
		return nil
	})
	return out, err
}

func (s *DiskStore) Close() error {
	return s.db.Close()
}

func readRecording(txn *badger.Txn, id string) (*models.VoiceRecording, error) {
	item, err := txn.Get(recordingKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	var rec models.VoiceRecording
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode recording: %w", err)
	}
	return &rec, nil
}

func recordingKey(id string) []byte {
	return []byte(recordingPrefix + id)
}

func userIndexKey(userID, id string) []byte {
	return []byte(userIndexPrefix + userID + "/" + id)
}
