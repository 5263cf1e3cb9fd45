package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"voicenote-processor/pkg/models"
)

var (
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrStaleTransition means the recording's status changed since the caller
	// decided to write; the update was not applied.
	ErrStaleTransition = errors.New("stale recording status transition")
)

// RecordingStore holds voice recordings and owns conditional status writes.
type RecordingStore interface {
	CreateRecording(ctx context.Context, rec *models.VoiceRecording) error
	GetRecording(ctx context.Context, id string) (*models.VoiceRecording, error)
	ListRecordings(ctx context.Context, userID string, limit int) ([]*models.VoiceRecording, error)
	UpdateRecording(ctx context.Context, id string, update models.RecordingUpdate) (*models.VoiceRecording, error)
}

// DeadLetter is a background job that exhausted its attempts.
type DeadLetter struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, dl DeadLetter) error
}

type MemoryStore struct {
	recordings  map[string]*models.VoiceRecording
	deadLetters []DeadLetter
	mu          sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recordings: make(map[string]*models.VoiceRecording),
	}
}

func (s *MemoryStore) CreateRecording(_ context.Context, rec *models.VoiceRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recordings[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRecording(_ context.Context, id string) (*models.VoiceRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.recordings[id]
	if !exists {
		return nil, ErrRecordingNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListRecordings(_ context.Context, userID string, limit int) ([]*models.VoiceRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.VoiceRecording
	for _, rec := range s.recordings {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateRecording(_ context.Context, id string, update models.RecordingUpdate) (*models.VoiceRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.recordings[id]
	if !exists {
		return nil, ErrRecordingNotFound
	}
	if !update.Allows(rec.Status) {
		return nil, ErrStaleTransition
	}
	update.Apply(rec, time.Now().UTC())
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) RecordDeadLetter(_ context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

func (s *MemoryStore) DeadLetters() []DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DeadLetter(nil), s.deadLetters...)
}

func sortNewestFirst(recs []*models.VoiceRecording) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
