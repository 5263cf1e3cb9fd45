package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicenote-processor/pkg/models"
)

func recordingStores(t *testing.T) map[string]RecordingStore {
	t.Helper()

	disk, err := NewInMemoryDiskStore()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { disk.Close() })

	return map[string]RecordingStore{
		"memory": NewMemoryStore(),
		"badger": disk,
	}
}

func strPtr(s string) *string { return &s }

func TestRecordingStoreGetMissing(t *testing.T) {
	for name, s := range recordingStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRecording(context.Background(), "nope")
			if !errors.Is(err, ErrRecordingNotFound) {
				t.Fatalf("expected ErrRecordingNotFound, got %v", err)
			}
		})
	}
}

func TestRecordingStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordingStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := models.NewVoiceRecording("u1", "https://cdn.example/a.webm", 12)
			if err := s.CreateRecording(ctx, rec); err != nil {
				t.Fatalf("create: %v", err)
			}

			updated, err := s.UpdateRecording(ctx, rec.ID, models.RecordingUpdate{
				Expected:      []models.RecordingStatus{models.StatusPending, models.StatusProcessing},
				Status:        models.StatusProcessing,
				Transcription: strPtr("buy milk"),
			})
			if err != nil {
				t.Fatalf("update to processing: %v", err)
			}
			if updated.Status != models.StatusProcessing || updated.Transcription != "buy milk" {
				t.Errorf("unexpected recording after update: %+v", updated)
			}

			if _, err := s.UpdateRecording(ctx, rec.ID, models.RecordingUpdate{
				Expected: []models.RecordingStatus{models.StatusPending, models.StatusProcessing},
				Status:   models.StatusCompleted,
			}); err != nil {
				t.Fatalf("complete: %v", err)
			}

			// a late preview write must not drag the recording back to processing
			_, err = s.UpdateRecording(ctx, rec.ID, models.RecordingUpdate{
				Expected: []models.RecordingStatus{models.StatusPending, models.StatusProcessing},
				Status:   models.StatusProcessing,
			})
			if !errors.Is(err, ErrStaleTransition) {
				t.Fatalf("expected ErrStaleTransition, got %v", err)
			}

			got, err := s.GetRecording(ctx, rec.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != models.StatusCompleted {
				t.Errorf("status regressed to %s", got.Status)
			}
			if got.Transcription != "buy milk" {
				t.Errorf("transcription: got %q", got.Transcription)
			}
		})
	}
}

func TestRecordingStoreConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordingStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := models.NewVoiceRecording("u1", "", 0)
			if err := s.CreateRecording(ctx, rec); err != nil {
				t.Fatalf("create: %v", err)
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateRecording(ctx, rec.ID, models.RecordingUpdate{
						Expected: []models.RecordingStatus{models.StatusPending},
						Status:   models.StatusProcessing,
					})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if wins != 1 {
				t.Fatalf("expected exactly one transition out of pending, got %d", wins)
			}
		})
	}
}

func TestRecordingStoreListByUser(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordingStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			for i, user := range []string{"u1", "u2", "u1", "u1"} {
				rec := models.NewVoiceRecording(user, "", 0)
				rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				if err := s.CreateRecording(ctx, rec); err != nil {
					t.Fatalf("create: %v", err)
				}
			}

			recs, err := s.ListRecordings(ctx, "u1", 2)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(recs) != 2 {
				t.Fatalf("expected 2 recordings, got %d", len(recs))
			}
			if !recs[0].CreatedAt.After(recs[1].CreatedAt) {
				t.Errorf("expected newest first")
			}
			for _, r := range recs {
				if r.UserID != "u1" {
					t.Errorf("leaked recording of %s", r.UserID)
				}
			}
		})
	}
}

func TestDiskStoreDeadLetters(t *testing.T) {
	s, err := NewInMemoryDiskStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	dl := DeadLetter{ID: "d1", Job: "notify:doc1", Attempts: 3, Error: "boom", CreatedAt: time.Now().UTC()}
	if err := s.RecordDeadLetter(context.Background(), dl); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := s.DeadLetters()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Job != "notify:doc1" || got[0].Attempts != 3 {
		t.Errorf("unexpected dead letters: %+v", got)
	}
}
