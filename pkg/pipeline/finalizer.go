package pipeline

import (
	"context"
	"errors"
	"log"

	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/storage"
)

// StatusPublisher is told about every terminal status written.
type StatusPublisher interface {
	RecordingStatusChanged(ctx context.Context, userID, recordingID string, status models.RecordingStatus)
}

// RunOutcome is how a pipeline run ended. Text fields are written only when
// Succeeded is set; Language and Duration only when known.
type RunOutcome struct {
	Transcription string
	Summary       string
	Language      string
	Duration      float64
	Succeeded     bool
}

// Finalizer owns the terminal status of a recording.
type Finalizer struct {
	recordings storage.RecordingStore
	publisher  StatusPublisher
}

func NewFinalizer(recordings storage.RecordingStore, publisher StatusPublisher) *Finalizer {
	return &Finalizer{recordings: recordings, publisher: publisher}
}

func (f *Finalizer) Finalize(ctx context.Context, userID, recordingID string, outcome RunOutcome) {
	if recordingID == "" {
		return
	}

	update := models.RecordingUpdate{
		Expected: []models.RecordingStatus{
			models.StatusPending, models.StatusProcessing, models.StatusFailed, models.StatusCompleted,
		},
		Status: models.StatusFailed,
	}
	if outcome.Succeeded {
		update.Status = models.StatusCompleted
		update.Transcription = &outcome.Transcription
		update.AISummary = &outcome.Summary
		if outcome.Language != "" {
			update.Language = &outcome.Language
		}
		if outcome.Duration > 0 {
			update.Duration = &outcome.Duration
		}
	}

	rec, err := f.recordings.UpdateRecording(ctx, recordingID, update)
	switch {
	case errors.Is(err, storage.ErrStaleTransition):
		log.Printf("Recording State Updater: recording %s changed concurrently, %s not written", recordingID, update.Status)
		return
	case err != nil:
		log.Printf("Recording State Updater: failed to mark recording %s %s: %v", recordingID, update.Status, err)
		return
	}

	log.Printf("Recording State Updater: recording %s is %s", recordingID, rec.Status)
	if f.publisher != nil {
		f.publisher.RecordingStatusChanged(ctx, userID, recordingID, rec.Status)
	}
}
