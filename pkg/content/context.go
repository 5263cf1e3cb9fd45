package content

import (
	"context"
	"fmt"

	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/storage"
)

const (
	openTaskLimit   = 20
	recentNoteLimit = 5
)

// ProfileTasks is the slice of the SQL store the loader reads.
type ProfileTasks interface {
	GetProfile(ctx context.Context, userID string) (models.UserProfile, error)
	OpenTasks(ctx context.Context, userID string, limit int) ([]models.Task, error)
	ItemsForRecording(ctx context.Context, userID, recordingID string) (storage.RecordingItems, error)
}

// Loader builds generator context from the recording and item stores.
type Loader struct {
	recordings storage.RecordingStore
	items      ProfileTasks
}

func NewLoader(recordings storage.RecordingStore, items ProfileTasks) *Loader {
	return &Loader{recordings: recordings, items: items}
}

func (l *Loader) UserContext(ctx context.Context, userID string) (models.UserContext, error) {
	profile, err := l.items.GetProfile(ctx, userID)
	if err != nil {
		return models.UserContext{}, fmt.Errorf("loading profile: %w", err)
	}
	tasks, err := l.items.OpenTasks(ctx, userID, openTaskLimit)
	if err != nil {
		return models.UserContext{}, fmt.Errorf("loading open tasks: %w", err)
	}
	return models.UserContext{Profile: profile, OpenTasks: tasks}, nil
}

func (l *Loader) VoiceContext(ctx context.Context, userID, recordingID string) (models.VoiceContext, error) {
	rec, err := l.recordings.GetRecording(ctx, recordingID)
	if err != nil {
		return models.VoiceContext{}, fmt.Errorf("loading recording %s: %w", recordingID, err)
	}
	if rec.UserID != userID {
		return models.VoiceContext{}, fmt.Errorf("loading recording %s: %w", recordingID, storage.ErrRecordingNotFound)
	}

	recent, err := l.recordings.ListRecordings(ctx, userID, recentNoteLimit+1)
	if err != nil {
		return models.VoiceContext{}, fmt.Errorf("listing recent recordings: %w", err)
	}
	notes := make([]models.VoiceRecording, 0, len(recent))
	for _, r := range recent {
		if r.ID == recordingID || r.Status != models.StatusCompleted {
			continue
		}
		if len(notes) == recentNoteLimit {
			break
		}
		notes = append(notes, *r)
	}

	items, err := l.items.ItemsForRecording(ctx, userID, recordingID)
	if err != nil {
		return models.VoiceContext{}, fmt.Errorf("loading recording items: %w", err)
	}

	return models.VoiceContext{
		Recording:    *rec,
		RecentNotes:  notes,
		Transcript:   rec.Transcription,
		ItemsSummary: itemsSummary(items),
	}, nil
}

func itemsSummary(items storage.RecordingItems) string {
	if len(items.Tasks)+len(items.Reminders)+len(items.HealthNotes) == 0 {
		return ""
	}
	return fmt.Sprintf("%d tasks, %d reminders, %d health notes", len(items.Tasks), len(items.Reminders), len(items.HealthNotes))
}
