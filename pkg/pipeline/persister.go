package pipeline

import (
	"context"
	"log"

	"voicenote-processor/pkg/models"
)

// ItemStore persists extracted items. Each create is independent.
type ItemStore interface {
	CreateTask(ctx context.Context, userID string, t models.Task) (string, error)
	CreateReminder(ctx context.Context, userID string, r models.Reminder) (string, error)
	CreateHealthNote(ctx context.Context, userID string, n models.HealthNote) (string, error)
}

type SavedItems struct {
	Tasks       []models.SavedRecord `json:"tasks"`
	Reminders   []models.SavedRecord `json:"reminders"`
	HealthNotes []models.SavedRecord `json:"healthNotes"`
}

func (s SavedItems) Counts() SavedCounts {
	return SavedCounts{Tasks: len(s.Tasks), Reminders: len(s.Reminders), HealthNotes: len(s.HealthNotes)}
}

type SavedCounts struct {
	Tasks       int `json:"tasks"`
	Reminders   int `json:"reminders"`
	HealthNotes int `json:"healthNotes"`
}

// Outcome is the result of persisting one item.
type Outcome[R any] struct {
	Value R
	Label string
	Err   error
}

// applyEach runs fn over every item and reports each result separately; one
// failure does not stop the rest.
func applyEach[T, R any](items []T, label func(T) string, fn func(T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], 0, len(items))
	for _, it := range items {
		v, err := fn(it)
		out = append(out, Outcome[R]{Value: v, Label: label(it), Err: err})
	}
	return out
}

// succeeded keeps the values of outcomes without error and logs the rest.
func succeeded[R any](kind, userID, recordingID string, outcomes []Outcome[R]) []R {
	vals := make([]R, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			log.Printf("Item Persister: failed to save %s %q user=%s recording=%s: %v", kind, o.Label, userID, recordingID, o.Err)
			continue
		}
		vals = append(vals, o.Value)
	}
	return vals
}

type Persister struct {
	store ItemStore
}

func NewPersister(store ItemStore) *Persister {
	return &Persister{store: store}
}

// Persist saves every extracted task, reminder and health note. There is no
// rollback: whatever was written stays written.
func (p *Persister) Persist(ctx context.Context, items models.ExtractedItems, userID, recordingID string) SavedItems {
	tasks := applyEach(items.Tasks, func(t models.Task) string { return t.Title },
		func(t models.Task) (models.SavedRecord, error) {
			t.SourceRecordingID = recordingID
			id, err := p.store.CreateTask(ctx, userID, t)
			return models.SavedRecord{ID: id, Title: t.Title, Priority: t.Priority, DueDate: t.DueDate, DueTime: t.DueTime}, err
		})

	reminders := applyEach(items.Reminders, func(r models.Reminder) string { return r.Title },
		func(r models.Reminder) (models.SavedRecord, error) {
			r.SourceRecordingID = recordingID
			id, err := p.store.CreateReminder(ctx, userID, r)
			return models.SavedRecord{ID: id, Title: r.Title, Priority: r.Priority, ReminderTime: r.ReminderTime}, err
		})

	notes := applyEach(items.HealthNotes, func(n models.HealthNote) string { return n.Content },
		func(n models.HealthNote) (models.SavedRecord, error) {
			n.SourceRecordingID = recordingID
			id, err := p.store.CreateHealthNote(ctx, userID, n)
			return models.SavedRecord{ID: id, Title: n.Content, Category: n.Category}, err
		})

	saved := SavedItems{
		Tasks:       succeeded("task", userID, recordingID, tasks),
		Reminders:   succeeded("reminder", userID, recordingID, reminders),
		HealthNotes: succeeded("health note", userID, recordingID, notes),
	}
	log.Printf("Item Persister: saved tasks=%d/%d reminders=%d/%d healthNotes=%d/%d recording=%s",
		len(saved.Tasks), len(items.Tasks), len(saved.Reminders), len(items.Reminders),
		len(saved.HealthNotes), len(items.HealthNotes), recordingID)
	return saved
}
