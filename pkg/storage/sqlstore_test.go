package storage

import (
	"context"
	"testing"

	"voicenote-processor/pkg/models"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreItemsForRecording(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, "u1", models.Task{
		Title: "Buy milk", Priority: models.PriorityHigh, DueDate: "2024-01-11", DueTime: "17:00",
		Tags: []string{"errands"}, SourceRecordingID: "rec1",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := s.CreateReminder(ctx, "u1", models.Reminder{
		Title: "Call mom", ReminderTime: "2024-01-11T15:00:00", Priority: models.PriorityMedium,
		Type: models.ReminderTypeReminder, SourceRecordingID: "rec1",
	}); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if _, err := s.CreateHealthNote(ctx, "u1", models.HealthNote{
		Content: "Slept 6 hours", Category: "sleep", SourceRecordingID: "rec1",
	}); err != nil {
		t.Fatalf("create health note: %v", err)
	}
	if _, err := s.CreateTask(ctx, "u2", models.Task{Title: "Other user", Priority: models.PriorityLow, SourceRecordingID: "rec1"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	items, err := s.ItemsForRecording(ctx, "u1", "rec1")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items.Tasks) != 1 || items.Tasks[0].Title != "Buy milk" {
		t.Fatalf("unexpected tasks: %+v", items.Tasks)
	}
	if items.Tasks[0].Tags[0] != "errands" || items.Tasks[0].DueTime != "17:00" {
		t.Errorf("task fields not round-tripped: %+v", items.Tasks[0])
	}
	if len(items.Reminders) != 1 || items.Reminders[0].ReminderTime != "2024-01-11T15:00:00" {
		t.Errorf("unexpected reminders: %+v", items.Reminders)
	}
	if len(items.HealthNotes) != 1 || items.HealthNotes[0].Category != "sleep" {
		t.Errorf("unexpected health notes: %+v", items.HealthNotes)
	}
}

func TestSQLStoreOpenTasksLimit(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		if _, err := s.CreateTask(ctx, "u1", models.Task{Title: title, Priority: models.PriorityMedium}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	tasks, err := s.OpenTasks(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("open tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Title != "three" {
		t.Errorf("expected newest first, got %q", tasks[0].Title)
	}
}

func TestSQLStoreDocuments(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	doc := &models.GeneratedContentDocument{
		UserID:             "u1",
		Title:              "Weekly plan",
		ContentType:        "blog_post",
		Content:            "# Plan",
		PreviewText:        "Plan",
		GenerationType:     models.GenerationExplicit,
		SourceVoiceNoteIDs: []string{"rec9"},
		Status:             models.DocumentReady,
	}
	id, err := s.SaveGeneratedContent(ctx, doc)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id == "" || doc.DocumentID != id {
		t.Fatalf("expected assigned document id, got %q", id)
	}

	docs, err := s.DocumentsForRecording(ctx, "u1", "rec9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "Weekly plan" || docs[0].GenerationType != models.GenerationExplicit {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	if other, _ := s.DocumentsForRecording(ctx, "u1", "rec-other"); len(other) != 0 {
		t.Errorf("expected no documents for unrelated recording")
	}
}

func TestSQLStoreProfileDefaultsAndUpsert(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	p, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Timezone != "UTC" || p.Language != "en" {
		t.Errorf("expected default profile, got %+v", p)
	}

	if err := s.PutProfile(ctx, models.UserProfile{UserID: "u1", Timezone: "Europe/Madrid", Language: "es"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutProfile(ctx, models.UserProfile{UserID: "u1", Timezone: "America/New_York", Language: "es"}); err != nil {
		t.Fatalf("put again: %v", err)
	}
	p, err = s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Timezone != "America/New_York" || p.Language != "es" {
		t.Errorf("unexpected profile after upsert: %+v", p)
	}
}
