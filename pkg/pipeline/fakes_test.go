package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/transcribe"
)

// marshalArguments encodes v the way some providers send tool arguments: as a
// JSON string holding a JSON object.
func marshalArguments(t *testing.T, v any) json.RawMessage {
	t.Helper()
	obj, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal arguments: %v", err)
	}
	quoted, err := json.Marshal(string(obj))
	if err != nil {
		t.Fatalf("quote arguments: %v", err)
	}
	return quoted
}

func objectArguments(t *testing.T, v any) json.RawMessage {
	t.Helper()
	obj, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal arguments: %v", err)
	}
	return obj
}

// fakeAgent answers tool requests with toolResp and plain completions with
// text.
type fakeAgent struct {
	mu       sync.Mutex
	toolResp agent.Response
	toolErr  error
	text     string
	textErr  error
	requests []agent.Request
}

func (f *fakeAgent) Run(_ context.Context, req agent.Request) (agent.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(req.Tools) > 0 {
		return f.toolResp, f.toolErr
	}
	return agent.Response{Text: f.text}, f.textErr
}

func (f *fakeAgent) toolCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if len(r.Tools) > 0 {
			n++
		}
	}
	return n
}

type fakeTranscriber struct {
	result transcribe.Result
	err    error
	calls  int
	audio  transcribe.AudioRef
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio transcribe.AudioRef, _ string) (transcribe.Result, error) {
	f.calls++
	f.audio = audio
	return f.result, f.err
}

// fakeItemStore fails creates whose title is listed in failTitles.
type fakeItemStore struct {
	mu          sync.Mutex
	failTitles  map[string]bool
	tasks       []models.Task
	reminders   []models.Reminder
	healthNotes []models.HealthNote
	panicOnTask bool
}

var errFakeWrite = errors.New("write rejected")

func (f *fakeItemStore) CreateTask(_ context.Context, _ string, t models.Task) (string, error) {
	if f.panicOnTask {
		panic("task store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitles[t.Title] {
		return "", errFakeWrite
	}
	f.tasks = append(f.tasks, t)
	return models.NewID(), nil
}

func (f *fakeItemStore) CreateReminder(_ context.Context, _ string, r models.Reminder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitles[r.Title] {
		return "", errFakeWrite
	}
	f.reminders = append(f.reminders, r)
	return models.NewID(), nil
}

func (f *fakeItemStore) CreateHealthNote(_ context.Context, _ string, n models.HealthNote) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitles[n.Content] {
		return "", errFakeWrite
	}
	f.healthNotes = append(f.healthNotes, n)
	return models.NewID(), nil
}

type fakeLoader struct {
	userErr error
}

func (f *fakeLoader) UserContext(_ context.Context, userID string) (models.UserContext, error) {
	if f.userErr != nil {
		return models.UserContext{}, f.userErr
	}
	return models.UserContext{Profile: models.DefaultProfile(userID)}, nil
}

func (f *fakeLoader) VoiceContext(_ context.Context, userID, recordingID string) (models.VoiceContext, error) {
	return models.VoiceContext{Recording: models.VoiceRecording{ID: recordingID, UserID: userID}}, nil
}

// fakeGenerator fails the first failures calls for each content type listed.
type fakeGenerator struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []models.ContentRequest
}

func (f *fakeGenerator) Generate(_ context.Context, _ models.UserContext, _ models.VoiceContext, req models.ContentRequest) (models.GeneratedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.failures[req.ContentType] > 0 {
		f.failures[req.ContentType]--
		return models.GeneratedContent{}, errors.New("generator unavailable")
	}
	return models.GeneratedContent{
		Title:       "About " + req.Description,
		Content:     "Body for " + req.Description,
		PreviewText: "Body",
		Tags:        []string{req.ContentType},
		Language:    "en",
	}, nil
}

func (f *fakeGenerator) requested() []models.ContentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ContentRequest(nil), f.calls...)
}

type fakeDocuments struct {
	mu   sync.Mutex
	docs []models.GeneratedContentDocument
}

func (f *fakeDocuments) SaveGeneratedContent(_ context.Context, doc *models.GeneratedContentDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, *doc)
	return doc.DocumentID, nil
}

type notification struct {
	UserID, DocumentID, Title, ContentType string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	done chan struct{}
}

func newFakeNotifier(buffer int) *fakeNotifier {
	return &fakeNotifier{done: make(chan struct{}, buffer)}
}

func (f *fakeNotifier) Notify(_ context.Context, userID, documentID, title, contentType string) error {
	f.mu.Lock()
	f.sent = append(f.sent, notification{userID, documentID, title, contentType})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

// syncQueue runs jobs inline.
type syncQueue struct {
	jobs []string
}

func (q *syncQueue) Submit(job Job) error {
	q.jobs = append(q.jobs, job.Name)
	return job.Run(context.Background())
}

type statusEvent struct {
	UserID, RecordingID string
	Status              models.RecordingStatus
}

type fakePublisher struct {
	mu     sync.Mutex
	events []statusEvent
}

func (f *fakePublisher) RecordingStatusChanged(_ context.Context, userID, recordingID string, status models.RecordingStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, statusEvent{userID, recordingID, status})
}
