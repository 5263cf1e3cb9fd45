package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/config"
	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/pipeline"
	"voicenote-processor/pkg/storage"
	"voicenote-processor/pkg/transcribe"
)

type stubAgent struct {
	args string
}

func (s *stubAgent) Run(_ context.Context, req agent.Request) (agent.Response, error) {
	if len(req.Tools) > 0 {
		return agent.Response{ToolCalls: []agent.ToolCall{{Name: pipeline.ExtractionToolName, Arguments: json.RawMessage(s.args)}}}, nil
	}
	return agent.Response{Text: `{"cleanedTranscription":"Clean.","summary":"Short."}`}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, transcribe.AudioRef, string) (transcribe.Result, error) {
	return transcribe.Result{Text: "buy milk", Language: "en", DurationSeconds: 3}, nil
}

type testServer struct {
	*httptest.Server
	recordings *storage.MemoryStore
	sql        *storage.SQLStore
	hub        *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sql, err := storage.NewSQLStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	recordings := storage.NewMemoryStore()
	hub := NewHub()

	cfg := config.Default().Pipeline
	cfg.ContentBudget = time.Second
	manager := pipeline.NewManager(cfg, pipeline.Deps{
		Recordings:  recordings,
		Items:       sql,
		Profiles:    sql,
		Documents:   sql,
		Transcriber: stubTranscriber{},
		Agent: &stubAgent{args: `{"tasks":[{"title":"Buy milk","priority":"high"}],"reminders":[
			{"title":"Call mom","reminderTime":"2024-01-11T15:00:00"}],"healthNotes":[],"summary":"Errands"}`},
		Status:      hub,
		Notifier:    hub,
		DeadLetters: recordings,
	})
	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)

	h := NewHandlers(manager, recordings, sql, hub, map[string]string{"tok-1": "u1", "tok-2": "u2"})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		manager.Stop()
		cancel()
		sql.Close()
	})
	return &testServer{Server: srv, recordings: recordings, sql: sql, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token, contentType string, body []byte) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %s %s response: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (s *testServer) postJSON(t *testing.T, path, token, body string) (int, map[string]any) {
	return s.do(t, "POST", path, token, "application/json", []byte(body))
}

func (s *testServer) seed(t *testing.T, id, userID, audioURL string) {
	t.Helper()
	rec := models.NewVoiceRecording(userID, audioURL, 0)
	rec.ID = id
	if err := s.recordings.CreateRecording(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	for _, token := range []string{"", "wrong"} {
		status, body := s.postJSON(t, "/voice/process", token, `{"transcription":"x"}`)
		if status != http.StatusUnauthorized || body["success"] != false {
			t.Errorf("token %q: status=%d body=%v", token, status, body)
		}
	}
}

func TestVoiceErrors(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "theirs", "u2", "https://cdn.example.com/a.webm")
	s.seed(t, "pending", "u1", "")

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		status      int
		message     string
	}{
		{"missing input", "/voice/process", "application/json", `{}`, 400,
			"Either transcription (for transcription mode) or audioUrl/audioBase64 (for audio mode) is required"},
		{"foreign recording", "/voice/preview", "application/json", `{"sourceRecordingId":"theirs"}`, 404,
			"Recording not found or access denied"},
		{"audio not uploaded", "/voice/preview", "application/json", `{"sourceRecordingId":"pending"}`, 404,
			"Recording audio not yet uploaded"},
		{"unsupported content type", "/voice/process", "text/plain", `hello`, 400,
			"Content-Type must be multipart/form-data or application/json"},
		{"malformed json", "/voice/process", "application/json", `{"transcription":`, 400, "Invalid JSON body"},
		{"execute needs transcript", "/voice/execute", "application/json", `{"audioUrl":"https://cdn.example.com/a.wav"}`, 400,
			"transcription is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, "POST", tt.path, "tok-1", tt.contentType, []byte(tt.body))
			if status != tt.status {
				t.Errorf("status = %d, want %d (%v)", status, tt.status, body)
			}
			if body["error"] != tt.message || body["success"] != false {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "rec2", "u1", "")

	status, body := s.postJSON(t, "/voice/execute", "tok-1", `{"recordingId":"rec2","transcription":"buy milk and call mom","aiSummary":"Mine"}`)
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("status=%d body=%v", status, body)
	}
	saved := body["saved"].(map[string]any)
	if saved["tasks"] != float64(1) || saved["reminders"] != float64(1) || saved["healthNotes"] != float64(0) {
		t.Errorf("saved = %v", saved)
	}
	if body["aiSummary"] != "Mine" {
		t.Errorf("aiSummary = %v", body["aiSummary"])
	}
	if gc, ok := body["generatedContent"].([]any); !ok || len(gc) != 0 {
		t.Errorf("generatedContent = %v", body["generatedContent"])
	}

	status, body = s.do(t, "GET", "/recordings/rec2", "tok-1", "", nil)
	if status != http.StatusOK {
		t.Fatalf("GET recording status=%d", status)
	}
	rec := body["recording"].(map[string]any)
	if rec["status"] != "completed" || rec["aiSummary"] != "Mine" {
		t.Errorf("recording = %v", rec)
	}
	items := body["items"].(map[string]any)
	if len(items["tasks"].([]any)) != 1 {
		t.Errorf("items = %v", items)
	}

	if status, _ := s.do(t, "GET", "/recordings/rec2", "tok-2", "", nil); status != http.StatusNotFound {
		t.Errorf("other user status = %d, want 404", status)
	}
}

func TestPreviewMultipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "memo.m4a")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("fake-audio"))
	mw.Close()

	status, body := s.do(t, "POST", "/voice/preview", "tok-1", mw.FormDataContentType(), buf.Bytes())
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%v", status, body)
	}
	if body["transcription"] != "Clean." || body["aiSummary"] != "Short." || body["language"] != "en" || body["duration"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

func TestRecordingsAndProfile(t *testing.T) {
	s := newTestServer(t)

	status, body := s.postJSON(t, "/recordings", "tok-1", `{"audioUrl":"https://cdn.example.com/x.webm","durationSeconds":4}`)
	if status != http.StatusCreated {
		t.Fatalf("create status=%d body=%v", status, body)
	}
	rec := body["recording"].(map[string]any)
	if rec["status"] != "pending" || rec["userId"] != "u1" {
		t.Errorf("recording = %v", rec)
	}
	s.postJSON(t, "/recordings", "tok-1", `{}`)
	s.postJSON(t, "/recordings", "tok-2", `{}`)

	_, body = s.do(t, "GET", "/recordings?limit=1", "tok-1", "", nil)
	if body["count"] != float64(1) {
		t.Errorf("limited list = %v", body)
	}
	_, body = s.do(t, "GET", "/recordings", "tok-1", "", nil)
	if body["count"] != float64(2) {
		t.Errorf("list = %v", body)
	}

	_, body = s.do(t, "GET", "/profile", "tok-1", "", nil)
	if p := body["profile"].(map[string]any); p["timezone"] != "UTC" || p["language"] != "en" {
		t.Errorf("default profile = %v", p)
	}

	status, _ = s.do(t, "PUT", "/profile", "tok-1", "application/json", []byte(`{"timezone":"Nowhere/City"}`))
	if status != http.StatusBadRequest {
		t.Errorf("invalid timezone status = %d", status)
	}
	status, body = s.do(t, "PUT", "/profile", "tok-1", "application/json", []byte(`{"timezone":"Europe/Madrid","language":"es","displayName":"Ana"}`))
	if status != http.StatusOK {
		t.Fatalf("put profile status=%d body=%v", status, body)
	}
	_, body = s.do(t, "GET", "/profile", "tok-1", "", nil)
	if p := body["profile"].(map[string]any); p["timezone"] != "Europe/Madrid" || p["language"] != "es" || p["displayName"] != "Ana" {
		t.Errorf("profile = %v", p)
	}
}

func TestWebSocketNotifications(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=tok-1"

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws?token=bad", nil); err == nil {
		t.Fatal("dial with bad token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token response = %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(WebSocketMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	var msg WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "pong" {
		t.Fatalf("ping reply = %+v, %v", msg, err)
	}

	if err := s.hub.Notify(context.Background(), "u1", "doc1", "Trip notes", "blog_post"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "content_ready" || msg.DocumentID != "doc1" || msg.Title != "Trip notes" || msg.ContentType != "blog_post" {
		t.Errorf("notification = %+v", msg)
	}

	if err := s.hub.Notify(context.Background(), "nobody", "doc2", "x", "email"); err != nil {
		t.Errorf("notify without subscribers: %v", err)
	}

	s.hub.RecordingStatusChanged(context.Background(), "u1", "rec9", models.StatusCompleted)
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "recording_status" || msg.RecordingID != "rec9" || msg.Status != "completed" {
		t.Errorf("status event = %+v", msg)
	}
}
