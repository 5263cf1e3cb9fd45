package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/text/language"

	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/pipeline"
	"voicenote-processor/pkg/storage"
)

const (
	maxMultipartMemory = 32 << 20
	maxJSONBody        = 40 << 20
	defaultListLimit   = 50
)

// Processor runs the voice note stages.
type Processor interface {
	Preview(ctx context.Context, userID string, raw pipeline.RawInput) (*pipeline.PreviewResponse, error)
	Process(ctx context.Context, userID string, raw pipeline.RawInput, opts pipeline.ProcessOptions) (*pipeline.ProcessResponse, error)
}

// Store is what the read endpoints need beyond recordings.
type Store interface {
	GetProfile(ctx context.Context, userID string) (models.UserProfile, error)
	PutProfile(ctx context.Context, p models.UserProfile) error
	ItemsForRecording(ctx context.Context, userID, recordingID string) (storage.RecordingItems, error)
	DocumentsForRecording(ctx context.Context, userID, recordingID string) ([]models.GeneratedContentDocument, error)
}

type Handlers struct {
	pipeline   Processor
	recordings storage.RecordingStore
	store      Store
	hub        *Hub
	tokens     map[string]string
}

func NewHandlers(p Processor, recordings storage.RecordingStore, store Store, hub *Hub, tokens map[string]string) *Handlers {
	return &Handlers{
		pipeline:   p,
		recordings: recordings,
		store:      store,
		hub:        hub,
		tokens:     tokens,
	}
}

func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.authenticate)

	router.HandleFunc("/voice/preview", h.PreviewHandler).Methods("POST")
	router.HandleFunc("/voice/process", h.ProcessHandler).Methods("POST")
	router.HandleFunc("/voice/execute", h.ExecuteHandler).Methods("POST")
	router.HandleFunc("/recordings", h.CreateRecordingHandler).Methods("POST")
	router.HandleFunc("/recordings", h.ListRecordingsHandler).Methods("GET")
	router.HandleFunc("/recordings/{id}", h.GetRecordingHandler).Methods("GET")
	router.HandleFunc("/profile", h.GetProfileHandler).Methods("GET")
	router.HandleFunc("/profile", h.PutProfileHandler).Methods("PUT")
	router.HandleFunc("/ws", h.WebSocketHandler)
	return router
}

type userKey struct{}

// authenticate maps the bearer token to a user id. Websocket upgrades may
// pass the token as ?token= since browsers cannot set headers on them.
func (h *Handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			token = r.URL.Query().Get("token")
		}
		userID, ok := h.tokens[token]
		if token == "" || !ok {
			writeError(w, pipeline.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func (h *Handlers) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	raw, ok := decodeRawInput(w, r)
	if !ok {
		return
	}
	resp, err := h.pipeline.Preview(r.Context(), userFrom(r), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, pipeline.ProcessOptions{})
}

// ExecuteHandler processes a transcript the user already confirmed.
func (h *Handlers) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, pipeline.ProcessOptions{TranscriptOnly: true})
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request, opts pipeline.ProcessOptions) {
	raw, ok := decodeRawInput(w, r)
	if !ok {
		return
	}
	resp, err := h.pipeline.Process(r.Context(), userFrom(r), raw, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeRawInput reads multipart or JSON bodies. Other content types pass
// through with their kind so the normalizer can reject them.
func decodeRawInput(w http.ResponseWriter, r *http.Request) (pipeline.RawInput, bool) {
	kind, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	raw := pipeline.RawInput{ContentKind: kind}

	switch kind {
	case pipeline.KindMultipart:
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeMessage(w, http.StatusBadRequest, "Failed to parse form")
			return raw, false
		}
		raw.AudioURL = r.FormValue("audioUrl")
		raw.AudioBase64 = r.FormValue("audioBase64")
		raw.MimeType = r.FormValue("mimeType")
		raw.SourceRecordingID = r.FormValue("sourceRecordingId")
		raw.RecordingID = r.FormValue("recordingId")
		raw.Transcription = r.FormValue("transcription")
		raw.AISummary = r.FormValue("aiSummary")

		if file, header, err := r.FormFile("audio"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "Failed to read audio file")
				return raw, false
			}
			raw.AudioFile = data
			raw.AudioFileName = header.Filename
			raw.AudioFileType = header.Header.Get("Content-Type")
		}

	case pipeline.KindJSON:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
			return raw, false
		}
		raw.ContentKind = kind
	}
	return raw, true
}

type createRecordingRequest struct {
	AudioURL        string  `json:"audioUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
}

func (h *Handlers) CreateRecordingHandler(w http.ResponseWriter, r *http.Request) {
	var req createRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.DurationSeconds < 0 {
		writeMessage(w, http.StatusBadRequest, "durationSeconds must not be negative")
		return
	}

	rec := models.NewVoiceRecording(userFrom(r), strings.TrimSpace(req.AudioURL), req.DurationSeconds)
	if err := h.recordings.CreateRecording(r.Context(), rec); err != nil {
		log.Printf("API: failed to create recording for user %s: %v", rec.UserID, err)
		writeError(w, err)
		return
	}

	log.Printf("API: recording created id=%s user=%s", rec.ID, rec.UserID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "recording": rec})
}

func (h *Handlers) GetRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := userFrom(r)

	rec, err := h.recordings.GetRecording(r.Context(), id)
	if errors.Is(err, storage.ErrRecordingNotFound) || (err == nil && rec.UserID != userID) {
		writeError(w, pipeline.ErrRecordingNotFound)
		return
	}
	if err != nil {
		log.Printf("API: failed to load recording %s: %v", id, err)
		writeError(w, err)
		return
	}

	items, err := h.store.ItemsForRecording(r.Context(), userID, id)
	if err != nil {
		log.Printf("API: failed to load items for recording %s: %v", id, err)
		writeError(w, err)
		return
	}
	docs, err := h.store.DocumentsForRecording(r.Context(), userID, id)
	if err != nil {
		log.Printf("API: failed to load documents for recording %s: %v", id, err)
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []models.GeneratedContentDocument{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"recording":        rec,
		"items":            items,
		"generatedContent": docs,
	})
}

func (h *Handlers) ListRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	recs, err := h.recordings.ListRecordings(r.Context(), userFrom(r), limit)
	if err != nil {
		log.Printf("API: failed to list recordings: %v", err)
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.VoiceRecording{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "recordings": recs, "count": len(recs)})
}

func (h *Handlers) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProfile(r.Context(), userFrom(r))
	if err != nil {
		log.Printf("API: failed to load profile: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": p})
}

func (h *Handlers) PutProfileHandler(w http.ResponseWriter, r *http.Request) {
	var p models.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	p.UserID = userFrom(r)

	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		writeMessage(w, http.StatusBadRequest, "Unknown timezone "+strconv.Quote(p.Timezone))
		return
	}
	if p.Language == "" {
		p.Language = "en"
	}
	tag, err := language.Parse(p.Language)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Unknown language "+strconv.Quote(p.Language))
		return
	}
	p.Language = tag.String()

	if err := h.store.PutProfile(r.Context(), p); err != nil {
		log.Printf("API: failed to save profile for user %s: %v", p.UserID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": p})
}

func statusFor(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.KindAuth:
		return http.StatusUnauthorized
	case pipeline.KindValidation:
		return http.StatusBadRequest
	case pipeline.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("API: request failed: %v", err)
	}
	writeMessage(w, status, pipeline.PublicMessage(err))
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}
