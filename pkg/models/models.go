package models

import (
	"time"

	"github.com/google/uuid"
)

type VoiceRecording struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	AudioURL        string          `json:"audioUrl,omitempty"`
	Transcription   string          `json:"transcription,omitempty"`
	AISummary       string          `json:"aiSummary,omitempty"`
	Language        string          `json:"language,omitempty"`
	Status          RecordingStatus `json:"status"`
	DurationSeconds float64         `json:"durationSeconds"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type RecordingStatus string

const (
	StatusPending    RecordingStatus = "pending"
	StatusProcessing RecordingStatus = "processing"
	StatusCompleted  RecordingStatus = "completed"
	StatusFailed     RecordingStatus = "failed"
)

// Terminal reports whether the status ends a pipeline run.
func (s RecordingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RecordingUpdate is a conditional write against a recording. The update is
// applied only when the stored status is one of Expected; nil text fields are
// left untouched.
type RecordingUpdate struct {
	Expected      []RecordingStatus
	Status        RecordingStatus
	Transcription *string
	AISummary     *string
	Language      *string
	Duration      *float64
}

// Allows reports whether the update may be applied on top of current.
func (u RecordingUpdate) Allows(current RecordingStatus) bool {
	if len(u.Expected) == 0 {
		return true
	}
	for _, s := range u.Expected {
		if s == current {
			return true
		}
	}
	return false
}

// Apply copies the update's fields onto rec.
func (u RecordingUpdate) Apply(rec *VoiceRecording, now time.Time) {
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.Transcription != nil {
		rec.Transcription = *u.Transcription
	}
	if u.AISummary != nil {
		rec.AISummary = *u.AISummary
	}
	if u.Language != nil {
		rec.Language = *u.Language
	}
	if u.Duration != nil {
		rec.DurationSeconds = *u.Duration
	}
	rec.UpdatedAt = now
}

type UserProfile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Timezone    string `json:"timezone"`
	Language    string `json:"language"`
}

// DefaultProfile is used when a user never stored preferences.
func DefaultProfile(userID string) UserProfile {
	return UserProfile{UserID: userID, Timezone: "UTC", Language: "en"}
}

type GeneratedContentDocument struct {
	DocumentID         string         `json:"documentId"`
	UserID             string         `json:"-"`
	Title              string         `json:"title"`
	ContentType        string         `json:"contentType"`
	PreviewText        string         `json:"previewText"`
	Content            string         `json:"-"`
	Tags               []string       `json:"tags,omitempty"`
	Language           string         `json:"language,omitempty"`
	GenerationType     GenerationType `json:"generationType"`
	SourceVoiceNoteIDs []string       `json:"sourceVoiceNoteIds"`
	Status             DocumentStatus `json:"status"`
	CreatedAt          time.Time      `json:"createdAt"`
}

type DocumentStatus string

const DocumentReady DocumentStatus = "ready"

type GenerationType string

const (
	GenerationExplicit  GenerationType = "explicit"
	GenerationProactive GenerationType = "proactive"
)

func NewVoiceRecording(userID, audioURL string, duration float64) *VoiceRecording {
	now := time.Now().UTC()
	return &VoiceRecording{
		ID:              uuid.New().String(),
		UserID:          userID,
		AudioURL:        audioURL,
		Status:          StatusPending,
		DurationSeconds: duration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func NewID() string {
	return uuid.New().String()
}
