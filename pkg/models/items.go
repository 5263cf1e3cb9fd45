package models

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps free-form model output onto a known priority, falling
// back to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	}
	return PriorityMedium
}

type ReminderType string

const (
	ReminderTypeTask     ReminderType = "task"
	ReminderTypeTodo     ReminderType = "todo"
	ReminderTypeReminder ReminderType = "reminder"
)

func ParseReminderType(s string) ReminderType {
	switch ReminderType(s) {
	case ReminderTypeTask, ReminderTypeTodo, ReminderTypeReminder:
		return ReminderType(s)
	}
	return ReminderTypeReminder
}

// ExtractedItems is the in-memory result of extraction. Summary is never empty
// once it leaves the extractor.
type ExtractedItems struct {
	Tasks              []Task              `json:"tasks"`
	Reminders          []Reminder          `json:"reminders"`
	HealthNotes        []HealthNote        `json:"healthNotes"`
	GeneralNotes       []Note              `json:"generalNotes"`
	ContentPredictions []ContentPrediction `json:"contentPredictions"`
	Summary            string              `json:"summary"`
}

// EmptyItems returns a bundle with non-nil collections and the given summary.
func EmptyItems(summary string) ExtractedItems {
	return ExtractedItems{
		Tasks:              []Task{},
		Reminders:          []Reminder{},
		HealthNotes:        []HealthNote{},
		GeneralNotes:       []Note{},
		ContentPredictions: []ContentPrediction{},
		Summary:            summary,
	}
}

type Task struct {
	ID                string   `json:"id,omitempty"`
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Priority          Priority `json:"priority"`
	DueDate           string   `json:"dueDate,omitempty"`
	DueTime           string   `json:"dueTime,omitempty"`
	Category          string   `json:"category,omitempty"`
	Tags              []string `json:"tags"`
	SourceRecordingID string   `json:"sourceRecordingId,omitempty"`
}

type Reminder struct {
	ID                string       `json:"id,omitempty"`
	Title             string       `json:"title"`
	Description       string       `json:"description,omitempty"`
	ReminderTime      string       `json:"reminderTime"`
	IsRecurring       bool         `json:"isRecurring"`
	RecurrencePattern string       `json:"recurrencePattern,omitempty"`
	Priority          Priority     `json:"priority"`
	Type              ReminderType `json:"type"`
	Tags              []string     `json:"tags"`
	SourceRecordingID string       `json:"sourceRecordingId,omitempty"`
}

type HealthNote struct {
	ID                string   `json:"id,omitempty"`
	Content           string   `json:"content"`
	Category          string   `json:"category,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SourceRecordingID string   `json:"sourceRecordingId,omitempty"`
}

type Note struct {
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

type ContentPrediction struct {
	ContentType    string  `json:"contentType"`
	Description    string  `json:"description"`
	TargetPlatform string  `json:"targetPlatform,omitempty"`
	Confidence     float64 `json:"confidence"`
	SuggestedTitle string  `json:"suggestedTitle,omitempty"`
}

// SavedRecord is the minimal view of a persisted item returned to clients.
type SavedRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Priority     Priority `json:"priority,omitempty"`
	DueDate      string   `json:"dueDate,omitempty"`
	DueTime      string   `json:"dueTime,omitempty"`
	ReminderTime string   `json:"reminderTime,omitempty"`
	Category     string   `json:"category,omitempty"`
}
