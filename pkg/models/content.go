package models

// UserContext is what the content generator knows about the user.
type UserContext struct {
	Profile   UserProfile `json:"profile"`
	OpenTasks []Task      `json:"openTasks"`
}

// VoiceContext is the voice note being expanded plus the user's recent ones.
type VoiceContext struct {
	Recording    VoiceRecording   `json:"recording"`
	RecentNotes  []VoiceRecording `json:"recentNotes"`
	Transcript   string           `json:"transcript"`
	ItemsSummary string           `json:"itemsSummary"`
}

type ContentRequest struct {
	ContentType    string `json:"contentType"`
	Description    string `json:"description"`
	TargetPlatform string `json:"targetPlatform,omitempty"`
	SuggestedTitle string `json:"suggestedTitle,omitempty"`
}

type GeneratedContent struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	PreviewText string   `json:"previewText"`
	Tags        []string `json:"tags"`
	Language    string   `json:"language"`
}
