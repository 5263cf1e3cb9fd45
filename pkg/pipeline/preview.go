package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/storage"
)

// FallbackPreviewSummary is shown when summarisation produced nothing.
const FallbackPreviewSummary = "Voice note recorded."

const previewSystemPrompt = `You clean up voice note transcripts. Remove filler words, false starts and repetitions,
fix punctuation and obvious mis-transcriptions, and keep the speaker's wording and language. Then write a short
summary (one to three sentences, no preamble) in the same language.

Reply with a JSON object: {"cleanedTranscription": "...", "summary": "..."}`

type PreviewResult struct {
	CleanedTranscription string `json:"transcription"`
	AISummary            string `json:"aiSummary"`
}

// Previewer produces the cleaned transcript and summary shown before the user
// confirms. It never extracts or saves items.
type Previewer struct {
	agent      agent.Agent
	recordings storage.RecordingStore
}

func NewPreviewer(a agent.Agent, recordings storage.RecordingStore) *Previewer {
	return &Previewer{agent: a, recordings: recordings}
}

func (p *Previewer) Preview(ctx context.Context, transcript string, tc TemporalContext) PreviewResult {
	prompt := fmt.Sprintf("Language: %s\n\nTranscript:\n---\n%s\n---", tc.LanguageName, transcript)

	var out struct {
		CleanedTranscription string `json:"cleanedTranscription"`
		Summary              string `json:"summary"`
	}
	text, err := agent.Complete(ctx, p.agent, previewSystemPrompt, prompt, true)
	if err != nil {
		log.Printf("Preview Generator: cleanup failed: %v", err)
	} else if err := json.Unmarshal([]byte(text), &out); err != nil {
		log.Printf("Preview Generator: unparseable reply: %v", err)
	}

	return PreviewResult{
		CleanedTranscription: firstNonEmpty(out.CleanedTranscription, transcript, FallbackPreviewSummary),
		AISummary:            firstNonEmpty(out.Summary, FallbackPreviewSummary),
	}
}

// Save optimistically records the preview on the recording. Failures are
// logged; the preview has already been computed for the caller.
func (p *Previewer) Save(ctx context.Context, recordingID string, res PreviewResult, language string, duration float64) {
	if recordingID == "" {
		return
	}
	update := models.RecordingUpdate{
		Expected:      []models.RecordingStatus{models.StatusPending, models.StatusProcessing},
		Status:        models.StatusProcessing,
		Transcription: &res.CleanedTranscription,
		AISummary:     &res.AISummary,
	}
	if language = strings.TrimSpace(language); language != "" {
		update.Language = &language
	}
	if duration > 0 {
		update.Duration = &duration
	}
	if _, err := p.recordings.UpdateRecording(ctx, recordingID, update); err != nil {
		log.Printf("Preview Generator: failed to save preview on recording %s: %v", recordingID, err)
	}
}
