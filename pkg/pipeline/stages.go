package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/transcribe"
)

type PreviewResponse struct {
	Success       bool    `json:"success"`
	Transcription string  `json:"transcription"`
	AISummary     string  `json:"aiSummary"`
	Language      string  `json:"language,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	RecordingID   string  `json:"recordingId,omitempty"`
}

type ProcessResponse struct {
	Success            bool                              `json:"success"`
	Transcription      string                            `json:"transcription"`
	AISummary          string                            `json:"aiSummary"`
	Language           string                            `json:"language,omitempty"`
	Duration           float64                           `json:"duration,omitempty"`
	RecordingID        string                            `json:"recordingId,omitempty"`
	Items              models.ExtractedItems             `json:"items"`
	Saved              SavedCounts                       `json:"saved"`
	SavedItems         SavedItems                        `json:"savedItems"`
	ContentPredictions int                               `json:"contentPredictions"`
	GeneratedContent   []models.GeneratedContentDocument `json:"generatedContent"`
}

type ProcessOptions struct {
	// TranscriptOnly rejects audio input.
	TranscriptOnly bool
}

// Preview transcribes audio and returns a cleaned transcript and summary. No
// items are extracted or saved.
func (m *Manager) Preview(ctx context.Context, userID string, raw RawInput) (resp *PreviewResponse, err error) {
	in, err := m.normalizer.Normalize(ctx, userID, raw)
	if err != nil {
		return nil, err
	}
	if in.Mode != ModeAudio {
		return nil, validationError("Preview requires audio input (audioUrl, audioBase64, an audio file or sourceRecordingId)")
	}

	// the run completes even if the client goes away
	ctx = context.WithoutCancel(ctx)
	defer m.recoverRun(ctx, "preview", userID, in.RecordingID, &err, nil)

	log.Printf("Pipeline Manager: preview started user=%s recording=%s", userID, in.RecordingID)
	tc := NewTemporalContext(m.now(), m.profile(ctx, userID))

	res, err := m.transcribe(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	pr := m.previewer.Preview(ctx, res.Text, tc)
	m.previewer.Save(ctx, in.RecordingID, pr, res.Language, res.DurationSeconds)

	return &PreviewResponse{
		Success:       true,
		Transcription: pr.CleanedTranscription,
		AISummary:     pr.AISummary,
		Language:      res.Language,
		Duration:      res.DurationSeconds,
		RecordingID:   in.RecordingID,
	}, nil
}

// Process runs extraction and persistence and marks the recording terminal.
// Content is generated only for confirmed transcripts.
func (m *Manager) Process(ctx context.Context, userID string, raw RawInput, opts ProcessOptions) (resp *ProcessResponse, err error) {
	in, err := m.normalizer.Normalize(ctx, userID, raw)
	if err != nil {
		return nil, err
	}
	if opts.TranscriptOnly && in.Mode != ModeTranscript {
		return nil, validationError("transcription is required")
	}

	ctx = context.WithoutCancel(ctx)
	finalized := false
	defer m.recoverRun(ctx, "process", userID, in.RecordingID, &err, &finalized)

	log.Printf("Pipeline Manager: process started mode=%s user=%s recording=%s", in.Mode, userID, in.RecordingID)
	profile := m.profile(ctx, userID)
	tc := NewTemporalContext(m.now(), profile)

	out := &ProcessResponse{Success: true, RecordingID: in.RecordingID, GeneratedContent: []models.GeneratedContentDocument{}}
	transcript := in.Transcript
	if in.Mode == ModeAudio {
		res, err := m.transcribe(ctx, userID, in)
		if err != nil {
			finalized = true
			return nil, err
		}
		transcript = res.Text
		out.Language = res.Language
		out.Duration = res.DurationSeconds
	}

	items := m.extractor.Extract(ctx, transcript, tc, ExtractOptions{
		UserSummary: in.UserSummary,
		DisplayName: profile.DisplayName,
	})
	saved := m.persister.Persist(ctx, items, userID, in.RecordingID)

	m.finalizer.Finalize(ctx, userID, in.RecordingID, RunOutcome{
		Transcription: transcript,
		Summary:       items.Summary,
		Language:      out.Language,
		Duration:      out.Duration,
		Succeeded:     true,
	})
	finalized = true

	if in.Mode == ModeTranscript {
		out.GeneratedContent = m.generateContent(items.ContentPredictions, userID, in.RecordingID)
	}

	out.Transcription = transcript
	out.AISummary = items.Summary
	out.Items = items
	out.Saved = saved.Counts()
	out.SavedItems = saved
	out.ContentPredictions = len(items.ContentPredictions)
	log.Printf("Pipeline Manager: process finished user=%s recording=%s saved=%+v generated=%d",
		userID, in.RecordingID, out.Saved, len(out.GeneratedContent))
	return out, nil
}

// transcribe marks the recording failed when the upstream call fails.
func (m *Manager) transcribe(ctx context.Context, userID string, in Input) (transcribe.Result, error) {
	res, err := m.transcriber.Transcribe(ctx, in.Audio, in.MimeType)
	if err != nil {
		log.Printf("Pipeline Manager: transcription failed user=%s recording=%s: %v", userID, in.RecordingID, err)
		m.finalizer.Finalize(ctx, userID, in.RecordingID, RunOutcome{})
		return transcribe.Result{}, wrap(ErrTranscriptionFail, err)
	}
	return res, nil
}

// generateContent runs the content gate as a background job and waits for it
// up to the configured budget. Documents finished later are still saved and
// announced over the notifier.
func (m *Manager) generateContent(preds []models.ContentPrediction, userID, recordingID string) []models.GeneratedContentDocument {
	none := []models.GeneratedContentDocument{}
	if recordingID == "" {
		log.Printf("Pipeline Manager: no recording id, content generation skipped user=%s", userID)
		return none
	}
	if len(selectPredictions(preds, m.config.ConfidenceThreshold, m.config.MaxGenerations)) == 0 {
		return none
	}

	result := make(chan []models.GeneratedContentDocument, 1)
	err := m.dispatcher.Submit(Job{
		Name:        "content:" + recordingID,
		MaxAttempts: 1,
		Run: func(ctx context.Context) error {
			result <- m.gate.Generate(ctx, preds, userID, recordingID)
			return nil
		},
	})
	if err != nil {
		log.Printf("Pipeline Manager: content generation not queued recording=%s: %v", recordingID, err)
		return none
	}

	timer := time.NewTimer(m.config.ContentBudget)
	defer timer.Stop()
	select {
	case docs := <-result:
		return docs
	case <-timer.C:
		log.Printf("Pipeline Manager: content generation still running after %s recording=%s, responding without it",
			m.config.ContentBudget, recordingID)
		return none
	}
}

// recoverRun turns a panic into a generic internal error and makes sure the
// recording is not left processing.
func (m *Manager) recoverRun(ctx context.Context, stage, userID, recordingID string, err *error, finalized *bool) {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("Pipeline Manager: panic in %s user=%s recording=%s: %v\n%s", stage, userID, recordingID, r, debug.Stack())
	if finalized == nil || !*finalized {
		m.finalizer.Finalize(ctx, userID, recordingID, RunOutcome{})
	}
	*err = wrap(ErrInternal, fmt.Errorf("panic: %v", r))
}
