package pipeline

import (
	"context"
	"log"
	"time"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/config"
	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/storage"
	"voicenote-processor/pkg/transcribe"
)

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (models.UserProfile, error)
}

// Deps are the collaborators a Manager runs against.
type Deps struct {
	Recordings  storage.RecordingStore
	Items       ItemStore
	Profiles    ProfileStore
	Documents   DocumentStore
	Transcriber transcribe.Transcriber
	Agent       agent.Agent
	Generator   ContentGenerator
	Contexts    ContextLoader
	Notifier    Notifier
	Status      StatusPublisher
	DeadLetters storage.DeadLetterSink
}

// Manager runs the preview and process stages and owns the background
// dispatcher used for content generation and notifications.
type Manager struct {
	config      config.PipelineConfig
	transcriber transcribe.Transcriber
	profiles    ProfileStore

	normalizer *Normalizer
	previewer  *Previewer
	extractor  *Extractor
	persister  *Persister
	finalizer  *Finalizer
	gate       *ContentGate
	dispatcher *Dispatcher

	now func() time.Time
}

func NewManager(cfg config.PipelineConfig, deps Deps) *Manager {
	dispatcher := NewDispatcher(cfg.Workers, cfg.QueueSize, cfg.MaxAttempts, cfg.RetryBackoff, deps.DeadLetters)
	gate := NewContentGate(GateConfig{
		Threshold:          cfg.ConfidenceThreshold,
		ExplicitConfidence: cfg.ExplicitConfidence,
		MaxGenerations:     cfg.MaxGenerations,
		MaxAttempts:        cfg.MaxAttempts,
		Backoff:            cfg.RetryBackoff,
	}, deps.Contexts, deps.Generator, deps.Documents, deps.Notifier, dispatcher)

	return &Manager{
		config:      cfg,
		transcriber: deps.Transcriber,
		profiles:    deps.Profiles,

		normalizer: NewNormalizer(deps.Recordings),
		previewer:  NewPreviewer(deps.Agent, deps.Recordings),
		extractor:  NewExtractor(deps.Agent),
		persister:  NewPersister(deps.Items),
		finalizer:  NewFinalizer(deps.Recordings, deps.Status),
		gate:       gate,
		dispatcher: dispatcher,

		now: time.Now,
	}
}

func (m *Manager) Start(ctx context.Context) {
	log.Println("Pipeline Manager: Starting...")
	m.dispatcher.Start(ctx)
}

func (m *Manager) Stop() {
	log.Println("Pipeline Manager: Stopping...")
	m.dispatcher.Stop()
	log.Println("Pipeline Manager: Stopped.")
}

// profile falls back to defaults; a missing profile never fails a run.
func (m *Manager) profile(ctx context.Context, userID string) models.UserProfile {
	if m.profiles == nil {
		return models.DefaultProfile(userID)
	}
	p, err := m.profiles.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("Pipeline Manager: profile lookup failed for user %s, using defaults: %v", userID, err)
		return models.DefaultProfile(userID)
	}
	return p
}
