package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"voicenote-processor/pkg/models"
)

type ContentGenerator interface {
	Generate(ctx context.Context, user models.UserContext, voice models.VoiceContext, req models.ContentRequest) (models.GeneratedContent, error)
}

// ContextLoader reads what the generator needs to know about the user and
// the voice note.
type ContextLoader interface {
	UserContext(ctx context.Context, userID string) (models.UserContext, error)
	VoiceContext(ctx context.Context, userID, recordingID string) (models.VoiceContext, error)
}

type DocumentStore interface {
	SaveGeneratedContent(ctx context.Context, doc *models.GeneratedContentDocument) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID, documentID, title, contentType string) error
}

type GateConfig struct {
	Threshold          float64
	ExplicitConfidence float64
	MaxGenerations     int
	MaxAttempts        int
	Backoff            time.Duration
}

// ContentGate turns confident content predictions into saved documents.
type ContentGate struct {
	cfg       GateConfig
	loader    ContextLoader
	generator ContentGenerator
	documents DocumentStore
	notifier  Notifier
	jobs      JobQueue
}

func NewContentGate(cfg GateConfig, loader ContextLoader, generator ContentGenerator, documents DocumentStore,
	notifier Notifier, jobs JobQueue) *ContentGate {
	return &ContentGate{
		cfg:       cfg,
		loader:    loader,
		generator: generator,
		documents: documents,
		notifier:  notifier,
		jobs:      jobs,
	}
}

// selectPredictions keeps predictions at or above threshold, highest
// confidence first with ties in original order, at most limit of them.
func selectPredictions(preds []models.ContentPrediction, threshold float64, limit int) []models.ContentPrediction {
	eligible := make([]models.ContentPrediction, 0, len(preds))
	for _, p := range preds {
		if p.Confidence >= threshold {
			eligible = append(eligible, p)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Confidence > eligible[j].Confidence
	})
	if limit >= 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}

func (g *ContentGate) generationType(confidence float64) models.GenerationType {
	if confidence >= g.cfg.ExplicitConfidence {
		return models.GenerationExplicit
	}
	return models.GenerationProactive
}

// Generate handles the selected predictions one after another. A failing
// prediction is logged and skipped; it never affects the others.
func (g *ContentGate) Generate(ctx context.Context, preds []models.ContentPrediction, userID, recordingID string) []models.GeneratedContentDocument {
	selected := selectPredictions(preds, g.cfg.Threshold, g.cfg.MaxGenerations)
	log.Printf("Content Gate: %d of %d predictions selected recording=%s", len(selected), len(preds), recordingID)

	docs := make([]models.GeneratedContentDocument, 0, len(selected))
	for _, p := range selected {
		doc, err := g.generateOne(ctx, p, userID, recordingID)
		if err != nil {
			log.Printf("Content Gate: %s prediction %q skipped user=%s recording=%s: %v",
				p.ContentType, p.Description, userID, recordingID, err)
			continue
		}
		docs = append(docs, doc)
		g.enqueueNotification(doc)
	}
	return docs
}

func (g *ContentGate) generateOne(ctx context.Context, p models.ContentPrediction, userID, recordingID string) (models.GeneratedContentDocument, error) {
	var (
		userCtx  models.UserContext
		voiceCtx models.VoiceContext
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var err error
		userCtx, err = g.loader.UserContext(gctx, userID)
		return err
	})
	grp.Go(func() error {
		var err error
		voiceCtx, err = g.loader.VoiceContext(gctx, userID, recordingID)
		return err
	})
	if err := grp.Wait(); err != nil {
		return models.GeneratedContentDocument{}, fmt.Errorf("loading context: %w", err)
	}

	req := models.ContentRequest{
		ContentType:    p.ContentType,
		Description:    p.Description,
		TargetPlatform: p.TargetPlatform,
		SuggestedTitle: p.SuggestedTitle,
	}
	var content models.GeneratedContent
	if _, err := retry(ctx, g.cfg.MaxAttempts, g.cfg.Backoff, func() error {
		var err error
		content, err = g.generator.Generate(ctx, userCtx, voiceCtx, req)
		return err
	}); err != nil {
		return models.GeneratedContentDocument{}, fmt.Errorf("generating: %w", err)
	}

	doc := models.GeneratedContentDocument{
		DocumentID:         models.NewID(),
		UserID:             userID,
		Title:              firstNonEmpty(content.Title, p.SuggestedTitle, p.ContentType),
		ContentType:        p.ContentType,
		PreviewText:        content.PreviewText,
		Content:            content.Content,
		Tags:               content.Tags,
		Language:           content.Language,
		GenerationType:     g.generationType(p.Confidence),
		SourceVoiceNoteIDs: []string{recordingID},
		Status:             models.DocumentReady,
		CreatedAt:          time.Now().UTC(),
	}
	if _, err := retry(ctx, g.cfg.MaxAttempts, g.cfg.Backoff, func() error {
		_, err := g.documents.SaveGeneratedContent(ctx, &doc)
		return err
	}); err != nil {
		return models.GeneratedContentDocument{}, fmt.Errorf("saving: %w", err)
	}

	log.Printf("Content Gate: saved %s document %s (%s) recording=%s", doc.ContentType, doc.DocumentID, doc.GenerationType, recordingID)
	return doc, nil
}

func (g *ContentGate) enqueueNotification(doc models.GeneratedContentDocument) {
	if g.notifier == nil || g.jobs == nil {
		return
	}
	err := g.jobs.Submit(Job{
		Name:        "notify:" + doc.DocumentID,
		MaxAttempts: g.cfg.MaxAttempts,
		Run: func(ctx context.Context) error {
			return g.notifier.Notify(ctx, doc.UserID, doc.DocumentID, doc.Title, doc.ContentType)
		},
	})
	if err != nil {
		log.Printf("Content Gate: notification for document %s not queued: %v", doc.DocumentID, err)
	}
}
