package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicenote-processor/pkg/models"
)

func predictions(confidences ...float64) []models.ContentPrediction {
	out := make([]models.ContentPrediction, len(confidences))
	for i, c := range confidences {
		out[i] = models.ContentPrediction{
			ContentType: "doc" + string(rune('A'+i)),
			Description: "idea " + string(rune('A'+i)),
			Confidence:  c,
		}
	}
	return out
}

func testGateConfig() GateConfig {
	return GateConfig{Threshold: 0.5, ExplicitConfidence: 0.8, MaxGenerations: 3, MaxAttempts: 3, Backoff: time.Millisecond}
}

func TestSelectPredictions(t *testing.T) {
	got := selectPredictions(predictions(0.5, 0.3, 0.92, 0.71, 0.55), 0.5, 3)
	want := []float64{0.92, 0.71, 0.55}
	if len(got) != len(want) {
		t.Fatalf("selected %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Confidence != want[i] {
			t.Errorf("selected[%d] = %v, want %v", i, got[i].Confidence, want[i])
		}
	}

	ties := selectPredictions(predictions(0.6, 0.9, 0.6, 0.6), 0.5, 3)
	if ties[1].ContentType != "docA" || ties[2].ContentType != "docC" {
		t.Errorf("ties not kept in original order: %s, %s", ties[1].ContentType, ties[2].ContentType)
	}
}

func TestGenerateAttemptsTopThree(t *testing.T) {
	gen := &fakeGenerator{}
	docs := &fakeDocuments{}
	notifier := newFakeNotifier(10)
	queue := &syncQueue{}
	gate := NewContentGate(testGateConfig(), &fakeLoader{}, gen, docs, notifier, queue)

	out := gate.Generate(context.Background(), predictions(0.92, 0.71, 0.55, 0.5, 0.3), "u1", "rec1")

	if len(out) != 3 {
		t.Fatalf("generated %d documents, want 3", len(out))
	}
	calls := gen.requested()
	if len(calls) != 3 || calls[0].ContentType != "docA" || calls[1].ContentType != "docB" || calls[2].ContentType != "docC" {
		t.Errorf("generator calls = %+v", calls)
	}
	if out[0].GenerationType != models.GenerationExplicit || out[1].GenerationType != models.GenerationProactive {
		t.Errorf("generation types = %s, %s", out[0].GenerationType, out[1].GenerationType)
	}
	for _, d := range out {
		if len(d.SourceVoiceNoteIDs) != 1 || d.SourceVoiceNoteIDs[0] != "rec1" || d.Status != models.DocumentReady {
			t.Errorf("document = %+v", d)
		}
	}
	if len(docs.docs) != 3 || len(notifier.sent) != 3 || len(queue.jobs) != 3 {
		t.Errorf("saved=%d notified=%d queued=%d", len(docs.docs), len(notifier.sent), len(queue.jobs))
	}
}

func TestGenerateRetriesAndSkipsFailures(t *testing.T) {
	gen := &fakeGenerator{failures: map[string]int{"docA": 2, "docB": 10}}
	gate := NewContentGate(testGateConfig(), &fakeLoader{}, gen, &fakeDocuments{}, nil, nil)

	out := gate.Generate(context.Background(), predictions(0.9, 0.8, 0.7), "u1", "rec1")

	if len(out) != 2 {
		t.Fatalf("generated %d, want 2", len(out))
	}
	if out[0].ContentType != "docA" || out[1].ContentType != "docC" {
		t.Errorf("generated = %s, %s", out[0].ContentType, out[1].ContentType)
	}
	// docA: 2 failures + success, docB: 3 failures, docC: 1 success
	if n := len(gen.requested()); n != 7 {
		t.Errorf("generator called %d times, want 7", n)
	}
}

func TestGenerateSkipsOnContextFailure(t *testing.T) {
	gen := &fakeGenerator{}
	gate := NewContentGate(testGateConfig(), &fakeLoader{userErr: errors.New("profile db down")}, gen, &fakeDocuments{}, nil, nil)

	out := gate.Generate(context.Background(), predictions(0.9), "u1", "rec1")
	if len(out) != 0 || len(gen.requested()) != 0 {
		t.Errorf("out=%d calls=%d, want nothing generated", len(out), len(gen.requested()))
	}
}
