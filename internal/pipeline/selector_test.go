package pipeline

import (
	"testing"

	"github.com/aacboard/speechgate/internal/engine"
)

func conf(v float64) *float64 { return &v }

func TestSelectHighestConfidence(t *testing.T) {
	results := []engine.BackendResult{
		{Service: "google", Success: true, Transcript: "a", Confidence: conf(0.7)},
		{Service: "vosk", Success: true, Transcript: "b", Confidence: conf(0.9)},
	}
	best := Select(results)
	if best == nil || best.Service != "vosk" {
		t.Fatalf("selected = %+v", best)
	}
}

func TestSelectIgnoresFailures(t *testing.T) {
	results := []engine.BackendResult{
		{Service: "google", Success: false, Confidence: conf(0.99)},
		{Service: "vosk", Success: true, Transcript: "b", Confidence: conf(0.4)},
	}
	best := Select(results)
	if best == nil || best.Service != "vosk" {
		t.Fatalf("selected = %+v", best)
	}
}

func TestSelectNilConfidenceRanksLast(t *testing.T) {
	results := []engine.BackendResult{
		{Service: "google", Success: true, Transcript: "a"},
		{Service: "vosk", Success: true, Transcript: "b", Confidence: conf(0.1)},
	}
	best := Select(results)
	if best == nil || best.Service != "vosk" {
		t.Fatalf("selected = %+v", best)
	}
}

func TestSelectAllFailed(t *testing.T) {
	results := []engine.BackendResult{
		{Service: "google"},
		{Service: "vosk"},
	}
	if best := Select(results); best != nil {
		t.Fatalf("selected = %+v, want nil", best)
	}
}

func TestAggregateSkipsFailures(t *testing.T) {
	results := []engine.BackendResult{
		{Service: "google", Success: true, Confidence: conf(0.9)},
		{Service: "whisper", Success: false, Confidence: conf(0.2)},
		{Service: "vosk", Success: true, Confidence: conf(0.7)},
	}
	agg := Aggregate(results)
	if agg == nil {
		t.Fatal("aggregate is nil")
	}
	if *agg < 0.799 || *agg > 0.801 {
		t.Fatalf("aggregate = %v, want 0.8", *agg)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if agg := Aggregate(nil); agg != nil {
		t.Fatalf("aggregate = %v, want nil", *agg)
	}
	results := []engine.BackendResult{{Service: "vosk", Success: true}}
	if agg := Aggregate(results); agg != nil {
		t.Fatalf("aggregate without confidences = %v, want nil", *agg)
	}
}
