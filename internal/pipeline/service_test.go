package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/engine"
	"github.com/aacboard/speechgate/internal/protocol"
	"github.com/aacboard/speechgate/internal/quality"
)

type stubWorker struct {
	id     string
	result engine.BackendResult
	err    error
	calls  int
}

func (w *stubWorker) ID() string { return w.id }

func (w *stubWorker) Recognize(_ context.Context, _ []byte, opts engine.Options) (engine.BackendResult, error) {
	w.calls++
	if w.err != nil {
		return engine.BackendResult{}, w.err
	}
	r := w.result
	r.Service = w.id
	return r, nil
}

func okResult(transcript string, confidence float64) engine.BackendResult {
	return engine.BackendResult{
		Success:    true,
		Transcript: transcript,
		Confidence: &confidence,
	}
}

func failResult(code, message string) engine.BackendResult {
	return engine.BackendResult{
		Err: &engine.WorkerError{Code: code, Message: message},
	}
}

func testService(t *testing.T, primary, fallback engine.Worker) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(config.Default(), primary, fallback, logger)
}

// speechWAV produces a clip loud and long enough to pass the quality gate.
func speechWAV(t *testing.T) []byte {
	t.Helper()
	const rate = 16000
	n := rate // one second
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	clip := &quality.Clip{Samples: samples, SampleRate: rate, Channels: 1}
	data, err := clip.EncodeWAV()
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return data
}

func TestProcessPrimarySucceeds(t *testing.T) {
	primary := &stubWorker{id: "google", result: okResult("hello world", 0.92)}
	fallback := &stubWorker{id: "vosk", result: okResult("hello word", 0.6)}
	svc := testService(t, primary, fallback)

	env := svc.Process(context.Background(), Request{
		ID:       "req-1",
		Data:     speechWAV(t),
		Filename: "clip.wav",
	})

	if !env.Success {
		t.Fatalf("expected success, got error %+v", env.Error)
	}
	if env.Transcription != "hello world" {
		t.Fatalf("transcription = %q", env.Transcription)
	}
	if env.Service != "google" {
		t.Fatalf("service = %q", env.Service)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback invoked %d times after primary success", fallback.calls)
	}
}

func TestProcessFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &stubWorker{id: "google", result: failResult("GOOGLE_ERROR", "quota exceeded")}
	fallback := &stubWorker{id: "vosk", result: okResult("turn on the lights", 0.71)}
	svc := testService(t, primary, fallback)

	env := svc.Process(context.Background(), Request{ID: "req-2", Data: speechWAV(t), Filename: "clip.wav"})

	if !env.Success {
		t.Fatalf("expected fallback success, got %+v", env.Error)
	}
	if env.Service != "vosk" {
		t.Fatalf("service = %q", env.Service)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls primary=%d fallback=%d", primary.calls, fallback.calls)
	}
	if len(env.Results) != 2 {
		t.Fatalf("results = %d, want both attempts", len(env.Results))
	}
}

func TestProcessCommandModeSkipsPrimary(t *testing.T) {
	primary := &stubWorker{id: "google", result: okResult("select", 0.99)}
	fallback := &stubWorker{id: "vosk", result: okResult("select", 0.8)}
	svc := testService(t, primary, fallback)

	env := svc.Process(context.Background(), Request{
		ID:          "req-3",
		Data:        speechWAV(t),
		Filename:    "clip.wav",
		CommandMode: true,
	})

	if !env.Success {
		t.Fatalf("expected success, got %+v", env.Error)
	}
	if primary.calls != 0 {
		t.Fatalf("primary invoked %d times in command mode", primary.calls)
	}
	if env.Service != "vosk" {
		t.Fatalf("service = %q", env.Service)
	}
	if !env.AAC.CommandMode || env.AAC.CommandType != "selection" {
		t.Fatalf("aac info = %+v", env.AAC)
	}
}

func TestProcessAllEnginesFail(t *testing.T) {
	primary := &stubWorker{id: "google", result: failResult("GOOGLE_ERROR", "unreachable")}
	fallback := &stubWorker{id: "vosk", result: failResult("VOSK_ERROR", "model crashed")}
	svc := testService(t, primary, fallback)

	env := svc.Process(context.Background(), Request{ID: "req-4", Data: speechWAV(t), Filename: "clip.wav"})

	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Error == nil || env.Error.Code != protocol.CodeAllServicesFailed {
		t.Fatalf("error = %+v", env.Error)
	}
	if len(env.Error.Details) != 2 {
		t.Fatalf("details = %d, want one per attempt", len(env.Error.Details))
	}
}

func TestProcessRecognizeErrorBecomesProcessError(t *testing.T) {
	primary := &stubWorker{id: "google", err: context.DeadlineExceeded}
	svc := testService(t, primary, nil)

	env := svc.Process(context.Background(), Request{ID: "req-5", Data: speechWAV(t), Filename: "clip.wav"})

	if env.Success {
		t.Fatal("expected failure")
	}
	if len(env.Results) != 1 || env.Results[0].ErrorCode != protocol.CodeProcessError {
		t.Fatalf("results = %+v", env.Results)
	}
}

func TestProcessRejectsEmptyUpload(t *testing.T) {
	svc := testService(t, &stubWorker{id: "google"}, nil)

	env := svc.Process(context.Background(), Request{ID: "req-6"})

	if env.Success || env.Error == nil || env.Error.Code != protocol.CodeNoFile {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestProcessRejectsOversizedUploadWithoutDispatch(t *testing.T) {
	primary := &stubWorker{id: "google", result: okResult("never", 0.9)}
	svc := testService(t, primary, nil)

	big := make([]byte, svc.cfg.Upload.MaxBytes+1)
	env := svc.Process(context.Background(), Request{ID: "req-8", Data: big, Filename: "clip.wav"})

	if env.Success || env.Error == nil || env.Error.Code != protocol.CodeFileTooLarge {
		t.Fatalf("envelope = %+v", env)
	}
	if primary.calls != 0 {
		t.Fatalf("engine invoked %d times for oversized upload", primary.calls)
	}
}

func TestProcessQualityGateBlocksSilence(t *testing.T) {
	clip := &quality.Clip{Samples: make([]int16, 16000), SampleRate: 16000, Channels: 1}
	data, err := clip.EncodeWAV()
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	primary := &stubWorker{id: "google", result: okResult("ghost", 0.9)}
	svc := testService(t, primary, nil)

	env := svc.Process(context.Background(), Request{ID: "req-7", Data: data, Filename: "clip.wav"})

	if env.Success || env.Error == nil || env.Error.Code != protocol.CodeAudioQuality {
		t.Fatalf("envelope = %+v", env)
	}
	if primary.calls != 0 {
		t.Fatalf("engine invoked %d times on rejected audio", primary.calls)
	}
}
