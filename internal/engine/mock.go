package engine

import (
	"context"
	"fmt"
	"time"
)

// mockWorker returns a canned transcript. Used in development configs and
// as a stand-in while no real engine is wired up.
type mockWorker struct {
	id string
}

func NewMockWorker(id string) Worker {
	return &mockWorker{id: id}
}

func (m *mockWorker) ID() string {
	return m.id
}

func (m *mockWorker) Recognize(_ context.Context, audio []byte, opts Options) (BackendResult, error) {
	mode := "general"
	if opts.CommandMode {
		mode = "command"
	}
	return BackendResult{
		Service:        m.id,
		Success:        true,
		Transcript:     fmt.Sprintf("[%s transcript bytes=%d]", mode, len(audio)),
		Confidence:     confidencePtr(0.5),
		ProcessingTime: time.Millisecond,
	}, nil
}
