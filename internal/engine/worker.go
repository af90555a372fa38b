// Package engine defines the recognition worker contract and its concrete
// implementations. A worker takes raw audio bytes and returns a transcript
// with a confidence score; it does not know or care whether the caller will
// try other workers.
package engine

import (
	"context"
	"time"

	"github.com/aacboard/speechgate/internal/protocol"
)

// Options carries per-request recognition parameters.
type Options struct {
	CommandMode bool
	Grammar     []string
	SampleRate  int
	Language    string
}

// WorkerError classifies a failed attempt. Code is PARSE_ERROR,
// PROCESS_ERROR, or an engine-reported code.
type WorkerError struct {
	Code    string
	Message string
}

func (e *WorkerError) Error() string {
	return e.Code + ": " + e.Message
}

// BackendResult records one engine attempt, successful or not.
type BackendResult struct {
	Service        string
	Success        bool
	Transcript     string
	Confidence     *float64
	ProcessingTime time.Duration
	WordTiming     []protocol.WordTiming
	Err            *WorkerError
}

// Worker is a pluggable recognition backend. Implementations may shell out
// to a process, call a remote API, or return canned results; callers must
// not assume which.
type Worker interface {
	ID() string
	Recognize(ctx context.Context, audio []byte, opts Options) (BackendResult, error)
}

// failedResult builds the BackendResult for an attempt that produced no
// transcript.
func failedResult(service string, start time.Time, werr *WorkerError) BackendResult {
	return BackendResult{
		Service:        service,
		Success:        false,
		ProcessingTime: time.Since(start),
		Err:            werr,
	}
}

func confidencePtr(v float64) *float64 {
	return &v
}
