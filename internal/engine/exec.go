package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/protocol"
)

// execWorker shells out to a recognition process, streaming audio bytes to
// its stdin and reading a JSON result from its stdout.
type execWorker struct {
	id     string
	cmd    []string
	cfg    config.EngineConfig
	loader *ModelLoader
}

// NewExecWorker builds a subprocess-backed worker. loader may be nil for
// engines without local model data.
func NewExecWorker(cfg config.EngineConfig, loader *ModelLoader) (Worker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("worker command is empty")
	}
	return &execWorker{id: cfg.ID, cmd: args, cfg: cfg, loader: loader}, nil
}

func (w *execWorker) ID() string {
	return w.id
}

func (w *execWorker) Recognize(ctx context.Context, audio []byte, opts Options) (BackendResult, error) {
	start := time.Now()

	if w.loader != nil {
		if err := w.loader.Ensure(); err != nil {
			return failedResult(w.id, start, &WorkerError{
				Code:    protocol.CodeProcessError,
				Message: fmt.Sprintf("model not available: %v", err),
			}), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	args := append([]string{}, w.cmd[1:]...)
	if w.cfg.ModelPath != "" {
		args = append(args, "--model", w.cfg.ModelPath)
	}
	if lang := w.language(opts); lang != "" {
		args = append(args, "--language", lang)
	}
	if opts.SampleRate > 0 {
		args = append(args, "--sample-rate", fmt.Sprintf("%d", opts.SampleRate))
	}
	if opts.CommandMode {
		args = append(args, "--command-mode")
		if len(opts.Grammar) > 0 {
			grammar, err := json.Marshal(opts.Grammar)
			if err == nil {
				args = append(args, "--grammar", string(grammar))
			}
		}
	}

	command := exec.CommandContext(ctx, w.cmd[0], args...)
	command.Stdin = bytes.NewReader(audio)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	runErr := command.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failedResult(w.id, start, &WorkerError{
				Code:    protocol.CodeProcessError,
				Message: fmt.Sprintf("worker timed out after %dms", w.cfg.TimeoutMS),
			}), nil
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// A worker may exit non-zero and still report a structured
			// failure; only an unparseable exit is a process failure.
			if payload, err := parsePayload(stdout.Bytes()); err == nil {
				return w.resultFromPayload(payload, elapsed), nil
			}
			return failedResult(w.id, start, &WorkerError{
				Code:    protocol.CodeProcessError,
				Message: fmt.Sprintf("worker exited %d: %s", exitErr.ExitCode(), firstLine(stderr.Bytes())),
			}), nil
		}
		return failedResult(w.id, start, &WorkerError{
			Code:    protocol.CodeProcessError,
			Message: fmt.Sprintf("failed to launch worker: %v", runErr),
		}), nil
	}

	payload, err := parsePayload(stdout.Bytes())
	if err != nil {
		return failedResult(w.id, start, &WorkerError{
			Code:    protocol.CodeParseError,
			Message: err.Error(),
		}), nil
	}
	return w.resultFromPayload(payload, elapsed), nil
}

func (w *execWorker) language(opts Options) string {
	if opts.Language != "" {
		return opts.Language
	}
	return w.cfg.Language
}

func (w *execWorker) resultFromPayload(payload workerPayload, elapsed time.Duration) BackendResult {
	service := w.id
	if payload.ServiceID != "" {
		service = payload.ServiceID
	}
	if !payload.Success {
		code := payload.ErrorCode
		if code == "" {
			code = protocol.CodeProcessError
		}
		message := payload.ErrorMessage
		if message == "" {
			message = "worker reported failure"
		}
		return BackendResult{
			Service:        service,
			Success:        false,
			ProcessingTime: elapsed,
			Err:            &WorkerError{Code: code, Message: message},
		}
	}
	return BackendResult{
		Service:        service,
		Success:        true,
		Transcript:     payload.Transcript,
		Confidence:     payload.Confidence,
		ProcessingTime: elapsed,
		WordTiming:     payload.WordTiming,
	}
}

func firstLine(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	const maxLen = 200
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen]
	}
	return string(trimmed)
}
