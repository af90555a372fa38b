// Package pipeline coordinates one upload's journey: intake, quality gate,
// engine dispatch, result selection and envelope construction.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aacboard/speechgate/internal/aac"
	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/engine"
	"github.com/aacboard/speechgate/internal/envelope"
	"github.com/aacboard/speechgate/internal/intake"
	"github.com/aacboard/speechgate/internal/protocol"
	"github.com/aacboard/speechgate/internal/quality"
)

// Request is one upload to process.
type Request struct {
	ID             string
	Data           []byte
	Filename       string
	SampleRateHint int
	CommandMode    bool
	Info           protocol.RequestInfo
}

// Service runs the recognition pipeline. It is stateless across requests;
// the only shared resource is the engines' cached model data.
type Service struct {
	cfg      config.Config
	primary  engine.Worker
	fallback engine.Worker
	logger   *slog.Logger
	metrics  *metrics
}

func NewService(cfg config.Config, primary, fallback engine.Worker, logger *slog.Logger) *Service {
	m, err := newMetrics()
	if err != nil {
		logger.Warn("pipeline metrics disabled", slog.String("error", err.Error()))
		m = nil
	}
	return &Service{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "pipeline")),
		metrics:  m,
	}
}

// Ready reports whether at least one engine is configured.
func (s *Service) Ready() bool {
	return s.primary != nil || s.fallback != nil
}

// Process runs the full pipeline and always returns a well-formed envelope;
// failures are encoded, never raised.
func (s *Service) Process(ctx context.Context, req Request) protocol.ResponseEnvelope {
	start := time.Now()
	params := envelope.Params{
		RequestID:   req.ID,
		Start:       start,
		Request:     req.Info,
		CommandMode: req.CommandMode,
	}

	upload, err := intake.Accept(req.Data, req.Filename, req.SampleRateHint, s.cfg.Upload.MaxBytes)
	if err != nil {
		return s.failure(ctx, params, err, start)
	}
	params.Format = upload.Format

	meta := intake.ExtractMetadata(upload, s.cfg.Upload.DefaultSampleRate)
	clip, decoded := quality.Decode(upload, meta)
	if decoded {
		meta = meta.Merge(intake.Metadata{
			Duration:   clip.Duration(),
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
		})
	}
	params.Meta = meta

	report := quality.Validate(meta, clip)
	params.Warnings = report.Warnings
	if !report.Valid() {
		s.logger.Info("quality gate rejected upload",
			slog.String("request_id", req.ID),
			slog.String("issues", strings.Join(report.Issues, "; ")))
		s.metrics.recordRequest(ctx, "quality_rejected", time.Since(start))
		return envelope.Failure(params, protocol.CodeAudioQuality, strings.Join(report.Issues, "; "), nil)
	}

	audio := upload.Data
	if s.cfg.Upload.Preprocess && decoded {
		cleaned := quality.Preprocess(clip)
		if encoded, err := cleaned.EncodeWAV(); err == nil {
			audio = encoded
		} else {
			s.logger.Warn("preprocessing skipped", slog.String("error", err.Error()))
		}
	}

	opts := engine.Options{
		CommandMode: req.CommandMode,
		SampleRate:  meta.SampleRate,
	}
	if req.CommandMode {
		opts.Grammar = aac.CommandGrammar()
	}

	results := s.dispatch(ctx, audio, opts)
	selected := Select(results)
	if selected == nil {
		s.metrics.recordRequest(ctx, "all_failed", time.Since(start))
		return envelope.Failure(params, protocol.CodeAllServicesFailed,
			"no recognition service could process the audio", results)
	}

	s.logger.Info("recognition complete",
		slog.String("request_id", req.ID),
		slog.String("service", selected.Service),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	s.metrics.recordRequest(ctx, "success", time.Since(start))
	return envelope.Success(params, *selected, Aggregate(results), results)
}

// dispatch runs the engine chain for the requested mode. General mode
// tries the primary and falls back on failure; command mode goes straight
// to the local engine with the constrained grammar. Every attempt is
// collected in order whether it succeeded or not.
func (s *Service) dispatch(ctx context.Context, audio []byte, opts engine.Options) []engine.BackendResult {
	var results []engine.BackendResult
	for _, worker := range s.chain(opts.CommandMode) {
		result, err := worker.Recognize(ctx, audio, opts)
		if err != nil {
			result = engine.BackendResult{
				Service: worker.ID(),
				Err: &engine.WorkerError{
					Code:    protocol.CodeProcessError,
					Message: err.Error(),
				},
			}
		}
		results = append(results, result)
		s.metrics.recordAttempt(ctx, worker.ID(), result.Success)
		if result.Success {
			break
		}
		if result.Err != nil {
			s.logger.Warn("engine attempt failed",
				slog.String("engine", worker.ID()),
				slog.String("code", result.Err.Code),
				slog.String("error", result.Err.Message))
		}
	}
	return results
}

func (s *Service) chain(commandMode bool) []engine.Worker {
	if commandMode {
		// Short commands need low latency and the constrained grammar
		// beats a general-purpose cloud engine for single words.
		if s.fallback != nil {
			return []engine.Worker{s.fallback}
		}
		return nil
	}
	var chain []engine.Worker
	if s.primary != nil {
		chain = append(chain, s.primary)
	}
	if s.fallback != nil {
		chain = append(chain, s.fallback)
	}
	return chain
}

func (s *Service) failure(ctx context.Context, params envelope.Params, err error, start time.Time) protocol.ResponseEnvelope {
	var reqErr *protocol.RequestError
	if !errors.As(err, &reqErr) {
		reqErr = protocol.NewRequestError(protocol.CodeInternalError, "unexpected error")
	}
	s.metrics.recordRequest(ctx, "rejected", time.Since(start))
	return envelope.Failure(params, reqErr.Code, reqErr.Message, nil)
}
