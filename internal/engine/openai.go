package engine

import (
	"bytes"
	"context"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/protocol"
)

// openaiWorker transcribes through the hosted Whisper API. It is the
// network-dependent, higher-accuracy engine in the default fallback chain.
type openaiWorker struct {
	id     string
	client *openai.Client
	cfg    config.EngineConfig
}

func NewOpenAIWorker(cfg config.EngineConfig) Worker {
	return &openaiWorker{
		id:     cfg.ID,
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
	}
}

func (w *openaiWorker) ID() string {
	return w.id
}

func (w *openaiWorker) Recognize(ctx context.Context, audio []byte, opts Options) (BackendResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	req := openai.AudioRequest{
		Model:    w.cfg.Model,
		Reader:   bytes.NewReader(audio),
		FilePath: "upload.wav",
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: w.language(opts),
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
			openai.TranscriptionTimestampGranularityWord,
		},
	}
	if opts.CommandMode && len(opts.Grammar) > 0 {
		// The API has no grammar constraint; the prompt biases it toward
		// the expected command vocabulary.
		req.Prompt = strings.Join(opts.Grammar, ", ")
	}

	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		code := EngineErrorCode(w.id)
		if ctx.Err() == context.DeadlineExceeded {
			code = protocol.CodeProcessError
		}
		return failedResult(w.id, start, &WorkerError{Code: code, Message: err.Error()}), nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return failedResult(w.id, start, &WorkerError{
			Code:    EngineErrorCode(w.id),
			Message: "could not understand audio",
		}), nil
	}

	// The API does not report confidence directly; segment log probability
	// is the closest proxy. 0.85 is the assumed cloud-engine confidence
	// when no segments come back.
	conf := 0.85
	if len(resp.Segments) > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			sum += math.Exp(seg.AvgLogprob)
		}
		conf = sum / float64(len(resp.Segments))
		if conf > 1 {
			conf = 1
		}
	}

	var timing []protocol.WordTiming
	for _, word := range resp.Words {
		timing = append(timing, protocol.WordTiming{
			Word:       word.Word,
			StartTime:  word.Start,
			EndTime:    word.End,
			Confidence: conf,
		})
	}

	return BackendResult{
		Service:        w.id,
		Success:        true,
		Transcript:     text,
		Confidence:     confidencePtr(conf),
		ProcessingTime: time.Since(start),
		WordTiming:     timing,
	}, nil
}

func (w *openaiWorker) language(opts Options) string {
	if opts.Language != "" {
		return opts.Language
	}
	return w.cfg.Language
}

// EngineErrorCode derives the per-backend error code, e.g. GOOGLE_ERROR.
func EngineErrorCode(id string) string {
	return strings.ToUpper(id) + "_ERROR"
}
