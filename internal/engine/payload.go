package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aacboard/speechgate/internal/protocol"
)

// workerPayload is the canonical form of a worker's JSON output, regardless
// of which schema version produced it.
type workerPayload struct {
	Success      bool
	Transcript   string
	Confidence   *float64
	ServiceID    string
	Processing   int64
	WordTiming   []protocol.WordTiming
	ErrorCode    string
	ErrorMessage string
}

// payloadV2 is the current worker schema.
type payloadV2 struct {
	Success          *bool                 `json:"success"`
	Transcript       *string               `json:"transcript"`
	Confidence       *float64              `json:"confidence"`
	ServiceID        string                `json:"serviceId"`
	ProcessingTimeMS int64                 `json:"processingTimeMs"`
	WordTiming       []protocol.WordTiming `json:"wordTiming"`
	ErrorCode        string                `json:"errorCode"`
	ErrorMessage     string                `json:"errorMessage"`
}

// payloadV1 is the legacy schema produced by older workers, which reported
// the transcript under "text" (or "transcription") and the engine under
// "service".
type payloadV1 struct {
	Text          *string  `json:"text"`
	Transcription *string  `json:"transcription"`
	Confidence    *float64 `json:"confidence"`
	Service       string   `json:"service"`
	Error         string   `json:"error"`
}

// parsePayload normalizes any known worker output schema into the canonical
// form. Empty or malformed output is a PARSE_ERROR.
func parsePayload(data []byte) (workerPayload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return workerPayload{}, fmt.Errorf("empty worker output")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return workerPayload{}, fmt.Errorf("decode worker output: %w", err)
	}

	if _, ok := probe["transcript"]; ok {
		return normalizeV2(trimmed)
	}
	if _, ok := probe["serviceId"]; ok {
		return normalizeV2(trimmed)
	}
	if _, ok := probe["success"]; ok {
		return normalizeV2(trimmed)
	}
	return normalizeV1(trimmed)
}

func normalizeV2(data []byte) (workerPayload, error) {
	var p payloadV2
	if err := json.Unmarshal(data, &p); err != nil {
		return workerPayload{}, fmt.Errorf("decode v2 payload: %w", err)
	}
	out := workerPayload{
		ServiceID:    p.ServiceID,
		Processing:   p.ProcessingTimeMS,
		WordTiming:   p.WordTiming,
		ErrorCode:    p.ErrorCode,
		ErrorMessage: p.ErrorMessage,
		Confidence:   p.Confidence,
	}
	if p.Transcript != nil {
		out.Transcript = *p.Transcript
	}
	if p.Success != nil {
		out.Success = *p.Success
	} else {
		out.Success = out.Transcript != "" && out.ErrorCode == ""
	}
	return out, nil
}

func normalizeV1(data []byte) (workerPayload, error) {
	var p payloadV1
	if err := json.Unmarshal(data, &p); err != nil {
		return workerPayload{}, fmt.Errorf("decode v1 payload: %w", err)
	}
	out := workerPayload{
		ServiceID:  p.Service,
		Confidence: p.Confidence,
	}
	switch {
	case p.Text != nil:
		out.Transcript = *p.Text
	case p.Transcription != nil:
		out.Transcript = *p.Transcription
	default:
		return workerPayload{}, fmt.Errorf("unrecognized worker payload schema")
	}
	if p.Error != "" {
		out.ErrorCode = protocol.CodeProcessError
		out.ErrorMessage = p.Error
	}
	out.Success = out.Transcript != "" && p.Error == ""
	return out, nil
}
