// Package envelope assembles the standardized response contract. Success
// and error envelopes share one shape so clients branch on the success flag
// only; optional fields are omitted rather than sent as null to keep
// payloads small for low-bandwidth AAC devices.
package envelope

import (
	"math"
	"time"

	"github.com/aacboard/speechgate/internal/aac"
	"github.com/aacboard/speechgate/internal/engine"
	"github.com/aacboard/speechgate/internal/intake"
	"github.com/aacboard/speechgate/internal/protocol"
)

// Params carries the request-scoped inputs every envelope needs.
type Params struct {
	RequestID   string
	Start       time.Time
	Meta        intake.Metadata
	Format      intake.Format
	Request     protocol.RequestInfo
	CommandMode bool
	Warnings    []string
}

// Success builds the envelope for a completed recognition.
func Success(p Params, selected engine.BackendResult, aggregate *float64, results []engine.BackendResult) protocol.ResponseEnvelope {
	env := protocol.ResponseEnvelope{
		RequestID:           p.RequestID,
		Success:             true,
		Transcription:       selected.Transcript,
		Confidence:          roundPtr(selected.Confidence),
		AggregateConfidence: roundPtr(aggregate),
		Service:             selected.Service,
		ProcessingTimeMS:    time.Since(p.Start).Milliseconds(),
		Results:             toEngineResults(results),
		Audio:               audioInfo(p),
		Request:             p.Request,
		AAC:                 aacInfo(p.CommandMode, selected.Transcript),
		WordTiming:          selected.WordTiming,
		Warnings:            p.Warnings,
	}
	return env
}

// Failure builds the envelope for a failed request. results may be empty
// when the failure happened before any engine ran.
func Failure(p Params, code, message string, results []engine.BackendResult) protocol.ResponseEnvelope {
	return protocol.ResponseEnvelope{
		RequestID:        p.RequestID,
		Success:          false,
		ProcessingTimeMS: time.Since(p.Start).Milliseconds(),
		Audio:            audioInfo(p),
		Request:          p.Request,
		AAC:              protocol.AACInfo{CommandMode: p.CommandMode},
		Warnings:         p.Warnings,
		Error: &protocol.ErrorInfo{
			Code:    code,
			Message: message,
			Details: toEngineResults(results),
		},
	}
}

func audioInfo(p Params) protocol.AudioInfo {
	format := string(p.Format)
	if format == "" {
		format = string(intake.FormatWAV)
	}
	return protocol.AudioInfo{
		Duration:   p.Meta.Duration,
		SampleRate: p.Meta.SampleRate,
		Format:     format,
		Channels:   p.Meta.Channels,
	}
}

func aacInfo(commandMode bool, transcript string) protocol.AACInfo {
	info := protocol.AACInfo{CommandMode: commandMode}
	if !commandMode {
		return info
	}
	category := aac.Classify(transcript)
	info.CommandType = string(category)
	info.IsCommand = category.IsCommand()
	if category.IsCommand() {
		info.SuggestedActions = aac.SuggestedActions(category)
	}
	return info
}

func toEngineResults(results []engine.BackendResult) []protocol.EngineResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]protocol.EngineResult, 0, len(results))
	for _, r := range results {
		er := protocol.EngineResult{
			Service:          r.Service,
			Success:          r.Success,
			Transcription:    r.Transcript,
			Confidence:       roundPtr(r.Confidence),
			ProcessingTimeMS: r.ProcessingTime.Milliseconds(),
		}
		if r.Err != nil {
			er.ErrorCode = r.Err.Code
			er.ErrorMessage = r.Err.Message
		}
		out = append(out, er)
	}
	return out
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded := math.Round(*v*1000) / 1000
	return &rounded
}
