// Package protocol defines the wire contract shared by the HTTP surface,
// the request log, and the bus publisher. Field names are camelCase to stay
// compatible with the AAC board clients.
package protocol

import "time"

// Stable machine-readable error codes returned to clients.
const (
	CodeNoFile            = "NO_FILE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeAudioQuality      = "AUDIO_QUALITY_ISSUES"
	CodeParseError        = "PARSE_ERROR"
	CodeProcessError      = "PROCESS_ERROR"
	CodeAllServicesFailed = "ALL_SERVICES_FAILED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// AudioInfo describes the audio attached to a response.
type AudioInfo struct {
	Duration   float64 `json:"duration,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Format     string  `json:"format"`
	Channels   int     `json:"channels,omitempty"`
}

// AACInfo carries command classification results.
type AACInfo struct {
	CommandMode      bool     `json:"commandMode"`
	CommandType      string   `json:"commandType,omitempty"`
	IsCommand        bool     `json:"isCommand"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
}

// RequestInfo captures client context at request entry.
type RequestInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress,omitempty"`
	User      string    `json:"user,omitempty"`
}

// WordTiming is one word-level timing entry from an engine that supports it.
type WordTiming struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Confidence float64 `json:"confidence"`
}

// EngineResult reports one engine attempt, successful or not.
type EngineResult struct {
	Service          string   `json:"service"`
	Success          bool     `json:"success"`
	Transcription    string   `json:"transcription,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	ProcessingTimeMS int64    `json:"processingTimeMs"`
	ErrorCode        string   `json:"errorCode,omitempty"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
}

// ErrorInfo is the error block of a failed response.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details []EngineResult `json:"details,omitempty"`
}

// ResponseEnvelope is the terminal artifact of an upload request. Success
// and error responses share this shape; clients branch on Success only.
type ResponseEnvelope struct {
	RequestID           string         `json:"requestId"`
	Success             bool           `json:"success"`
	Transcription       string         `json:"transcription,omitempty"`
	Confidence          *float64       `json:"confidence,omitempty"`
	AggregateConfidence *float64       `json:"aggregateConfidence,omitempty"`
	Service             string         `json:"service,omitempty"`
	ProcessingTimeMS    int64          `json:"processingTimeMs"`
	Results             []EngineResult `json:"results,omitempty"`
	Audio               AudioInfo      `json:"audio"`
	Request             RequestInfo    `json:"request"`
	AAC                 AACInfo        `json:"aac"`
	WordTiming          []WordTiming   `json:"wordTiming,omitempty"`
	Warnings            []string       `json:"warnings,omitempty"`
	Error               *ErrorInfo     `json:"error,omitempty"`
}

// TranscriptEvent is broadcast on the bus for each completed recognition.
type TranscriptEvent struct {
	RequestID     string    `json:"requestId"`
	UserID        string    `json:"userId,omitempty"`
	Success       bool      `json:"success"`
	Transcription string    `json:"transcription,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Service       string    `json:"service,omitempty"`
	CommandMode   bool      `json:"commandMode"`
	CommandType   string    `json:"commandType,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal  = "speech.transcript.final"
	SubjectTranscriptFailed = "speech.transcript.failed"
)
