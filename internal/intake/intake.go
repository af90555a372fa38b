// Package intake validates uploaded audio and derives its container format
// and metadata before anything downstream runs.
package intake

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"github.com/aacboard/speechgate/internal/protocol"
)

// Format is the detected audio container format.
type Format string

const (
	FormatWAV     Format = "WAV"
	FormatMP3     Format = "MP3"
	FormatFLAC    Format = "FLAC"
	FormatAIFF    Format = "AIFF"
	FormatOGG     Format = "OGG"
	FormatM4A     Format = "M4A"
	FormatRAW     Format = "RAW"
	FormatPCM     Format = "PCM"
	FormatUnknown Format = "UNKNOWN"
)

// SupportedFormats lists the formats the gateway accepts, in display order.
var SupportedFormats = []Format{FormatWAV, FormatMP3, FormatFLAC, FormatAIFF, FormatOGG, FormatM4A, FormatRAW, FormatPCM}

// UploadedAudio holds one request's audio. It lives only for the request
// and is never written to disk by the gateway itself.
type UploadedAudio struct {
	Data           []byte
	Filename       string
	Format         Format
	Size           int64
	SampleRateHint int
}

// Metadata is derived audio information, populated progressively: the
// intake layer fills what the container reveals, the worker may later
// override with measured values.
type Metadata struct {
	Duration   float64
	SampleRate int
	Channels   int
	MIMEType   string
}

// Merge overlays worker-discovered values on top of intake guesses.
// Zero values never overwrite known ones.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m
	if other.Duration > 0 {
		out.Duration = other.Duration
	}
	if other.SampleRate > 0 {
		out.SampleRate = other.SampleRate
	}
	if other.Channels > 0 {
		out.Channels = other.Channels
	}
	if other.MIMEType != "" {
		out.MIMEType = other.MIMEType
	}
	return out
}

// Accept validates the raw upload and sniffs its format. It fails fast with
// NO_FILE or FILE_TOO_LARGE before any processing happens.
func Accept(data []byte, filename string, sampleRateHint int, maxBytes int64) (*UploadedAudio, error) {
	if len(data) == 0 {
		return nil, protocol.NewRequestError(protocol.CodeNoFile, "no audio file provided")
	}
	if int64(len(data)) > maxBytes {
		return nil, protocol.NewRequestError(protocol.CodeFileTooLarge,
			fmt.Sprintf("audio file exceeds maximum size of %d bytes", maxBytes))
	}
	return &UploadedAudio{
		Data:           data,
		Filename:       filename,
		Format:         DetectFormat(data, filename),
		Size:           int64(len(data)),
		SampleRateHint: sampleRateHint,
	}, nil
}

// DetectFormat sniffs the container from leading magic bytes, falls back to
// the filename extension, and defaults to WAV when both are inconclusive.
// WAV is the canonical format for the recognition workers, so it is the
// least surprising default.
func DetectFormat(data []byte, filename string) Format {
	if f := detectMagic(data); f != FormatUnknown {
		return f
	}
	if f := detectExtension(filename); f != FormatUnknown {
		return f
	}
	return FormatWAV
}

func detectMagic(data []byte) Format {
	if len(data) < 12 {
		return FormatUnknown
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG frame sync without an ID3 header
		return FormatMP3
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte("FORM")) && bytes.Equal(data[8:12], []byte("AIFF")):
		return FormatAIFF
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A
	}
	return FormatUnknown
}

func detectExtension(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".flac":
		return FormatFLAC
	case ".aiff", ".aif":
		return FormatAIFF
	case ".ogg":
		return FormatOGG
	case ".m4a":
		return FormatM4A
	case ".raw":
		return FormatRAW
	case ".pcm":
		return FormatPCM
	}
	return FormatUnknown
}

// MIMEType maps a format to its media type for the response metadata.
func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatAIFF:
		return "audio/aiff"
	case FormatOGG:
		return "audio/ogg"
	case FormatM4A:
		return "audio/mp4"
	case FormatRAW, FormatPCM:
		return "audio/l16"
	}
	return "application/octet-stream"
}

// ExtractMetadata reads what the container reveals about the audio. Only WAV
// carries enough header information to decode here; RAW/PCM uses the caller's
// sample-rate hint, everything else is left for the worker to fill in.
func ExtractMetadata(upload *UploadedAudio, defaultSampleRate int) Metadata {
	meta := Metadata{MIMEType: upload.Format.MIMEType()}

	switch upload.Format {
	case FormatWAV:
		if wavMeta, ok := wavMetadata(upload.Data); ok {
			wavMeta.MIMEType = meta.MIMEType
			return wavMeta
		}
	case FormatRAW, FormatPCM:
		rate := upload.SampleRateHint
		if rate <= 0 {
			rate = defaultSampleRate
		}
		meta.SampleRate = rate
		meta.Channels = 1
		// 16-bit mono assumed for raw streams
		meta.Duration = round3(float64(len(upload.Data)) / float64(rate*2))
	}
	return meta
}

func wavMetadata(data []byte) (Metadata, bool) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if decoder.SampleRate == 0 {
		return Metadata{}, false
	}
	meta := Metadata{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}
	if dur, err := decoder.Duration(); err == nil {
		meta.Duration = round3(dur.Seconds())
	}
	return meta, true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
