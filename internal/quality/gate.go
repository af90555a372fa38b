// Package quality gates uploads on duration, loudness and sample rate, and
// cleans PCM audio before it reaches a recognition worker.
package quality

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/aacboard/speechgate/internal/intake"
)

const (
	minDuration       = 0.1
	shortDuration     = 0.3
	longDuration      = 30.0
	silentRMS         = 50.0
	lowVolumeRMS      = 200.0
	minSampleRate     = 8000
	optimalSampleRate = 16000
)

// Report lists blocking issues and non-blocking warnings. Any issue stops
// the pipeline before an engine is invoked.
type Report struct {
	Issues   []string
	Warnings []string
}

func (r Report) Valid() bool {
	return len(r.Issues) == 0
}

// Clip is decoded 16-bit PCM, the unit the preprocessor works on.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// RMS measures loudness over the raw sample values, matching what the
// recognition workers see.
func (c *Clip) RMS() float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c.Samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(c.Samples)))
}

// Decode extracts PCM samples from WAV and RAW/PCM uploads. Compressed
// formats are left to the worker; ok=false means the gate can only apply
// metadata-level checks.
func Decode(upload *intake.UploadedAudio, meta intake.Metadata) (*Clip, bool) {
	switch upload.Format {
	case intake.FormatWAV:
		return decodeWAV(upload.Data)
	case intake.FormatRAW, intake.FormatPCM:
		rate := meta.SampleRate
		if rate <= 0 {
			rate = optimalSampleRate
		}
		return &Clip{
			Samples:    bytesToSamples(upload.Data),
			SampleRate: rate,
			Channels:   1,
		}, true
	}
	return nil, false
}

func decodeWAV(data []byte) (*Clip, bool) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	buf, err := decoder.FullPCMBuffer()
	if err != nil || buf == nil || buf.Format == nil {
		return nil, false
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = clampSample(float64(v))
	}
	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, true
}

// Validate applies the gate rules. The clip may be nil for formats the
// gateway cannot decode; loudness checks are skipped in that case.
func Validate(meta intake.Metadata, clip *Clip) Report {
	var report Report

	duration := meta.Duration
	if duration == 0 && clip != nil {
		duration = clip.Duration()
	}
	switch {
	case duration > 0 && duration < minDuration:
		report.Issues = append(report.Issues, "Audio too short (< 0.1s)")
	case duration > 0 && duration < shortDuration:
		report.Warnings = append(report.Warnings, "Audio may be too short for reliable recognition")
	case duration > longDuration:
		report.Warnings = append(report.Warnings, "Long audio may increase processing time")
	}

	if clip != nil {
		rms := clip.RMS()
		if rms < silentRMS {
			report.Issues = append(report.Issues, "Audio appears silent or nearly silent")
		} else if rms < lowVolumeRMS {
			report.Warnings = append(report.Warnings, "Audio volume is low")
		}
	} else {
		report.Warnings = append(report.Warnings, "Could not analyze audio volume")
	}

	rate := meta.SampleRate
	if rate == 0 && clip != nil {
		rate = clip.SampleRate
	}
	if rate > 0 {
		if rate < minSampleRate {
			report.Issues = append(report.Issues, "Sample rate too low (< 8kHz)")
		} else if rate < optimalSampleRate {
			report.Warnings = append(report.Warnings, "Sample rate below optimal (16kHz recommended)")
		}
	}

	return report
}

// EncodeWAV renders the clip as a 16-bit WAV stream for the workers.
func (c *Clip) EncodeWAV() ([]byte, error) {
	buf := &writeSeekBuffer{}
	enc := wav.NewEncoder(buf, c.SampleRate, 16, c.Channels, 1)
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(s)
	}
	if err := enc.Write(&gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate},
		Data:   data,
	}); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return buf.data, nil
}

func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// writeSeekBuffer adapts a byte slice to the io.WriteSeeker the wav encoder
// needs for header patching.
type writeSeekBuffer struct {
	data []byte
	pos  int
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.data) {
		b.data = append(b.data, make([]byte, b.pos+len(p)-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = int(offset)
	case 1:
		b.pos += int(offset)
	case 2:
		b.pos = len(b.data) + int(offset)
	}
	if b.pos < 0 {
		b.pos = 0
	}
	return int64(b.pos), nil
}
