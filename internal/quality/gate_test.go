package quality

import (
	"math"
	"testing"

	"github.com/aacboard/speechgate/internal/intake"
)

func toneClip(sampleRate int, durationSec, freqHz, amplitude float64) *Clip {
	n := int(float64(sampleRate) * durationSec)
	samples := make([]int16, n)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		samples[i] = int16(v)
	}
	return &Clip{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

func TestValidateTooShortBlocks(t *testing.T) {
	clip := toneClip(16000, 0.05, 440, 8000)
	report := Validate(intake.Metadata{}, clip)
	if report.Valid() {
		t.Fatal("expected blocking issue for clip under 0.1s")
	}
}

func TestValidateShortWarns(t *testing.T) {
	clip := toneClip(16000, 0.2, 440, 8000)
	report := Validate(intake.Metadata{}, clip)
	if !report.Valid() {
		t.Fatalf("expected no blocking issues, got %v", report.Issues)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected short-clip warning")
	}
}

func TestValidateLongAudioWarnsOnly(t *testing.T) {
	report := Validate(intake.Metadata{Duration: 45, SampleRate: 16000}, toneClip(16000, 1, 440, 8000))
	if !report.Valid() {
		t.Fatalf("long audio must not block, got %v", report.Issues)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected long-audio warning")
	}
}

func TestValidateSilenceBlocks(t *testing.T) {
	clip := &Clip{Samples: make([]int16, 16000), SampleRate: 16000, Channels: 1}
	report := Validate(intake.Metadata{}, clip)
	if report.Valid() {
		t.Fatal("expected blocking issue for silent audio")
	}
}

func TestValidateLowVolumeWarns(t *testing.T) {
	clip := toneClip(16000, 1, 440, 150)
	report := Validate(intake.Metadata{}, clip)
	if !report.Valid() {
		t.Fatalf("low volume must not block, got %v", report.Issues)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("expected low-volume warning")
	}
}

func TestValidateSampleRateRules(t *testing.T) {
	low := Validate(intake.Metadata{SampleRate: 4000}, toneClip(4000, 1, 200, 8000))
	if low.Valid() {
		t.Fatal("expected blocking issue below 8kHz")
	}
	suboptimal := Validate(intake.Metadata{SampleRate: 11025}, toneClip(11025, 1, 440, 8000))
	if !suboptimal.Valid() {
		t.Fatalf("11kHz must not block, got %v", suboptimal.Issues)
	}
	if len(suboptimal.Warnings) == 0 {
		t.Fatal("expected below-optimal warning")
	}
}

func TestPreprocessRemovesLowFrequency(t *testing.T) {
	// 50 Hz hum plus a 1 kHz tone; the high-pass should strip the hum.
	sampleRate := 16000
	n := sampleRate
	samples := make([]int16, n)
	for i := range samples {
		hum := 8000 * math.Sin(2*math.Pi*50*float64(i)/float64(sampleRate))
		tone := 2000 * math.Sin(2*math.Pi*1000*float64(i)/float64(sampleRate))
		samples[i] = int16(hum + tone)
	}
	clip := &Clip{Samples: samples, SampleRate: sampleRate, Channels: 1}

	cleaned := Preprocess(clip)
	if len(cleaned.Samples) != n {
		t.Fatalf("sample count changed: %d -> %d", n, len(cleaned.Samples))
	}

	humBefore := goertzel(clip.Samples, sampleRate, 50)
	humAfter := goertzel(cleaned.Samples, sampleRate, 50)
	toneAfter := goertzel(cleaned.Samples, sampleRate, 1000)
	if humAfter > humBefore/10 {
		t.Fatalf("50Hz component not attenuated: before=%f after=%f", humBefore, humAfter)
	}
	if toneAfter < humAfter {
		t.Fatal("1kHz tone should dominate after filtering")
	}
}

func TestPreprocessNormalizesPeak(t *testing.T) {
	clip := toneClip(16000, 0.5, 1000, 1000)
	cleaned := Preprocess(clip)

	var peak int16
	for _, s := range cleaned.Samples {
		if s > peak {
			peak = s
		}
		if -s > peak {
			peak = -s
		}
	}
	wantF := float64(math.MaxInt16) * normalizePeak
	want := int16(wantF)
	if peak < want-500 || peak > math.MaxInt16 {
		t.Fatalf("expected peak near %d, got %d", want, peak)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	clip := toneClip(16000, 0.25, 440, 8000)
	data, err := clip.EncodeWAV()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if intake.DetectFormat(data, "") != intake.FormatWAV {
		t.Fatal("encoded stream is not a WAV container")
	}
	decoded, ok := decodeWAV(data)
	if !ok {
		t.Fatal("decode failed")
	}
	if decoded.SampleRate != 16000 || decoded.Channels != 1 {
		t.Fatalf("unexpected decode format: %+v", decoded)
	}
	if len(decoded.Samples) != len(clip.Samples) {
		t.Fatalf("sample count mismatch: %d != %d", len(decoded.Samples), len(clip.Samples))
	}
}

// goertzel measures the magnitude of one frequency component.
func goertzel(samples []int16, sampleRate int, freq float64) float64 {
	k := 2 * math.Cos(2*math.Pi*freq/float64(sampleRate))
	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample) + k*s1 - s2
		s2 = s1
		s1 = s0
	}
	return math.Sqrt(s1*s1 + s2*s2 - k*s1*s2)
}
