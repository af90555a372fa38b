package quality

import "math"

const (
	highpassCutoffHz = 80.0
	normalizePeak    = 0.9
)

// Preprocess removes low-frequency noise with a 4th-order Butterworth
// high-pass at 80 Hz and peak-normalizes to 90% of full scale. The filter
// runs forward and backward so it adds no group delay, keeping word timing
// from the workers aligned with the original audio.
func Preprocess(clip *Clip) *Clip {
	if clip == nil || len(clip.Samples) == 0 {
		return clip
	}
	nyquist := float64(clip.SampleRate) / 2
	if nyquist <= highpassCutoffHz {
		return clip
	}

	data := make([]float64, len(clip.Samples))
	for i, s := range clip.Samples {
		data[i] = float64(s)
	}

	sections := butterworthHighpass(highpassCutoffHz, float64(clip.SampleRate))
	filtfilt(data, sections)
	normalize(data)

	out := &Clip{
		Samples:    make([]int16, len(data)),
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
	}
	for i, v := range data {
		out.Samples[i] = clampSample(v)
	}
	return out
}

// biquad is one second-order filter section in direct form II transposed.
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (q biquad) apply(data []float64) {
	var z1, z2 float64
	for i, x := range data {
		y := q.b0*x + z1
		z1 = q.b1*x - q.a1*y + z2
		z2 = q.b2*x - q.a2*y
		data[i] = y
	}
}

// butterworthHighpass builds a 4th-order Butterworth high-pass as a cascade
// of two biquads with the standard Butterworth Q values.
func butterworthHighpass(cutoffHz, sampleRate float64) []biquad {
	qs := []float64{0.54119610, 1.30656296}
	sections := make([]biquad, 0, len(qs))
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosw0 := math.Cos(w0)
	sinw0 := math.Sin(w0)
	for _, q := range qs {
		alpha := sinw0 / (2 * q)
		a0 := 1 + alpha
		sections = append(sections, biquad{
			b0: (1 + cosw0) / 2 / a0,
			b1: -(1 + cosw0) / a0,
			b2: (1 + cosw0) / 2 / a0,
			a1: -2 * cosw0 / a0,
			a2: (1 - alpha) / a0,
		})
	}
	return sections
}

// filtfilt applies the cascade forward, then again over the reversed signal,
// cancelling phase distortion.
func filtfilt(data []float64, sections []biquad) {
	for _, s := range sections {
		s.apply(data)
	}
	reverse(data)
	for _, s := range sections {
		s.apply(data)
	}
	reverse(data)
}

func reverse(data []float64) {
	for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}
}

func normalize(data []float64) {
	var peak float64
	for _, v := range data {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return
	}
	scale := math.MaxInt16 * normalizePeak / peak
	for i := range data {
		data[i] *= scale
	}
}
