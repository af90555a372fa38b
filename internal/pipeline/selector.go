package pipeline

import "github.com/aacboard/speechgate/internal/engine"

// Select returns the successful result with the highest confidence, or nil
// when nothing succeeded. Selection is by confidence rather than attempt
// order so a policy that collects more than one success needs no changes
// here. A success without a reported confidence loses to any scored one.
func Select(results []engine.BackendResult) *engine.BackendResult {
	var best *engine.BackendResult
	for i := range results {
		r := &results[i]
		if !r.Success {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if confidenceOf(r) > confidenceOf(best) {
			best = r
		}
	}
	return best
}

// Aggregate computes the mean confidence over successful results only.
// Failed engines are excluded from the mean, not counted as zero: one
// broken optional backend must not deflate a confident primary result.
func Aggregate(results []engine.BackendResult) *float64 {
	var sum float64
	var count int
	for i := range results {
		r := &results[i]
		if !r.Success || r.Confidence == nil {
			continue
		}
		sum += *r.Confidence
		count++
	}
	if count == 0 {
		return nil
	}
	mean := sum / float64(count)
	return &mean
}

func confidenceOf(r *engine.BackendResult) float64 {
	if r.Confidence == nil {
		return -1
	}
	return *r.Confidence
}
