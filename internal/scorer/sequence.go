package scorer

import "math"

// normalizeSequence resamples a per-frame feature sequence to exactly target
// elements. Sequences with at least target frames are reduced by uniform
// linear sampling (index round(i*(n-1)/(target-1))); shorter sequences are
// padded by repeating the last frame. Callers guarantee frames is non-empty
// and target >= 2.
func normalizeSequence(frames [][]float32, target int) [][]float32 {
	n := len(frames)
	out := make([][]float32, target)

	if n >= target {
		step := float64(n-1) / float64(target-1)
		for i := 0; i < target; i++ {
			out[i] = frames[int(math.Round(float64(i)*step))]
		}
		return out
	}

	copy(out, frames)
	last := frames[n-1]
	for i := n; i < target; i++ {
		out[i] = last
	}
	return out
}
