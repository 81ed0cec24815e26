package query

// Confidence maps retrieved similarity scores (best first) to [0,1].
// It weighs the best match at 0.7 and the mean of all matches at 0.3, with
// negative scores counted as 0. Raising any score never lowers the result.
func Confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	best := 0.0
	sum := 0.0
	for _, s := range scores {
		if s < 0 {
			s = 0
		}
		if s > best {
			best = s
		}
		sum += s
	}
	mean := sum / float64(len(scores))

	return clamp01(0.7*best + 0.3*mean)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
