package indicators

// zscore computes how many standard deviations the final close sits from its
// rolling mean, returning (z, mean, std).
func zscore(closes []float64, period int) (float64, float64, float64) {
	if len(closes) < period {
		last := closes[len(closes)-1]
		return 0, last, 0
	}

	window := closes[len(closes)-period:]
	m := mean(window)
	sd := stddev(window)

	if sd == 0 {
		return 0, m, 0
	}
	return (window[len(window)-1] - m) / sd, m, sd
}
