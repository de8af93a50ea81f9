package indicators

import "math"

// atr computes the average true range for the final bar.
func atr(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}

	ranges := make([]float64, 0, period)
	for i := len(closes) - period; i < len(closes); i++ {
		ranges = append(ranges, trueRange(highs[i], lows[i], closes[i-1]))
	}
	return mean(ranges)
}

// bollinger returns upper, middle and lower bands for the final bar.
func bollinger(closes []float64, period int, stdDev float64) (float64, float64, float64) {
	if len(closes) < period {
		last := closes[len(closes)-1]
		return last, last, last
	}

	window := closes[len(closes)-period:]
	middle := mean(window)
	sd := stddev(window)

	return middle + sd*stdDev, middle, middle - sd*stdDev
}

// garmanKlass computes the Garman-Klass range volatility estimator, averaged
// over the window and annualized for minute bars. More efficient than
// close-to-close volatility because it uses the full bar range.
func garmanKlass(opens, highs, lows, closes []float64, window int) float64 {
	if len(closes) < window {
		return 0
	}

	start := len(closes) - window
	sum := 0.0
	for i := start; i < len(closes); i++ {
		h, l, o, c := highs[i], lows[i], opens[i], closes[i]
		if h <= 0 || l <= 0 || o <= 0 || c <= 0 {
			continue
		}
		hl := math.Log(h / l)
		co := math.Log(c / o)
		sum += 0.5*hl*hl - (2*math.Ln2-1)*co*co
	}

	variance := sum / float64(window)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance) * math.Sqrt(1440)
}
