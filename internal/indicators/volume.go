package indicators

// mfi computes the money flow index for the final bar.
func mfi(highs, lows, closes, volumes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}

	positive, negative := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		tp := (highs[i] + lows[i] + closes[i]) / 3
		prevTP := (highs[i-1] + lows[i-1] + closes[i-1]) / 3
		flow := tp * volumes[i]
		if tp > prevTP {
			positive += flow
		} else if tp < prevTP {
			negative += flow
		}
	}

	if negative == 0 {
		if positive == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+positive/negative)
}

// vwap computes the volume-weighted average price over the window.
func vwap(highs, lows, closes, volumes []float64) float64 {
	sumTPV, sumV := 0.0, 0.0
	for i := range closes {
		tp := (highs[i] + lows[i] + closes[i]) / 3
		sumTPV += tp * volumes[i]
		sumV += volumes[i]
	}
	if sumV == 0 {
		return closes[len(closes)-1]
	}
	return sumTPV / sumV
}

// obv computes on-balance volume over the window.
func obv(closes, volumes []float64) float64 {
	if len(closes) == 0 {
		return 0
	}
	total := volumes[0]
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			total += volumes[i]
		case closes[i] < closes[i-1]:
			total -= volumes[i]
		}
	}
	return total
}
