package indicators

// rsi computes Wilder's relative strength index for the final bar.
func rsi(closes []float64, period int) float64 {
	if len(closes) <= period {
		return 50
	}

	up := 0.0
	down := 0.0
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta >= 0 {
			up += delta
		} else {
			down -= delta
		}
	}
	up /= float64(period)
	down /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		upval, downval := 0.0, 0.0
		if delta > 0 {
			upval = delta
		} else {
			downval = -delta
		}
		up = (up*float64(period-1) + upval) / float64(period)
		down = (down*float64(period-1) + downval) / float64(period)
	}

	if down == 0 {
		if up == 0 {
			return 50
		}
		return 100
	}
	rs := up / down
	return 100 - 100/(1+rs)
}

// stochastic computes %K and its smoothed %D for the final bar.
func stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (float64, float64) {
	if len(closes) < kPeriod+dPeriod {
		return 50, 50
	}

	kValues := make([]float64, dPeriod)
	for j := 0; j < dPeriod; j++ {
		end := len(closes) - j
		lo, hi := lows[end-kPeriod], highs[end-kPeriod]
		for i := end - kPeriod; i < end; i++ {
			if lows[i] < lo {
				lo = lows[i]
			}
			if highs[i] > hi {
				hi = highs[i]
			}
		}
		if hi == lo {
			kValues[dPeriod-1-j] = 50
		} else {
			kValues[dPeriod-1-j] = 100 * (closes[end-1] - lo) / (hi - lo)
		}
	}

	return kValues[dPeriod-1], mean(kValues)
}

// cci computes the commodity channel index for the final bar.
func cci(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}

	typical := make([]float64, period)
	start := len(closes) - period
	for i := 0; i < period; i++ {
		typical[i] = (highs[start+i] + lows[start+i] + closes[start+i]) / 3
	}

	sma := mean(typical)
	meanDev := 0.0
	for _, tp := range typical {
		if tp > sma {
			meanDev += tp - sma
		} else {
			meanDev += sma - tp
		}
	}
	meanDev /= float64(period)

	if meanDev == 0 {
		return 0
	}
	return (typical[period-1] - sma) / (0.015 * meanDev)
}
