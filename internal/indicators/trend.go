package indicators

// ema computes an exponential moving average over the full series and returns
// the final value.
func ema(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	series := emaSeries(values, period)
	return series[len(series)-1]
}

func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mult := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*mult + out[i-1]
	}
	return out
}

// macd returns the MACD line, signal line and histogram for the final bar.
func macd(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	if len(closes) < slow {
		return 0, 0, 0
	}

	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalSeries := emaSeries(line, signal)

	last := len(closes) - 1
	return line[last], signalSeries[last], line[last] - signalSeries[last]
}

// adx computes the average directional index for the final bar.
func adx(highs, lows, closes []float64, period int) float64 {
	if len(closes) < 2*period+1 {
		return 0
	}

	n := len(closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}

		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	dx := make([]float64, 0, n)
	for i := period; i < n; i++ {
		sumPlus, sumMinus, sumTR := 0.0, 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			sumPlus += plusDM[j]
			sumMinus += minusDM[j]
			sumTR += tr[j]
		}
		if sumTR == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * sumPlus / sumTR
		minusDI := 100 * sumMinus / sumTR
		sum := plusDI + minusDI
		if sum == 0 {
			dx = append(dx, 0)
			continue
		}
		diff := plusDI - minusDI
		if diff < 0 {
			diff = -diff
		}
		dx = append(dx, 100*diff/sum)
	}

	if len(dx) < period {
		return 0
	}
	return mean(dx[len(dx)-period:])
}

func trueRange(high, low, prevClose float64) float64 {
	hl := high - low
	hc := high - prevClose
	if hc < 0 {
		hc = -hc
	}
	lc := low - prevClose
	if lc < 0 {
		lc = -lc
	}
	tr := hl
	if hc > tr {
		tr = hc
	}
	if lc > tr {
		tr = lc
	}
	return tr
}

// regressionSlope computes the least-squares slope of the last period closes,
// normalized by the mean price so it is comparable across symbols.
func regressionSlope(closes []float64, period int) float64 {
	if len(closes) < period || period < 2 {
		return 0
	}

	window := closes[len(closes)-period:]
	n := float64(period)

	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom

	m := sumY / n
	if m == 0 {
		return 0
	}
	return slope / m
}
