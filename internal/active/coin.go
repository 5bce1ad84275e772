package active

import "math"

// #region constants
const (
	coinC1  = 5.0 + 2*math.Sqrt2
	coinC2  = 5.0
	epsilon = 1e-4
)

// #endregion constants

// #region coin-bias
// CoinBias returns the probability of querying the label of an example whose
// disagreement-region confidence gap is g after k rounds. avgLoss is clamped
// to [0, 1]. Inside the threshold the label is always queried; outside it the
// probability falls off with g, or is zero in oracular mode. A NaN gap is
// treated as zero and the result is always in [0, 1].
func CoinBias(k, avgLoss, g, c0 float64, oracular, simpleThreshold bool) float64 {
	p, _ := coinBias(k, avgLoss, g, c0, oracular, simpleThreshold)
	return p
}

func coinBias(k, avgLoss, g, c0 float64, oracular, simpleThreshold bool) (p, threshold float64) {
	if math.IsNaN(g) {
		g = 0
	}
	b := c0 * (math.Log(k+1) + epsilon) / (k + epsilon)
	sb := math.Sqrt(b)
	avgLoss = math.Min(1, math.Max(0, avgLoss))

	sl := math.Sqrt(avgLoss) + math.Sqrt(avgLoss+g)
	if simpleThreshold {
		threshold = sb + b
	} else {
		threshold = sb*sl + b
	}

	switch {
	case g <= threshold:
		return 1, threshold
	case oracular:
		return 0, threshold
	}

	var rs float64
	switch {
	case math.IsInf(g, 1):
		return 0, threshold
	case simpleThreshold:
		a := (coinC1-1)*sb + (coinC2-1)*b + g
		rs = (coinC1 + math.Sqrt(coinC1*coinC1+4*a*coinC2)) / (2 * a)
	default:
		rs = (sl + math.Sqrt(sl*sl+4*g)) / (2 * g)
	}
	return math.Min(1, math.Max(0, b*rs*rs)), threshold
}

// #endregion coin-bias

func sign(w float64) float64 {
	if w < 0 {
		return -1
	}
	return 1
}
