// Package analytics computes the tiered L1/L2/L3 feature set (§4.5) for
// watchlisted tickers. formulas.go computes returns and dispersion over
// gonum/stat, narrowed to the one statistic needed: sample standard
// deviation of successive candle-to-candle returns as the
// realized-volatility measure.
package analytics

import "gonum.org/v1/gonum/stat"

// returnsFromCloses converts a close-price series into successive period
// returns.
func returnsFromCloses(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	return returns
}

// realizedVolatility is the sample standard deviation of successive
// period-to-period returns; 0 if fewer than two usable returns (§4.5).
func realizedVolatility(closes []float64) float64 {
	returns := returnsFromCloses(closes)
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}
