package pairs

import (
	"math"

	"gridbot/trader"
)

const atrPeriod = 14

// atrPercent computes the average true range over the last atrPeriod
// candles, expressed as a percentage of the latest close. Returns 0 when
// there is not enough data.
func atrPercent(klines []trader.Kline) float64 {
	if len(klines) < atrPeriod+1 {
		return 0
	}

	start := len(klines) - atrPeriod
	sum := 0.0
	for i := start; i < len(klines); i++ {
		prevClose := klines[i-1].Close
		tr := klines[i].High - klines[i].Low
		if d := math.Abs(klines[i].High - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(klines[i].Low - prevClose); d > tr {
			tr = d
		}
		sum += tr
	}

	lastClose := klines[len(klines)-1].Close
	if lastClose <= 0 {
		return 0
	}
	return sum / atrPeriod / lastClose * 100
}
