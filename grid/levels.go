package grid

import "sort"

// buildLevels derives count evenly spaced levels around the current
// price. Adjacent levels sit half a spacing step apart; the lower half
// are buys, the upper half sells. With price 45000, spacing 1% and four
// levels this yields buys at 44775 and 44550 and sells at 45225 and
// 45450.
func buildLevels(price, spacingPct float64, count int) []*Level {
	if count < 2 {
		count = 2
	}
	half := count / 2
	step := spacingPct / 2 / 100

	levels := make([]*Level, 0, half*2)
	for k := 1; k <= half; k++ {
		levels = append(levels, &Level{
			Price: price * (1 - step*float64(k)),
			Side:  "BUY",
			State: LevelEmpty,
		})
		levels = append(levels, &Level{
			Price: price * (1 + step*float64(k)),
			Side:  "SELL",
			State: LevelEmpty,
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

// adjacentPrice returns the neighbouring ladder price one half-step away
// from p, above when up is true.
func adjacentPrice(p, spacingPct float64, up bool) float64 {
	step := spacingPct / 2 / 100
	if up {
		return p * (1 + step)
	}
	return p * (1 - step)
}
