package puzzle

import (
	"math"
	"strconv"
	"strings"
)

// parseNumber accepts integers and decimals with surrounding space and
// an optional trailing percent sign.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// closeness scores got against want in percent: 100 when equal, falling
// linearly to 0 at an error of scale.
func closeness(got, want, scale float64) float64 {
	if scale <= 0 {
		scale = 1
	}
	acc := 100 * (1 - math.Abs(got-want)/scale)
	return clampPercent(acc)
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return math.Round(p*10) / 10
}
