package services

import (
	"math"
	"unicode/utf16"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// identityHash is the 31-multiplier string hash over UTF-16 code units,
// wrapping in signed 32-bit arithmetic. The result is made non-negative.
func identityHash(identity string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(identity)) {
		h = h*31 + int32(c)
	}
	if h < 0 {
		if h == math.MinInt32 {
			return math.MaxInt32
		}
		h = -h
	}
	return h
}

// normalizedHash maps identity into [0, 1]
func normalizedHash(identity string) float64 {
	return float64(identityHash(identity)) / math.MaxInt32
}

// shouldSample decides whether an event is kept. With consistent sampling
// the same identity always gets the same decision for a given rate.
func shouldSample(settings analytics.SamplingSettings, identity string, random func() float64) bool {
	if settings.Rate >= 1 {
		return true
	}
	if settings.Rate <= 0 {
		return false
	}
	if settings.Consistent && identity != "" {
		return normalizedHash(identity) < settings.Rate
	}
	return random() < settings.Rate
}
