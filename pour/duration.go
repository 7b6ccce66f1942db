// Package pour maps a paid amount to a solenoid-open duration.
package pour

import "math"

// MinSeconds is the floor applied to every calculated pour. Anything shorter
// does not move a measurable amount of liquid through the valve.
const MinSeconds = 0.5

// Rate captures a channel's amount-to-duration mapping.
type Rate struct {
	// SatsPerSecond is the pour rate. Non-positive disables the mapping and
	// every pour uses DefaultSeconds.
	SatsPerSecond float64
	// MaxSeconds is the safety cap on a single pour.
	MaxSeconds float64
	// DefaultSeconds is used when SatsPerSecond is non-positive.
	DefaultSeconds float64
}

// Duration returns the pour duration in seconds for the given amount. Total:
// never fails, always returns a usable duration. The result is clamped to
// [MinSeconds, MaxSeconds] and rounded to one decimal place.
func (r Rate) Duration(amountSats int64) float64 {
	if r.SatsPerSecond <= 0 {
		return r.DefaultSeconds
	}
	seconds := float64(amountSats) / r.SatsPerSecond
	if seconds > r.MaxSeconds {
		seconds = r.MaxSeconds
	}
	if seconds < MinSeconds {
		seconds = MinSeconds
	}
	return math.Round(seconds*10) / 10
}
