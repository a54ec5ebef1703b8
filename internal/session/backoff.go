package session

import "time"

const maxReconnectDoublings = 5

func clampJitterRatio(value float64) float64 {
	return min(max(value, 0), 1)
}

// reconnectDelay doubles base for every consecutive failed attempt, caps
// it at 32x, then spreads it by ±jitterRatio using sample in [0, 1].
func reconnectDelay(attempt int, base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << min(max(attempt, 0), maxReconnectDoublings)
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return delay
	}
	sample = min(max(sample, 0), 1)
	factor := max(1+((sample*2)-1)*jitterRatio, 0)
	jittered := time.Duration(float64(delay) * factor)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}
