package infra

import "time"

const backoffMax = 60 * time.Second

// CalculateBackoffFrom returns base * 2^retry, capped at one minute.
func CalculateBackoffFrom(base time.Duration, retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 16 {
		return backoffMax
	}
	d := base << uint(retry)
	if d > backoffMax || d <= 0 {
		return backoffMax
	}
	return d
}
