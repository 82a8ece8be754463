package transport

import "golang.org/x/time/rate"

// newRateLimiter returns a per-session limiter, or nil when limiting is off.
// perSecond is the sustained request rate; burst is clamped to at least 1.
func newRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}
