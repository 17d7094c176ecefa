package ratelimit

// StoredPermitsForTest reports the limiter's current stored-permit count,
// mirroring the introspection hooks [hazard] exposes via its own
// export_test.go, so tests can assert on the bucket's internal state
// directly instead of only inferring it from Acquire/TryAcquire wait
// times.
func StoredPermitsForTest(l *Limiter) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.storedPermits
}
