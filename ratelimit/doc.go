// Package ratelimit implements the token-bucket rate limiter named
// in spec.md §4.7: a [Limiter] configured by permits-per-second and a
// max burst duration, offering a blocking [Limiter.Acquire] and a
// bounded-wait [Limiter.TryAcquire].
package ratelimit
