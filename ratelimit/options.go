package ratelimit

import (
	concore "github.com/joeycumines/go-concore"
)

// limiterOptions holds configuration for Limiter construction.
type limiterOptions struct {
	id           int64
	clock        concore.Clock
	maxBurstSecs float64
	log          concore.Logger
}

// Option configures a Limiter at construction, following the same
// functional-options pattern used throughout this module's
// subsystems (hazard.Option, ebr.Option, future.Option).
type Option interface {
	apply(*limiterOptions)
}

type optionImpl struct {
	applyFunc func(*limiterOptions)
}

func (o *optionImpl) apply(opts *limiterOptions) {
	o.applyFunc(opts)
}

// WithID tags the limiter's log entries (concore.LogRateLimiterRescale).
func WithID(id int64) Option {
	return &optionImpl{func(opts *limiterOptions) { opts.id = id }}
}

// WithClock overrides the monotonic clock used to resync the bucket
// and to sleep out reservations. The default is [concore.SystemClock].
// Tests substitute a fake clock to avoid real sleeps.
func WithClock(c concore.Clock) Option {
	return &optionImpl{func(opts *limiterOptions) { opts.clock = c }}
}

// WithMaxBurstSeconds sets the bucket's capacity in seconds of steady
// throughput (max_permits = rate * maxBurstSeconds). Must be positive.
// The default is 1.0, matching spec.md §4.7.
func WithMaxBurstSeconds(seconds float64) Option {
	return &optionImpl{func(opts *limiterOptions) { opts.maxBurstSecs = seconds }}
}

// WithLogger sets the structured logger used for SetRate rescale
// diagnostics. The default is the package-wide global logger.
func WithLogger(l concore.Logger) Option {
	return &optionImpl{func(opts *limiterOptions) { opts.log = l }}
}

func resolveOptions(opts []Option) *limiterOptions {
	cfg := &limiterOptions{clock: concore.SystemClock, maxBurstSecs: 1.0}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(cfg)
		}
	}
	return cfg
}
