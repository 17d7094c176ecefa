// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package future

// promiseOptions holds configuration for Promise creation.
type promiseOptions struct {
	id int64
}

// Option configures a Promise at construction, following the same
// functional-options pattern used throughout this module's
// subsystems.
type Option interface {
	apply(*promiseOptions)
}

type optionImpl struct {
	applyFunc func(*promiseOptions)
}

func (o *optionImpl) apply(opts *promiseOptions) {
	o.applyFunc(opts)
}

// WithID tags the promise's shared state with an identifier used in
// structured log entries (concore.LogPromiseSettled,
// concore.LogContinuationPanicked). The default is 0.
func WithID(id int64) Option {
	return &optionImpl{func(opts *promiseOptions) {
		opts.id = id
	}}
}

// resolveOptions applies Option instances to a fresh promiseOptions.
func resolveOptions(opts []Option) *promiseOptions {
	cfg := &promiseOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	return cfg
}
