// Package concore provides the ambient stack shared by the core
// concurrency toolkit: structured logging, a small error-kind
// taxonomy, and a monotonic clock hook.
//
// # Subsystems
//
// The toolkit itself lives in subpackages:
//
//   - hazard: hazard-pointer safe memory reclamation
//   - ebr: epoch-based safe memory reclamation
//   - future: futures, promises, and the whenAll combinators
//   - netcount: balancer/merger/bitonic counting networks
//   - combiningtree: the combining tree
//   - ratelimit: a token-bucket rate limiter
//
// None of those subpackages perform I/O or own a transport; this
// package exists only to give them a single place to log through and
// a single vocabulary of error kinds, matching the engineering
// conventions of the rest of the repository.
//
// # Error Kinds
//
// Every misuse or bug surfaced by a subsystem is reported as one of
// the [Kind] values via [*Error]: [AlreadySatisfied], [Uninitialized],
// [InvalidSlot], [InvalidArgument], [LogicError], or [UserException].
// All support [errors.Is] against the [Kind] sentinels and
// [errors.As] for unwrapping a captured cause.
//
// # Logging
//
// Subsystems log through the [Logger] interface rather than calling
// fmt/log directly. Set a package-wide default with
// [SetStructuredLogger]; the default is a no-op.
package concore
