// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package future implements a value/exception channel with
// continuations (Then) and parallel combinators (WhenAll), supporting
// both eager ("prompt") and deferred satisfaction.
//
// It is a generics-based reimagining of the teacher package's
// channel-and-mutex ChainedPromise: one shared state per promise,
// guarded by a mutex and condvar, with a FIFO continuation list that
// is copied and released before any continuation runs — so a
// continuation registered from inside another continuation's body
// never deadlocks against the satisfier.
//
// Where the teacher used arity-specialized combinators (JS.All,
// JS.Race, ...) built on interface{} and reflection, this package
// uses Go generics: Then/ThenFuture are free functions (methods can't
// introduce new type parameters), and WhenAll has a vector form plus
// WhenAll2/WhenAll3 tuple forms instead of a single variadic-template
// whenAll.
package future

import (
	"sync"

	concore "github.com/joeycumines/go-concore"
)

// sharedState is the Promise<T>/Future<T> pair's single backing
// store: empty, or settled with exactly one of a value or an
// exception.
type sharedState[T any] struct {
	mu            sync.Mutex
	cond          *sync.Cond
	done          bool
	value         T
	err           error
	continuations []func()
	id            int64
}

func newSharedState[T any](id int64) *sharedState[T] {
	s := &sharedState[T]{id: id}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// settle moves the state from empty to value (err == nil) or
// exception (err != nil), exactly once. A second call returns
// [concore.AlreadySatisfied].
func (s *sharedState[T]) settle(v T, err error) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return concore.NewError(concore.AlreadySatisfied, nil, "promise already satisfied")
	}
	s.value = v
	s.err = err
	s.done = true
	conts := s.continuations
	s.continuations = nil
	s.mu.Unlock()

	s.cond.Broadcast()
	concore.LogPromiseSettled(s.id, err != nil)

	for _, c := range conts {
		runContinuation(s.id, c)
	}
	return nil
}

// register runs cont synchronously if the state is already settled
// (reentrant invocation), otherwise appends it to the FIFO
// continuation list to run once settle fires.
func (s *sharedState[T]) register(cont func()) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		runContinuation(s.id, cont)
		return
	}
	s.continuations = append(s.continuations, cont)
	s.mu.Unlock()
}

func (s *sharedState[T]) snapshot() (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.done, s.err
}

func (s *sharedState[T]) wait() (T, error) {
	s.mu.Lock()
	for !s.done {
		s.cond.Wait()
	}
	v, err := s.value, s.err
	s.mu.Unlock()
	return v, err
}

// runContinuation invokes cont, swallowing any panic that escapes the
// library's own dispatch machinery (as opposed to a user fn's panic,
// which Then/ThenFuture already convert into a UserException on the
// downstream future) so a buggy continuation can never bring down the
// satisfier goroutine.
func runContinuation(id int64, cont func()) {
	defer func() {
		if r := recover(); r != nil {
			concore.LogContinuationPanicked(id, r)
		}
	}()
	cont()
}

// toUserException wraps a recovered panic value as a
// [concore.UserException], capturing it verbatim per spec.
func toUserException(r any) error {
	if err, ok := r.(error); ok {
		return concore.NewError(concore.UserException, err, "continuation panicked: %v", err)
	}
	return concore.NewError(concore.UserException, nil, "continuation panicked: %v", r)
}

// Promise is the write side of a future's shared state.
type Promise[T any] struct {
	s *sharedState[T]
}

// NewPromise creates a Promise with fresh, empty shared state.
func NewPromise[T any](opts ...Option) Promise[T] {
	cfg := resolveOptions(opts)
	return Promise[T]{s: newSharedState[T](cfg.id)}
}

// Future returns the Future observing this promise's shared state.
// Safe to call any number of times; all returned futures share state.
func (p Promise[T]) Future() Future[T] {
	return Future[T]{s: p.s}
}

// SetValue moves the shared state from empty to value. A second call
// (on this or any other Promise sharing the state) returns
// [concore.AlreadySatisfied].
func (p Promise[T]) SetValue(v T) error {
	if p.s == nil {
		return concore.NewError(concore.Uninitialized, nil, "promise has no shared state")
	}
	return p.s.settle(v, nil)
}

// SetException moves the shared state from empty to exception. Get()
// on any Future observing this state re-raises err.
func (p Promise[T]) SetException(err error) error {
	if p.s == nil {
		return concore.NewError(concore.Uninitialized, nil, "promise has no shared state")
	}
	var zero T
	return p.s.settle(zero, err)
}

// Future is the read side of a promise's shared state.
type Future[T any] struct {
	s *sharedState[T]
}

// Get blocks until the state is non-empty, then returns the value or
// the stored exception. Returns [concore.Uninitialized] if the Future
// has no shared state (its zero value).
func (f Future[T]) Get() (T, error) {
	if f.s == nil {
		var zero T
		return zero, concore.NewError(concore.Uninitialized, nil, "future has no shared state")
	}
	return f.s.wait()
}

// IsDone reports whether the state is non-empty, without blocking.
func (f Future[T]) IsDone() bool {
	if f.s == nil {
		return false
	}
	_, done, _ := f.s.snapshot()
	return done
}

// HasValue reports whether the state is settled with a value.
func (f Future[T]) HasValue() bool {
	if f.s == nil {
		return false
	}
	_, done, err := f.s.snapshot()
	return done && err == nil
}

// HasException reports whether the state is settled with an
// exception.
func (f Future[T]) HasException() bool {
	if f.s == nil {
		return false
	}
	_, done, err := f.s.snapshot()
	return done && err != nil
}

// Prompt creates an already-satisfied Future, without allocating a
// mutex/condvar — the "prompt future" construction named in spec §3.
func Prompt[T any](v T) Future[T] {
	return Future[T]{s: &sharedState[T]{done: true, value: v}}
}

// PromptException creates an already-exceptional Future.
func PromptException[T any](err error) Future[T] {
	return Future[T]{s: &sharedState[T]{done: true, err: err}}
}

// Then registers fn to run once f is done, synchronously if f is
// already done, else on whichever goroutine eventually satisfies f's
// promise. The returned Future is satisfied with fn's return value;
// a panic inside fn is captured as the downstream future's
// [concore.UserException] instead of propagating to the satisfier.
func Then[T, R any](f Future[T], fn func(Future[T]) R) Future[R] {
	p := NewPromise[R]()
	if f.s == nil {
		_ = p.SetException(concore.NewError(concore.Uninitialized, nil, "future has no shared state"))
		return p.Future()
	}
	f.s.register(func() {
		defer func() {
			if r := recover(); r != nil {
				_ = p.SetException(toUserException(r))
			}
		}()
		_ = p.SetValue(fn(f))
	})
	return p.Future()
}

// ThenFuture is Then's unwrapping form: fn returns a Future[R], and
// the result is satisfied by that inner future rather than being a
// Future[Future[R]].
func ThenFuture[T, R any](f Future[T], fn func(Future[T]) Future[R]) Future[R] {
	p := NewPromise[R]()
	if f.s == nil {
		_ = p.SetException(concore.NewError(concore.Uninitialized, nil, "future has no shared state"))
		return p.Future()
	}
	f.s.register(func() {
		defer func() {
			if r := recover(); r != nil {
				_ = p.SetException(toUserException(r))
			}
		}()
		inner := fn(f)
		if inner.s == nil {
			_ = p.SetException(concore.NewError(concore.Uninitialized, nil, "inner future has no shared state"))
			return
		}
		inner.s.register(func() {
			v, _, err := inner.s.snapshot()
			if err != nil {
				_ = p.SetException(err)
			} else {
				_ = p.SetValue(v)
			}
		})
	})
	return p.Future()
}

// WhenAll joins N futures of the same type into a vector-valued
// future: the composite is satisfied exactly once, when every child
// is done (with value or exception); each child's own outcome stays
// in its slot and the composite never synthesizes an aggregate
// exception. Registration order is fixed by argument order.
func WhenAll[T any](futures ...Future[T]) Future[[]Future[T]] {
	p := NewPromise[[]Future[T]]()
	n := len(futures)
	if n == 0 {
		_ = p.SetValue(nil)
		return p.Future()
	}

	results := make([]Future[T], n)
	var mu sync.Mutex
	remaining := n

	for i, f := range futures {
		i, f := i, f
		complete := func() {
			mu.Lock()
			results[i] = f
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				_ = p.SetValue(results)
			}
		}
		if f.s == nil {
			complete()
			continue
		}
		f.s.register(complete)
	}
	return p.Future()
}

// Pair2 is the tuple slot for [WhenAll2].
type Pair2[T1, T2 any] struct {
	F1 Future[T1]
	F2 Future[T2]
}

// WhenAll2 joins two differently-typed futures into a tuple-valued
// future (spec.md §4.4 tuple form, 2-ary specialization).
func WhenAll2[T1, T2 any](f1 Future[T1], f2 Future[T2]) Future[Pair2[T1, T2]] {
	p := NewPromise[Pair2[T1, T2]]()
	var mu sync.Mutex
	remaining := 2
	var result Pair2[T1, T2]

	complete := func() {
		mu.Lock()
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			_ = p.SetValue(result)
		}
	}

	registerSlot(f1, &mu, &result.F1, complete)
	registerSlot(f2, &mu, &result.F2, complete)
	return p.Future()
}

// Triple3 is the tuple slot for [WhenAll3].
type Triple3[T1, T2, T3 any] struct {
	F1 Future[T1]
	F2 Future[T2]
	F3 Future[T3]
}

// WhenAll3 joins three differently-typed futures into a tuple-valued
// future (spec.md §4.4 tuple form, 3-ary specialization).
func WhenAll3[T1, T2, T3 any](f1 Future[T1], f2 Future[T2], f3 Future[T3]) Future[Triple3[T1, T2, T3]] {
	p := NewPromise[Triple3[T1, T2, T3]]()
	var mu sync.Mutex
	remaining := 3
	var result Triple3[T1, T2, T3]

	complete := func() {
		mu.Lock()
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			_ = p.SetValue(result)
		}
	}

	registerSlot(f1, &mu, &result.F1, complete)
	registerSlot(f2, &mu, &result.F2, complete)
	registerSlot(f3, &mu, &result.F3, complete)
	return p.Future()
}

// registerSlot writes f into *slot (under mu) once f is done, then
// calls complete. Shared by the fixed-arity WhenAll combinators.
func registerSlot[T any](f Future[T], mu *sync.Mutex, slot *Future[T], complete func()) {
	write := func() {
		mu.Lock()
		*slot = f
		mu.Unlock()
		complete()
	}
	if f.s == nil {
		write()
		return
	}
	f.s.register(write)
}
