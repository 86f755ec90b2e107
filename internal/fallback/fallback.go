// Package fallback runs a prioritized list of strategies until one succeeds.
//
// Sites expose zero, one or many of the elements a strategy looks for, so a
// failing strategy is an expected outcome. Failures are collected as misses
// instead of being returned as errors; only the caller decides whether an
// exhausted list matters.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExhausted is returned by Result.Err when every step missed.
var ErrExhausted = errors.New("all strategies exhausted")

// Step is one named strategy.
type Step[T any] struct {
	Name string
	Try  func(ctx context.Context) (T, error)
}

// Miss records why a step did not succeed.
type Miss struct {
	Step string
	Err  error
}

// Result is the outcome of Run: either the value of the winning step, or the
// list of misses when none won.
type Result[T any] struct {
	Value  T
	Step   string
	Misses []Miss
	ok     bool
}

// OK reports whether some step succeeded.
func (r Result[T]) OK() bool { return r.ok }

// Err summarizes a failed run. It is nil when a step succeeded.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	if len(r.Misses) == 0 {
		return ErrExhausted
	}
	parts := make([]string, 0, len(r.Misses))
	for _, m := range r.Misses {
		parts = append(parts, fmt.Sprintf("%s: %v", m.Step, m.Err))
	}
	return fmt.Errorf("%w (%s)", ErrExhausted, strings.Join(parts, "; "))
}

// Run tries steps strictly in order and stops at the first one that returns
// a nil error. A cancelled context stops the iteration and is recorded as a
// miss for the step that would have run next.
func Run[T any](ctx context.Context, steps []Step[T]) Result[T] {
	var res Result[T]
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			res.Misses = append(res.Misses, Miss{Step: s.Name, Err: err})
			return res
		}
		v, err := s.Try(ctx)
		if err != nil {
			res.Misses = append(res.Misses, Miss{Step: s.Name, Err: err})
			continue
		}
		res.Value, res.Step, res.ok = v, s.Name, true
		return res
	}
	return res
}
