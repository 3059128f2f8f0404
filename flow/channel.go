// seqFlow: a pipeline driver for RNA-seq quantification and analysis.
// Copyright (c) 2024-2026 the seqFlow contributors.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/seqflow/seqflow/blob/master/LICENSE.txt>.

package flow

import (
	"context"
	"sync"
)

// A Value is a typed channel between stages that holds a single reusable
// value. The producer sets it exactly once; any number of consumers can
// read it any number of times without consuming it. Reads block until the
// value is set.
type Value[T any] struct {
	name string
	mu   sync.Mutex
	set  bool
	v    T
	done chan struct{}
}

// NewValue creates an empty value channel with the given name. The name
// only appears in error messages.
func NewValue[T any](name string) *Value[T] {
	return &Value[T]{name: name, done: make(chan struct{})}
}

// SetValue creates a value channel that already holds v. Used by bypass
// stages that materialize their output directly from configuration.
func SetValue[T any](name string, v T) *Value[T] {
	c := NewValue[T](name)
	_ = c.Set(v)
	return c
}

// Set stores the value and releases all pending and future Get calls.
// A second Set is a DoubleEmissionError.
func (c *Value[T]) Set(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return &DoubleEmissionError{Channel: c.name}
	}
	c.v = v
	c.set = true
	close(c.done)
	return nil
}

// Get returns the value, blocking until it is set or the context is
// cancelled.
func (c *Value[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Name returns the channel name.
func (c *Value[T]) Name() string {
	return c.name
}

// A Stream is a typed channel between stages that carries an ordered
// sequence of items, each consumable once. Items are delivered in emission
// order; any ordering contract beyond that is the consumer's concern (the
// fan-in coordinator re-sorts by sample key).
type Stream[T any] struct {
	name string
	ch   chan T

	mu      sync.Mutex
	emitted int
	closed  bool
}

// NewStream creates a stream channel with the given name and buffer
// capacity. Producers block once the buffer is full, so the capacity
// should cover the expected item count (one per sample).
func NewStream[T any](name string, capacity int) *Stream[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Stream[T]{name: name, ch: make(chan T, capacity)}
}

// Emit appends an item to the stream, blocking while the buffer is full
// until a consumer makes room or the context is cancelled. Emitting on a
// closed stream is an OrderingError.
func (s *Stream[T]) Emit(ctx context.Context, v T) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &OrderingError{Stage: s.name, Reason: "emit on closed stream"}
	}
	s.emitted++
	s.mu.Unlock()
	select {
	case s.ch <- v:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.emitted--
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Close marks the end of the stream. Consumers draining the cursor
// observe end-of-stream and finalize any aggregation in progress. Close
// is idempotent.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Items returns the one-shot cursor over the stream. Each item is
// delivered to exactly one receiver.
func (s *Stream[T]) Items() <-chan T {
	return s.ch
}

// Closed reports whether the producer has closed the stream.
func (s *Stream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emitted returns the number of items emitted so far.
func (s *Stream[T]) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// Name returns the channel name.
func (s *Stream[T]) Name() string {
	return s.name
}

// Collect drains the stream into a slice in emission order, blocking
// until the stream is closed or the context is cancelled.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for {
		select {
		case v, ok := <-s.ch:
			if !ok {
				return items, nil
			}
			items = append(items, v)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
