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
	"errors"
	"testing"
	"time"
)

func TestValueChannel(t *testing.T) {
	c := NewValue[string]("count-matrix")
	if err := c.Set("counts.tsv"); err != nil {
		t.Error("first Set failed:", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v, err := c.Get(ctx)
		if err != nil {
			t.Error("Get failed:", err)
		}
		if v != "counts.tsv" {
			t.Error("Get returned wrong value:", v)
		}
	}
}

func TestValueDoubleEmission(t *testing.T) {
	c := NewValue[int]("index")
	if err := c.Set(1); err != nil {
		t.Error("first Set failed:", err)
	}
	err := c.Set(2)
	var dbl *DoubleEmissionError
	if !errors.As(err, &dbl) {
		t.Error("second Set did not report a double emission:", err)
	}
	if dbl != nil && dbl.Channel != "index" {
		t.Error("double emission names wrong channel:", dbl.Channel)
	}
}

func TestValueGetBlocksUntilSet(t *testing.T) {
	c := NewValue[int]("reference")
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = c.Set(42)
	}()
	v, err := c.Get(context.Background())
	if err != nil {
		t.Error("Get failed:", err)
	}
	if v != 42 {
		t.Error("Get returned wrong value:", v)
	}
}

func TestValueGetCancellation(t *testing.T) {
	c := NewValue[int]("never-set")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx); err == nil {
		t.Error("Get on cancelled context did not fail")
	}
}

func TestStreamEmissionOrder(t *testing.T) {
	s := NewStream[string]("reads", 4)
	for _, v := range []string{"SRR1", "SRR2", "SRR3"} {
		if err := s.Emit(context.Background(), v); err != nil {
			t.Error("Emit failed:", err)
		}
	}
	s.Close()
	items, err := s.Collect(context.Background())
	if err != nil {
		t.Error("Collect failed:", err)
	}
	if len(items) != 3 || items[0] != "SRR1" || items[1] != "SRR2" || items[2] != "SRR3" {
		t.Error("Collect did not preserve emission order:", items)
	}
	if s.Emitted() != 3 {
		t.Error("wrong emission count:", s.Emitted())
	}
}

func TestStreamOneShotCursor(t *testing.T) {
	s := NewStream[int]("items", 8)
	for i := 0; i < 8; i++ {
		if err := s.Emit(context.Background(), i); err != nil {
			t.Error("Emit failed:", err)
		}
	}
	s.Close()
	seen := make(chan int, 8)
	done := make(chan struct{})
	for c := 0; c < 2; c++ {
		go func() {
			for v := range s.Items() {
				seen <- v
			}
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	close(seen)
	counts := make(map[int]int)
	for v := range seen {
		counts[v]++
	}
	for i := 0; i < 8; i++ {
		if counts[i] != 1 {
			t.Error("item", i, "delivered", counts[i], "times")
		}
	}
}

func TestStreamEmitAfterClose(t *testing.T) {
	s := NewStream[int]("closed", 1)
	s.Close()
	s.Close() // idempotent
	err := s.Emit(context.Background(), 1)
	var ord *OrderingError
	if !errors.As(err, &ord) {
		t.Error("Emit after Close did not report an ordering violation:", err)
	}
}

func TestStreamEmitCancellation(t *testing.T) {
	s := NewStream[int]("full", 1)
	if err := s.Emit(context.Background(), 1); err != nil {
		t.Fatal("Emit failed:", err)
	}
	// The buffer is full and nothing consumes, so only cancellation can
	// unblock the producer.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Emit(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Error("Emit on full stream ignored cancellation:", err)
	}
	if s.Emitted() != 1 {
		t.Error("cancelled emission counted:", s.Emitted())
	}
}

func TestSetValue(t *testing.T) {
	c := SetValue("metadata", "samples.tsv")
	v, err := c.Get(context.Background())
	if err != nil || v != "samples.tsv" {
		t.Error("SetValue channel not readable:", v, err)
	}
}
