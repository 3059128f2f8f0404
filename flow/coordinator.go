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
	"log"
	"sort"
	"sync"

	"github.com/willf/bitset"
	"golang.org/x/sync/errgroup"
)

// A FanOut coordinator translates a stream of independent work items into
// one concurrent stage instance per item, bounded by the shared budget,
// and collects the results into a single deterministically ordered
// aggregate for the downstream stage.
//
// Dispatch is eager: an instance is started as soon as its item arrives
// on the stream; it queues FIFO on the budget when the summed profiles of
// running instances would exceed the host ceiling. The aggregate is only
// produced after the stream is closed and every dispatched instance has
// completed successfully. If any instance fails, instances that have not
// yet started are cancelled cooperatively, the aggregate is never
// produced, and the failure propagates.
type FanOut[In Keyed, Out any] struct {
	Stage  Descriptor
	Budget *Budget

	// Body computes one output per work item.
	Body func(ctx context.Context, item In) (Out, error)

	// Key derives the sample key an output is sorted by during fan-in.
	Key func(out Out) string
}

// Keyed is implemented by work items that carry a sample key.
type Keyed interface {
	Key() string
}

// Run consumes the input stream until it is closed, fans out one stage
// instance per item, and returns the fan-in aggregate sorted by sample
// key. The sort order depends only on the keys, never on completion
// timing, so downstream results are reproducible across runs.
func (f *FanOut[In, Out]) Run(ctx context.Context, in *Stream[In]) ([]Out, error) {
	g, ctx := errgroup.WithContext(ctx)

	var (
		mu        sync.Mutex
		outputs   []Out
		completed = bitset.New(8)
	)

	dispatched := 0
dispatch:
	for {
		var item In
		select {
		case next, ok := <-in.Items():
			if !ok {
				break dispatch
			}
			item = next
		case <-ctx.Done():
			// Upstream failed before closing the stream; stop
			// dispatching and surface the group's error.
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
		index := uint(dispatched)
		dispatched++
		g.Go(func() error {
			// A cancelled sibling group never starts this instance.
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Println("Dispatching", f.Stage.Tag(item.Key()))
			out, err := Run(ctx, f.Stage, f.Budget, item.Key(), item, f.Body)
			if err != nil {
				return err
			}
			mu.Lock()
			outputs = append(outputs, out)
			completed.Set(index)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The stream cursor is drained, so the producer must have closed it
	// and every instance must be terminal. Anything else is an internal
	// invariant breach.
	if !in.Closed() {
		return nil, &OrderingError{Stage: f.Stage.Name, Reason: "fan-in before stream closure"}
	}
	if int(completed.Count()) != dispatched {
		return nil, &OrderingError{Stage: f.Stage.Name, Reason: "fan-in with incomplete instances"}
	}

	sort.Slice(outputs, func(i, j int) bool {
		return f.Key(outputs[i]) < f.Key(outputs[j])
	})
	return outputs, nil
}
