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
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// A Source is the tagged choice that decides a stage's execution mode
// once, at graph construction time: either the stage computes its output
// by invoking an external tool, or it bypasses computation and sources
// its output from a pre-existing, externally configured location.
type Source struct {
	precomputed bool
	location    string
}

// Computed selects compute mode.
func Computed() Source {
	return Source{}
}

// Precomputed selects bypass mode with the given location, a glob-style
// pattern resolved against the filesystem.
func Precomputed(location string) Source {
	return Source{precomputed: true, location: location}
}

// SourceFor applies the mode rule shared by every stage: compute when the
// configured precomputed location is absent, bypass otherwise.
func SourceFor(location string) Source {
	if location == "" {
		return Computed()
	}
	return Precomputed(location)
}

// Bypass reports whether the stage skips computation.
func (s Source) Bypass() bool {
	return s.precomputed
}

// Location returns the configured precomputed location, or the empty
// string in compute mode.
func (s Source) Location() string {
	return s.location
}

// A Descriptor names a stage and declares its resource profile, execution
// mode, and optional per-stage timeout. Descriptors are created at graph
// construction time and immutable thereafter.
type Descriptor struct {
	Name    string
	Profile Profile
	Source  Source
	Timeout time.Duration
}

// Tag returns the human-readable label of a stage instance working on the
// given sample key. Purely for observability.
func (d Descriptor) Tag(sample string) string {
	if sample == "" {
		return d.Name
	}
	return fmt.Sprintf("%v[%v]", d.Name, sample)
}

// ResolveBypass resolves the descriptor's precomputed location and
// returns the matching paths in sorted order. Zero matches is a
// ConfigurationError: bypass stages must find at least one existing
// artifact. Called at graph construction time so that a bad bypass
// location aborts the run before any stage executes.
func (d Descriptor) ResolveBypass() ([]string, error) {
	if !d.Source.Bypass() {
		return nil, &OrderingError{Stage: d.Name, Reason: "bypass resolution requested in compute mode"}
	}
	paths, err := filepath.Glob(d.Source.Location())
	if err != nil {
		return nil, &ConfigurationError{Option: d.Name, Reason: fmt.Sprintf("invalid location pattern %v: %v", d.Source.Location(), err)}
	}
	if len(paths) == 0 {
		return nil, &ConfigurationError{Option: d.Name, Reason: fmt.Sprintf("precomputed location %v matches no files", d.Source.Location())}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run executes the compute body for a single work item under the budget.
// It blocks until the stage's resource profile fits under the host
// ceiling, applies the per-stage timeout if one is declared, and wraps
// any failure in an ExternalComputationError naming the stage and sample
// key. Bypass stages never go through Run and consume no budget.
func Run[In, Out any](ctx context.Context, d Descriptor, b *Budget, sample string, in In, body func(context.Context, In) (Out, error)) (Out, error) {
	var zero Out
	if d.Source.Bypass() {
		return zero, &OrderingError{Stage: d.Name, Reason: "compute body invoked in bypass mode"}
	}
	if err := b.Acquire(ctx, d.Profile); err != nil {
		return zero, err
	}
	defer b.Release(d.Profile)
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	out, err := body(ctx, in)
	if err != nil {
		return zero, &ExternalComputationError{Stage: d.Name, Sample: sample, Err: err}
	}
	return out, nil
}
