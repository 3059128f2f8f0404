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

import "fmt"

// A ConfigurationError reports a missing or contradictory configuration
// option, including a precomputed location that resolves to no files. It
// aborts graph construction before any stage runs.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("configuration error: %v", e.Reason)
	}
	return fmt.Sprintf("configuration error for %v: %v", e.Option, e.Reason)
}

// An ExternalComputationError reports that an external tool invoked by a
// compute-mode stage exited non-zero or did not produce its expected
// output. It identifies the failing stage and sample key.
type ExternalComputationError struct {
	Stage  string
	Sample string
	Err    error
}

func (e *ExternalComputationError) Error() string {
	if e.Sample == "" {
		return fmt.Sprintf("stage %v failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %v failed for sample %v: %v", e.Stage, e.Sample, e.Err)
}

func (e *ExternalComputationError) Unwrap() error {
	return e.Err
}

// A DoubleEmissionError reports a second emission on a value channel,
// which is a programming error.
type DoubleEmissionError struct {
	Channel string
}

func (e *DoubleEmissionError) Error() string {
	return fmt.Sprintf("double emission on value channel %v", e.Channel)
}

// An OrderingError reports an internal invariant breach in fan-in
// coordination, such as aggregating before the upstream stream is closed.
type OrderingError struct {
	Stage  string
	Reason string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("ordering violation in stage %v: %v", e.Stage, e.Reason)
}
