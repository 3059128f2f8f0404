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
	"runtime"

	"golang.org/x/sync/semaphore"
)

// A Profile declares the resources one stage instance consumes while
// running: CPU slots and a memory ceiling in bytes. The scheduler
// enforces it; the external tool is trusted to stay within it.
type Profile struct {
	CPUs   int
	Memory int64
}

// A Budget is the global host ceiling shared by all stage instances of a
// run. Instances acquire their profile before running and release it when
// done; acquisition queues FIFO when the summed profiles of running
// instances would exceed the ceiling.
type Budget struct {
	maxCPUs   int64
	maxMemory int64
	cpus      *semaphore.Weighted
	memory    *semaphore.Weighted
}

// NewBudget creates a budget with the given host ceiling. A non-positive
// CPU count defaults to runtime.GOMAXPROCS(0); a non-positive memory
// ceiling disables memory accounting.
func NewBudget(cpus int, memory int64) *Budget {
	if cpus < 1 {
		cpus = runtime.GOMAXPROCS(0)
	}
	b := &Budget{
		maxCPUs: int64(cpus),
		cpus:    semaphore.NewWeighted(int64(cpus)),
	}
	if memory > 0 {
		b.maxMemory = memory
		b.memory = semaphore.NewWeighted(memory)
	}
	return b
}

// Check reports whether a profile can ever be satisfied by this budget.
// An oversized profile would queue forever, so it is rejected at graph
// construction time.
func (b *Budget) Check(stage string, p Profile) error {
	if int64(p.CPUs) > b.maxCPUs {
		return &ConfigurationError{
			Option: stage,
			Reason: fmt.Sprintf("stage requests %v cpus but the host ceiling is %v", p.CPUs, b.maxCPUs),
		}
	}
	if b.memory != nil && p.Memory > b.maxMemory {
		return &ConfigurationError{
			Option: stage,
			Reason: fmt.Sprintf("stage requests %v bytes of memory but the host ceiling is %v", p.Memory, b.maxMemory),
		}
	}
	return nil
}

// Acquire blocks until the profile's CPU slots and memory fit under the
// ceiling, or the context is cancelled. CPU slots are acquired before
// memory so that concurrent acquisitions cannot deadlock.
func (b *Budget) Acquire(ctx context.Context, p Profile) error {
	cpus := int64(p.CPUs)
	if cpus < 1 {
		cpus = 1
	}
	if err := b.cpus.Acquire(ctx, cpus); err != nil {
		return err
	}
	if b.memory != nil && p.Memory > 0 {
		if err := b.memory.Acquire(ctx, p.Memory); err != nil {
			b.cpus.Release(cpus)
			return err
		}
	}
	return nil
}

// Release returns the profile's resources to the budget.
func (b *Budget) Release(p Profile) {
	cpus := int64(p.CPUs)
	if cpus < 1 {
		cpus = 1
	}
	b.cpus.Release(cpus)
	if b.memory != nil && p.Memory > 0 {
		b.memory.Release(p.Memory)
	}
}

// MaxCPUs returns the CPU ceiling of the budget.
func (b *Budget) MaxCPUs() int {
	return int(b.maxCPUs)
}
