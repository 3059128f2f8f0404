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

	"golang.org/x/sync/errgroup"
)

// A Task is the running body of one stage wired into a graph. It blocks
// on its input channels, produces its output channels, and returns when
// its outputs are complete.
type Task func(ctx context.Context) error

// A Graph composes stages into a directed acyclic graph. The edges are
// the typed channels the stage tasks share: a task blocks reading its
// input channels until the upstream tasks have produced them, so running
// all tasks concurrently executes the graph in dependency order without
// any further scheduler state.
//
// All construction-time decisions, in particular the compute-or-bypass
// choice per stage, are made by the graph builders before Run; a
// ConfigurationError during construction means nothing ever executes.
type Graph struct {
	name  string
	names []string
	tasks []Task
}

// NewGraph creates an empty graph with the given name.
func NewGraph(name string) *Graph {
	return &Graph{name: name}
}

// Add wires a named stage task into the graph.
func (g *Graph) Add(name string, task Task) {
	g.names = append(g.names, name)
	g.tasks = append(g.tasks, task)
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Stages returns the names of the wired stages in wiring order.
func (g *Graph) Stages() []string {
	return append([]string(nil), g.names...)
}

// Run executes all stage tasks concurrently and blocks until they all
// complete or one fails. On failure the remaining tasks observe context
// cancellation; cancellation is cooperative and propagates top-down only.
func (g *Graph) Run(ctx context.Context) error {
	log.Println("Running pipeline", g.name, "with stages", g.names)
	eg, ctx := errgroup.WithContext(ctx)
	for i, task := range g.tasks {
		name := g.names[i]
		task := task
		eg.Go(func() error {
			if err := task(ctx); err != nil {
				log.Println("Stage", name, "failed:", err)
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}
