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

package rnaseq

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/seqflow/seqflow/flow"
)

// A Sample is one work item of the fan-out stages: the read files of one
// accession, identified by its sample key.
type Sample struct {
	Accession string
	Reads     []string
}

// Key implements the flow.Keyed interface.
func (s Sample) Key() string {
	return s.Accession
}

// An Alignment is the mapped output of one sample.
type Alignment struct {
	Sample string
	Path   string
}

// Key returns the sample key the fan-in aggregate is sorted by.
func (a Alignment) Key() string {
	return a.Sample
}

// A Workflow composes the quantification and analysis sub-pipelines for
// one configuration. A precomputed count matrix bypasses quantification
// entirely, following the same mode rule as individual stages.
type Workflow struct {
	Config *Config
	Runner Runner

	budget  *flow.Budget
	workdir string
}

// NewWorkflow validates the configuration and prepares a workflow with a
// fresh run workspace under the configured output directory.
func NewWorkflow(cfg *Config, runner Runner) (*Workflow, error) {
	cfg.SetDefaults()
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	memory, err := cfg.MaxMemoryBytes()
	if err != nil {
		return nil, err
	}
	return &Workflow{
		Config:  cfg,
		Runner:  runner,
		budget:  flow.NewBudget(cfg.MaxCPUs, memory),
		workdir: filepath.Join(cfg.OutputDir, "run-"+uuid.New().String()[:8]),
	}, nil
}

// Workdir returns the run workspace directory.
func (w *Workflow) Workdir() string {
	return w.workdir
}

// path joins elements onto the run workspace.
func (w *Workflow) path(elem ...string) string {
	return filepath.Join(append([]string{w.workdir}, elem...)...)
}

// ensureDir creates a workspace subdirectory and returns its path.
func (w *Workflow) ensureDir(elem ...string) (string, error) {
	dir := w.path(elem...)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// produce runs one invocation through the workflow's runner and returns
// the produced output bundle as a sorted path list.
func (w *Workflow) produce(ctx context.Context, inv Invocation) ([]string, error) {
	log.Println("Executing command:\n", inv.String())
	if err := w.Runner.Run(ctx, inv); err != nil {
		return nil, err
	}
	paths := append([]string(nil), inv.Outputs...)
	if inv.OutputGlob != "" {
		matches, err := filepath.Glob(inv.OutputGlob)
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%v declared no outputs", inv.Tool)
	}
	return paths, nil
}

// Plan returns the resolved execution plan: one line per stage with its
// mode. Used by dry runs and the startup summary.
func (w *Workflow) Plan() []string {
	cfg := w.Config
	mode := func(stage, location string) string {
		if location == "" {
			return stage + ": compute"
		}
		return stage + ": bypass " + location
	}
	if cfg.CountMatrix != "" {
		return []string{
			"quantification: bypass " + cfg.CountMatrix,
			mode("analysis", ""),
		}
	}
	plan := []string{
		mode("reads", cfg.ReadsDir),
		mode("reference", cfg.Reference),
	}
	if cfg.AlignmentsDir == "" {
		plan = append(plan, mode("index", cfg.IndexDir))
	}
	plan = append(plan,
		mode("mapping", cfg.AlignmentsDir),
		mode("counting", ""),
		mode("analysis", ""),
	)
	return plan
}

// Run executes the full workflow and returns the results directory.
func (w *Workflow) Run(ctx context.Context) (string, error) {
	g := flow.NewGraph("rnaseq")
	countMatrix, err := w.countMatrixChannel(g)
	if err != nil {
		return "", err
	}
	results, err := w.buildAnalysis(g, countMatrix)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.workdir, 0700); err != nil {
		return "", err
	}
	if err := g.Run(ctx); err != nil {
		return "", err
	}
	return results.Get(ctx)
}

// Quantify executes only the quantification sub-pipeline and returns the
// count matrix path.
func (w *Workflow) Quantify(ctx context.Context) (string, error) {
	g := flow.NewGraph("quantification")
	countMatrix, err := w.countMatrixChannel(g)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.workdir, 0700); err != nil {
		return "", err
	}
	if err := g.Run(ctx); err != nil {
		return "", err
	}
	return countMatrix.Get(ctx)
}

// Analyze executes only the analysis sub-pipeline against a precomputed
// count matrix.
func (w *Workflow) Analyze(ctx context.Context) (string, error) {
	if w.Config.CountMatrix == "" {
		return "", &flow.ConfigurationError{Option: "count-matrix", Reason: "analysis without quantification requires a precomputed count matrix"}
	}
	return w.Run(ctx)
}

// countMatrixChannel resolves the sub-pipeline level bypass: a
// precomputed count matrix replaces the whole quantification
// sub-pipeline with a value channel that already holds its path.
func (w *Workflow) countMatrixChannel(g *flow.Graph) (*flow.Value[string], error) {
	cfg := w.Config
	if cfg.CountMatrix == "" {
		return w.buildQuantification(g)
	}
	if _, err := os.Stat(cfg.CountMatrix); err != nil {
		return nil, &flow.ConfigurationError{Option: "count-matrix", Reason: fmt.Sprintf("precomputed count matrix %v not readable: %v", cfg.CountMatrix, err)}
	}
	log.Println("Quantification bypassed, using precomputed count matrix", cfg.CountMatrix)
	return flow.SetValue("count-matrix", cfg.CountMatrix), nil
}
