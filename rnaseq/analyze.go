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
	"log"

	"github.com/seqflow/seqflow/flow"
	"github.com/seqflow/seqflow/internal"
)

// buildAnalysis wires the analysis sub-pipeline: it takes the count
// matrix channel, either freshly produced by quantification or injected
// via bypass, together with the metadata table, and produces the results
// directory. The metadata table is read and checked at construction
// time, so a broken table aborts the run before any stage executes.
func (w *Workflow) buildAnalysis(g *flow.Graph, countMatrix *flow.Value[string]) (*flow.Value[string], error) {
	cfg := w.Config
	metadata, err := ReadMetadata(cfg.Metadata)
	if err != nil {
		return nil, err
	}
	desc, err := w.describe("analysis", cfg.Resources.Analysis, 1, flow.Computed())
	if err != nil {
		return nil, err
	}

	results := flow.NewValue[string]("results")
	g.Add("analysis", func(ctx context.Context) error {
		path, err := countMatrix.Get(ctx)
		if err != nil {
			return err
		}
		matrix, err := ReadCountMatrix(path)
		if err != nil {
			return err
		}
		if err := matrix.CheckSamples(metadata); err != nil {
			return err
		}
		dir, err := w.ensureDir("results")
		if err != nil {
			return err
		}
		inv := AnalyzeInvocation(cfg.AnalysisScript, path, cfg.Metadata, dir)
		if _, err := flow.Run(ctx, desc, w.budget, "", inv, w.produce); err != nil {
			return err
		}
		if produced, err := internal.Directory(dir); err == nil {
			log.Println("Analysis produced", len(produced), "file(s) in", dir)
		}
		return results.Set(dir)
	})
	return results, nil
}
