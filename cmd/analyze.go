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

package cmd

import (
	"context"
	"flag"
	"log"

	"github.com/seqflow/seqflow/internal"
)

// AnalyzeHelp is the help string for this command.
const AnalyzeHelp = "analyze parameters:\n" +
	"seqflow analyze config-file\n" +
	pipelineOptionsHelp

// Analyze implements the seqflow analyze command: differential
// expression analysis against a precomputed count matrix.
func Analyze() error {
	var opts pipelineOptions
	var flags flag.FlagSet
	opts.addFlags(&flags)
	parseFlags(flags, 3, AnalyzeHelp)

	w, err := loadWorkflow(&opts, AnalyzeHelp)
	if err != nil {
		return err
	}
	if opts.dryRun {
		printPlan(w)
		return nil
	}
	return timedRun(opts.timed, opts.profile, "Executing analysis.", 1, func() error {
		results, err := w.Analyze(context.Background())
		if err != nil {
			return err
		}
		fullResults, err := internal.FullPathname(results)
		if err != nil {
			return err
		}
		log.Println("Analysis results in", fullResults)
		return nil
	})
}
