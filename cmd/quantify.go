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

// QuantifyHelp is the help string for this command.
const QuantifyHelp = "quantify parameters:\n" +
	"seqflow quantify config-file\n" +
	pipelineOptionsHelp

// Quantify implements the seqflow quantify command: the quantification
// sub-pipeline only, producing a count matrix.
func Quantify() error {
	var opts pipelineOptions
	var flags flag.FlagSet
	opts.addFlags(&flags)
	parseFlags(flags, 3, QuantifyHelp)

	w, err := loadWorkflow(&opts, QuantifyHelp)
	if err != nil {
		return err
	}
	if opts.dryRun {
		printPlan(w)
		return nil
	}
	return timedRun(opts.timed, opts.profile, "Executing quantification.", 1, func() error {
		matrix, err := w.Quantify(context.Background())
		if err != nil {
			return err
		}
		fullMatrix, err := internal.FullPathname(matrix)
		if err != nil {
			return err
		}
		log.Println("Count matrix written to", fullMatrix)
		return nil
	})
}
