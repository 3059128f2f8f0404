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
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seqflow/seqflow/internal"
)

// An Invocation is the structured input bundle of one external
// computation: the tool to run, its arguments, an optional working
// directory, and the output bundle the tool is expected to leave behind.
// Templating of command lines stays confined to the builders below; the
// pipeline core only ever sees Invocation values.
type Invocation struct {
	Tool string
	Args []string
	Dir  string

	// Outputs are file paths that must exist after a successful run.
	Outputs []string

	// OutputGlob, when set, is a pattern that must match at least one
	// file after a successful run. Used by tools whose exact output
	// names depend on the input data.
	OutputGlob string
}

func (inv Invocation) String() string {
	return inv.Tool + " " + strings.Join(inv.Args, " ")
}

// A Runner executes external computations. The production runner shells
// out; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// ExecRunner runs invocations as child processes with stderr passed
// through, and verifies the expected output bundle afterwards.
type ExecRunner struct{}

// Run implements the Runner interface.
func (ExecRunner) Run(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, inv.Tool, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Stderr = os.Stderr
	if err := internal.RunCmd(cmd); err != nil {
		return err
	}
	return CheckOutputs(inv)
}

// CheckOutputs verifies that an invocation produced its declared output
// bundle. A tool that exits zero without producing its outputs is still
// a failure.
func CheckOutputs(inv Invocation) error {
	for _, out := range inv.Outputs {
		if _, err := os.Stat(out); err != nil {
			return fmt.Errorf("%v produced no output %v", inv.Tool, out)
		}
	}
	if inv.OutputGlob != "" {
		matches, err := filepath.Glob(inv.OutputGlob)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("%v produced no output matching %v", inv.Tool, inv.OutputGlob)
		}
	}
	return nil
}

// FetchReadsInvocation extracts the read files for one accession from
// the sequence read archive into dir.
func FetchReadsInvocation(accession, dir string) Invocation {
	return Invocation{
		Tool:       "fasterq-dump",
		Args:       []string{"--split-files", "--outdir", dir, accession},
		Outputs:    nil,
		OutputGlob: filepath.Join(dir, accession+"*.fastq"),
	}
}

// FetchURLInvocation downloads a reference or annotation file to path.
func FetchURLInvocation(url, path string) Invocation {
	return Invocation{
		Tool:    "wget",
		Args:    []string{"-q", "-O", path, url},
		Outputs: []string{path},
	}
}

// IndexInvocation builds the genome index in dir. The splice-junction
// overhang is the configured read length minus one, per the aligner's
// convention.
func IndexInvocation(reference, annotation string, readLength, cpus int, dir string) Invocation {
	return Invocation{
		Tool: "STAR",
		Args: []string{
			"--runMode", "genomeGenerate",
			"--genomeDir", dir,
			"--genomeFastaFiles", reference,
			"--sjdbGTFfile", annotation,
			"--sjdbOverhang", strconv.Itoa(readLength - 1),
			"--runThreadN", strconv.Itoa(cpus),
		},
		Outputs: []string{filepath.Join(dir, "SA")},
	}
}

// AlignmentPath is the fixed naming convention for the coordinate-sorted
// alignment of one sample.
func AlignmentPath(dir, sample string) string {
	return filepath.Join(dir, sample+".Aligned.sortedByCoord.out.bam")
}

// MapInvocation aligns one sample's reads against the index and produces
// the sample's alignment file in dir, named by AlignmentPath.
func MapInvocation(sample string, reads []string, indexDir string, cpus int, dir string) Invocation {
	args := []string{
		"--runMode", "alignReads",
		"--genomeDir", indexDir,
		"--readFilesIn",
	}
	args = append(args, reads...)
	args = append(args,
		"--outSAMtype", "BAM", "SortedByCoordinate",
		"--outFileNamePrefix", filepath.Join(dir, sample+"."),
		"--runThreadN", strconv.Itoa(cpus),
	)
	return Invocation{
		Tool:    "STAR",
		Args:    args,
		Outputs: []string{AlignmentPath(dir, sample)},
	}
}

// CountInvocation summarizes the aligned reads of all samples into one
// count matrix at path. The alignments must already be in their final
// deterministic order: the counting tool emits one matrix column per
// alignment argument, in argument order, so reproducibility of the
// matrix depends on it.
func CountInvocation(alignments []string, annotation string, cpus int, path string) Invocation {
	args := []string{
		"-T", strconv.Itoa(cpus),
		"-a", annotation,
		"-o", path,
	}
	args = append(args, alignments...)
	return Invocation{
		Tool:    "featureCounts",
		Args:    args,
		Outputs: []string{path},
	}
}

// AnalyzeInvocation runs the differential expression script on the count
// matrix and metadata table, writing results and figures into dir.
func AnalyzeInvocation(script, countMatrix, metadata, dir string) Invocation {
	return Invocation{
		Tool:       "Rscript",
		Args:       []string{script, countMatrix, metadata, dir},
		OutputGlob: filepath.Join(dir, "*"),
	}
}
