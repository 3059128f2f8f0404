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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/seqflow/seqflow/flow"
)

// fakeRunner records every invocation and materializes the declared
// output bundle, so the pipeline wiring can be exercised without the
// external tools installed.
type fakeRunner struct {
	mu          sync.Mutex
	invocations []Invocation
}

func (r *fakeRunner) Run(_ context.Context, inv Invocation) error {
	r.mu.Lock()
	r.invocations = append(r.invocations, inv)
	r.mu.Unlock()
	for _, out := range inv.Outputs {
		if err := touch(out); err != nil {
			return err
		}
	}
	if inv.OutputGlob != "" {
		if err := touch(strings.ReplaceAll(inv.OutputGlob, "*", "out")); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRunner) tools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tools := make([]string, 0, len(r.invocations))
	for _, inv := range r.invocations {
		tools = append(tools, inv.Tool)
	}
	return tools
}

func (r *fakeRunner) byTool(tool string) []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var invs []Invocation
	for _, inv := range r.invocations {
		if inv.Tool == tool {
			invs = append(invs, inv)
		}
	}
	return invs
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0666)
}

func fixtureDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := touch(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestQuantifyBypassedReadsAndIndex(t *testing.T) {
	readsDir := fixtureDir(t, "SRR1_1.fastq", "SRR2_1.fastq", "SRR3_1.fastq")
	indexDir := fixtureDir(t, "SA", "SAindex")
	annotation := filepath.Join(fixtureDir(t, "annotation.gtf"), "annotation.gtf")
	cfg := &Config{
		Accessions: []string{"SRR3", "SRR1", "SRR2"},
		ReadsDir:   readsDir,
		IndexDir:   indexDir,
		Annotation: annotation,
		OutputDir:  t.TempDir(),
		MaxCPUs:    2,
	}
	runner := new(fakeRunner)
	w, err := NewWorkflow(cfg, runner)
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	matrix, err := w.Quantify(context.Background())
	if err != nil {
		t.Fatal("Quantify failed:", err)
	}
	if want := filepath.Join(w.Workdir(), "counts", "counts.tsv"); matrix != want {
		t.Errorf("wrong count matrix path: got %v, want %v", matrix, want)
	}
	for _, tool := range runner.tools() {
		if tool == "fasterq-dump" || tool == "wget" {
			t.Error("bypassed stage invoked", tool)
		}
	}
	if mappings := runner.byTool("STAR"); len(mappings) != 3 {
		t.Errorf("expected one aligner instance per sample, got %v", len(mappings))
	}
	counts := runner.byTool("featureCounts")
	if len(counts) != 1 {
		t.Fatalf("expected a single counting invocation, got %v", len(counts))
	}
	args := counts[0].Args
	alignmentsDir := filepath.Join(w.Workdir(), "alignments")
	want := []string{
		AlignmentPath(alignmentsDir, "SRR1"),
		AlignmentPath(alignmentsDir, "SRR2"),
		AlignmentPath(alignmentsDir, "SRR3"),
	}
	if diff := cmp.Diff(want, args[len(args)-3:]); diff != "" {
		t.Error("counting inputs not in sample key order:", diff)
	}
}

func TestQuantifyBypassedMapping(t *testing.T) {
	alignmentsDir := fixtureDir(t,
		"SRR2.Aligned.sortedByCoord.out.bam",
		"SRR1.Aligned.sortedByCoord.out.bam")
	annotation := filepath.Join(fixtureDir(t, "annotation.gtf"), "annotation.gtf")
	cfg := &Config{
		AlignmentsDir: alignmentsDir,
		Annotation:    annotation,
		OutputDir:     t.TempDir(),
		MaxCPUs:       2,
	}
	runner := new(fakeRunner)
	w, err := NewWorkflow(cfg, runner)
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	matrix, err := w.Quantify(context.Background())
	if err != nil {
		t.Fatal("Quantify failed:", err)
	}
	if want := filepath.Join(w.Workdir(), "counts", "counts.tsv"); matrix != want {
		t.Errorf("wrong count matrix path: got %v, want %v", matrix, want)
	}
	if diff := cmp.Diff([]string{"featureCounts"}, runner.tools()); diff != "" {
		t.Error("upstream tools invoked despite precomputed alignments:", diff)
	}
	counts := runner.byTool("featureCounts")
	args := counts[0].Args
	want := []string{
		filepath.Join(alignmentsDir, "SRR1.Aligned.sortedByCoord.out.bam"),
		filepath.Join(alignmentsDir, "SRR2.Aligned.sortedByCoord.out.bam"),
	}
	if diff := cmp.Diff(want, args[len(args)-2:]); diff != "" {
		t.Error("counting inputs not in sample key order:", diff)
	}
}

func TestRunPrecomputedCountMatrix(t *testing.T) {
	matrix := writeFixture(t, "counts.tsv",
		"gene\tSRR1\tSRR2\n"+
			"G1\t10\t20\n")
	metadata := writeFixture(t, "samples.tsv",
		"sample\tcondition\n"+
			"SRR1\tcontrol\n"+
			"SRR2\ttreated\n")
	cfg := &Config{
		CountMatrix: matrix,
		Metadata:    metadata,
		OutputDir:   t.TempDir(),
		MaxCPUs:     2,
	}
	runner := new(fakeRunner)
	w, err := NewWorkflow(cfg, runner)
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatal("Run failed:", err)
	}
	if want := filepath.Join(w.Workdir(), "results"); results != want {
		t.Errorf("wrong results directory: got %v, want %v", results, want)
	}
	if diff := cmp.Diff([]string{"Rscript"}, runner.tools()); diff != "" {
		t.Error("quantification tools invoked despite precomputed count matrix:", diff)
	}
}

func TestQuantifyMissingReads(t *testing.T) {
	cfg := &Config{
		Accessions: []string{"SRR1"},
		ReadsDir:   t.TempDir(),
		IndexDir:   fixtureDir(t, "SA"),
		Annotation: filepath.Join(fixtureDir(t, "annotation.gtf"), "annotation.gtf"),
		OutputDir:  t.TempDir(),
		MaxCPUs:    2,
	}
	runner := new(fakeRunner)
	w, err := NewWorkflow(cfg, runner)
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	_, err = w.Quantify(context.Background())
	var cfgErr *flow.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Error("empty reads bypass accepted:", err)
	}
	if len(runner.tools()) != 0 {
		t.Error("tools invoked before bypass resolution failed:", runner.tools())
	}
}

func TestRunMissingCountMatrix(t *testing.T) {
	cfg := &Config{
		CountMatrix: filepath.Join(t.TempDir(), "counts.tsv"),
		Metadata:    writeFixture(t, "samples.tsv", "sample\tcondition\nSRR1\tcontrol\n"),
		OutputDir:   t.TempDir(),
		MaxCPUs:     2,
	}
	runner := new(fakeRunner)
	w, err := NewWorkflow(cfg, runner)
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	_, err = w.Run(context.Background())
	var cfgErr *flow.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Error("unreadable precomputed count matrix accepted:", err)
	}
}

func TestAnalyzeRequiresCountMatrix(t *testing.T) {
	cfg := &Config{
		Accessions: []string{"SRR1"},
		IndexDir:   fixtureDir(t, "SA"),
		Annotation: filepath.Join(fixtureDir(t, "annotation.gtf"), "annotation.gtf"),
		OutputDir:  t.TempDir(),
		MaxCPUs:    2,
	}
	w, err := NewWorkflow(cfg, new(fakeRunner))
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	_, err = w.Analyze(context.Background())
	var cfgErr *flow.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Error("analysis without a count matrix accepted:", err)
	}
}

func TestNewWorkflowRejectsBadConfig(t *testing.T) {
	_, err := NewWorkflow(&Config{}, new(fakeRunner))
	var cfgErr *flow.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Error("empty configuration accepted:", err)
	}
}

func TestPlan(t *testing.T) {
	w, err := NewWorkflow(&Config{
		Accessions: []string{"SRR1"},
		ReadsDir:   fixtureDir(t, "SRR1_1.fastq"),
		IndexDir:   fixtureDir(t, "SA"),
		Annotation: filepath.Join(fixtureDir(t, "annotation.gtf"), "annotation.gtf"),
		OutputDir:  t.TempDir(),
	}, new(fakeRunner))
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	plan := w.Plan()
	if len(plan) != 6 {
		t.Fatalf("wrong plan length: %v", plan)
	}
	if !strings.HasPrefix(plan[0], "reads: bypass ") {
		t.Error("reads mode not resolved:", plan[0])
	}
	if plan[4] != "counting: compute" || plan[5] != "analysis: compute" {
		t.Error("trailing stages wrong:", plan[4:])
	}
}

func TestPlanPrecomputedCountMatrix(t *testing.T) {
	matrix := writeFixture(t, "counts.tsv", "gene\tSRR1\nG1\t1\n")
	w, err := NewWorkflow(&Config{
		CountMatrix: matrix,
		OutputDir:   t.TempDir(),
	}, new(fakeRunner))
	if err != nil {
		t.Fatal("NewWorkflow failed:", err)
	}
	want := []string{
		"quantification: bypass " + matrix,
		"analysis: compute",
	}
	if diff := cmp.Diff(want, w.Plan()); diff != "" {
		t.Error("wrong plan:", diff)
	}
}
