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
	"sort"

	"github.com/seqflow/seqflow/flow"
)

// reference is the value carried by the reference channel: the genome
// sequence and the gene annotation.
type reference struct {
	fasta      string
	annotation string
}

// buildQuantification wires the quantification sub-pipeline into the
// graph: read retrieval, reference retrieval, index construction
// (bypassable), per-sample mapping (fan-out with deterministic fan-in),
// and counting. It returns the count matrix channel. All compute-or-
// bypass decisions and all bypass locations are resolved here, before
// anything runs.
func (w *Workflow) buildQuantification(g *flow.Graph) (*flow.Value[string], error) {
	refs, err := w.buildReference(g)
	if err != nil {
		return nil, err
	}

	var alignments *flow.Value[[]Alignment]
	if w.Config.AlignmentsDir != "" {
		// Bypassed mapping resolves the configured alignments
		// independently of any upstream cardinality, so the read and
		// index stages are not wired at all.
		alignments, err = w.bypassMapping()
	} else {
		var reads *flow.Stream[Sample]
		var index *flow.Value[string]
		if reads, err = w.buildReads(g); err != nil {
			return nil, err
		}
		if index, err = w.buildIndex(g, refs); err != nil {
			return nil, err
		}
		alignments, err = w.buildMapping(g, reads, index)
	}
	if err != nil {
		return nil, err
	}

	return w.buildCounting(g, alignments, refs)
}

// buildReads wires the read retrieval stage. In bypass mode every
// accession must resolve to at least one read file under the configured
// reads directory; in compute mode the extraction tool runs once per
// accession, emitting each sample as soon as its reads are on disk.
func (w *Workflow) buildReads(g *flow.Graph) (*flow.Stream[Sample], error) {
	cfg := w.Config
	desc, err := w.describe("reads", cfg.Resources.Fetch, 1, flow.SourceFor(cfg.ReadsDir))
	if err != nil {
		return nil, err
	}

	stream := flow.NewStream[Sample]("reads", len(cfg.Accessions))

	if desc.Source.Bypass() {
		samples := make([]Sample, 0, len(cfg.Accessions))
		for _, acc := range cfg.Accessions {
			d := desc
			d.Source = flow.Precomputed(filepath.Join(cfg.ReadsDir, acc+"*"))
			paths, err := d.ResolveBypass()
			if err != nil {
				return nil, err
			}
			samples = append(samples, Sample{Accession: acc, Reads: paths})
		}
		g.Add("reads", func(ctx context.Context) error {
			defer stream.Close()
			for _, s := range samples {
				if err := stream.Emit(ctx, s); err != nil {
					return err
				}
			}
			return nil
		})
		return stream, nil
	}

	g.Add("reads", func(ctx context.Context) error {
		defer stream.Close()
		dir, err := w.ensureDir("reads")
		if err != nil {
			return err
		}
		for _, acc := range cfg.Accessions {
			paths, err := flow.Run(ctx, desc, w.budget, acc, FetchReadsInvocation(acc, dir), w.produce)
			if err != nil {
				return err
			}
			if err := stream.Emit(ctx, Sample{Accession: acc, Reads: paths}); err != nil {
				return err
			}
		}
		return nil
	})
	return stream, nil
}

// buildReference wires the reference retrieval stage. Locally configured
// files are used as is; missing ones are downloaded from the configured
// URLs. When nothing needs downloading the channel is materialized at
// construction time and no stage task is wired.
func (w *Workflow) buildReference(g *flow.Graph) (*flow.Value[reference], error) {
	cfg := w.Config
	needFasta := cfg.IndexDir == "" && cfg.AlignmentsDir == ""

	if needFasta && cfg.Reference != "" {
		if _, err := os.Stat(cfg.Reference); err != nil {
			return nil, &flow.ConfigurationError{Option: "reference", Reason: fmt.Sprintf("%v not readable: %v", cfg.Reference, err)}
		}
	}
	if cfg.Annotation != "" {
		if _, err := os.Stat(cfg.Annotation); err != nil {
			return nil, &flow.ConfigurationError{Option: "annotation", Reason: fmt.Sprintf("%v not readable: %v", cfg.Annotation, err)}
		}
	}

	fetchFasta := needFasta && cfg.Reference == ""
	fetchAnnotation := cfg.Annotation == ""
	if !fetchFasta && !fetchAnnotation {
		return flow.SetValue("reference", reference{fasta: cfg.Reference, annotation: cfg.Annotation}), nil
	}

	desc, err := w.describe("reference", cfg.Resources.Fetch, 1, flow.Computed())
	if err != nil {
		return nil, err
	}
	refs := flow.NewValue[reference]("reference")
	g.Add("reference", func(ctx context.Context) error {
		dir, err := w.ensureDir("reference")
		if err != nil {
			return err
		}
		ref := reference{fasta: cfg.Reference, annotation: cfg.Annotation}
		if fetchFasta {
			ref.fasta = filepath.Join(dir, "genome.fa")
			if _, err := flow.Run(ctx, desc, w.budget, "genome", FetchURLInvocation(cfg.ReferenceURL, ref.fasta), w.produce); err != nil {
				return err
			}
		}
		if fetchAnnotation {
			ref.annotation = filepath.Join(dir, "annotation.gtf")
			if _, err := flow.Run(ctx, desc, w.budget, "annotation", FetchURLInvocation(cfg.AnnotationURL, ref.annotation), w.produce); err != nil {
				return err
			}
		}
		return refs.Set(ref)
	})
	return refs, nil
}

// buildIndex wires index construction. A configured index directory
// bypasses the stage; it must contain at least one artifact.
func (w *Workflow) buildIndex(g *flow.Graph, refs *flow.Value[reference]) (*flow.Value[string], error) {
	cfg := w.Config
	desc, err := w.describe("index", cfg.Resources.Index, w.budget.MaxCPUs(), flow.SourceFor(cfg.IndexDir))
	if err != nil {
		return nil, err
	}

	if desc.Source.Bypass() {
		d := desc
		d.Source = flow.Precomputed(filepath.Join(cfg.IndexDir, "*"))
		if _, err := d.ResolveBypass(); err != nil {
			return nil, err
		}
		return flow.SetValue("index", cfg.IndexDir), nil
	}

	index := flow.NewValue[string]("index")
	g.Add("index", func(ctx context.Context) error {
		ref, err := refs.Get(ctx)
		if err != nil {
			return err
		}
		dir, err := w.ensureDir("index")
		if err != nil {
			return err
		}
		inv := IndexInvocation(ref.fasta, ref.annotation, cfg.ReadLength, desc.Profile.CPUs, dir)
		if _, err := flow.Run(ctx, desc, w.budget, "", inv, w.produce); err != nil {
			return err
		}
		return index.Set(dir)
	})
	return index, nil
}

// buildMapping wires the fan-out mapping stage: one aligner instance per
// sample, bounded by the budget, with the fan-in aggregate sorted by
// sample key.
func (w *Workflow) buildMapping(g *flow.Graph, reads *flow.Stream[Sample], index *flow.Value[string]) (*flow.Value[[]Alignment], error) {
	cfg := w.Config
	desc, err := w.describe("mapping", cfg.Resources.Mapping, 1, flow.Computed())
	if err != nil {
		return nil, err
	}

	alignments := flow.NewValue[[]Alignment]("alignments")
	g.Add("mapping", func(ctx context.Context) error {
		indexDir, err := index.Get(ctx)
		if err != nil {
			return err
		}
		dir, err := w.ensureDir("alignments")
		if err != nil {
			return err
		}
		fanOut := &flow.FanOut[Sample, Alignment]{
			Stage:  desc,
			Budget: w.budget,
			Body: func(ctx context.Context, s Sample) (Alignment, error) {
				inv := MapInvocation(s.Accession, s.Reads, indexDir, desc.Profile.CPUs, dir)
				log.Println("Executing command:\n", inv.String())
				if err := w.Runner.Run(ctx, inv); err != nil {
					return Alignment{}, err
				}
				return Alignment{Sample: s.Accession, Path: AlignmentPath(dir, s.Accession)}, nil
			},
			Key: Alignment.Key,
		}
		outs, err := fanOut.Run(ctx, reads)
		if err != nil {
			return err
		}
		return alignments.Set(outs)
	})
	return alignments, nil
}

// bypassMapping materializes the alignments channel directly from the
// configured alignments directory, sorted by sample key.
func (w *Workflow) bypassMapping() (*flow.Value[[]Alignment], error) {
	d := flow.Descriptor{
		Name:   "mapping",
		Source: flow.Precomputed(filepath.Join(w.Config.AlignmentsDir, "*.bam")),
	}
	paths, err := d.ResolveBypass()
	if err != nil {
		return nil, err
	}
	alignments := make([]Alignment, 0, len(paths))
	for _, p := range paths {
		alignments = append(alignments, Alignment{Sample: sampleFromColumn(p), Path: p})
	}
	sort.Slice(alignments, func(i, j int) bool {
		return alignments[i].Sample < alignments[j].Sample
	})
	return flow.SetValue("alignments", alignments), nil
}

// buildCounting wires the counting stage, which consumes the complete
// ordered fan-in aggregate in a single invocation: the counting tool
// derives one matrix column per alignment argument, in argument order.
func (w *Workflow) buildCounting(g *flow.Graph, alignments *flow.Value[[]Alignment], refs *flow.Value[reference]) (*flow.Value[string], error) {
	cfg := w.Config
	desc, err := w.describe("counting", cfg.Resources.Counting, 1, flow.Computed())
	if err != nil {
		return nil, err
	}

	countMatrix := flow.NewValue[string]("count-matrix")
	g.Add("counting", func(ctx context.Context) error {
		alns, err := alignments.Get(ctx)
		if err != nil {
			return err
		}
		ref, err := refs.Get(ctx)
		if err != nil {
			return err
		}
		dir, err := w.ensureDir("counts")
		if err != nil {
			return err
		}
		paths := make([]string, 0, len(alns))
		for _, aln := range alns {
			paths = append(paths, aln.Path)
		}
		out := filepath.Join(dir, "counts.tsv")
		inv := CountInvocation(paths, ref.annotation, desc.Profile.CPUs, out)
		if _, err := flow.Run(ctx, desc, w.budget, "", inv, w.produce); err != nil {
			return err
		}
		return countMatrix.Set(out)
	})
	return countMatrix, nil
}

// describe builds a stage descriptor from the configured resources and
// checks it against the host ceiling.
func (w *Workflow) describe(name string, res Resources, defaultCPUs int, source flow.Source) (flow.Descriptor, error) {
	profile, err := w.Config.Profile(name, res, defaultCPUs)
	if err != nil {
		return flow.Descriptor{}, err
	}
	timeout, err := w.Config.Timeout(name, res)
	if err != nil {
		return flow.Descriptor{}, err
	}
	d := flow.Descriptor{Name: name, Profile: profile, Source: source, Timeout: timeout}
	if !source.Bypass() {
		if err := w.budget.Check(name, profile); err != nil {
			return flow.Descriptor{}, err
		}
	}
	return d, nil
}
