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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/seqflow/seqflow/flow"
)

const configFixture = `accessions:
  - SRR1
  - SRR2
reference-url: https://example.org/genome.fa
annotation: /data/annotation.gtf
metadata: /data/samples.tsv
read-length: 100
max-cpus: 8
max-memory: 32G
resources:
  mapping:
    cpus: 4
    memory: 16G
    timeout: 2h
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seqflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, configFixture))
	if err != nil {
		t.Fatal("LoadConfig failed:", err)
	}
	if diff := cmp.Diff([]string{"SRR1", "SRR2"}, cfg.Accessions); diff != "" {
		t.Error("wrong accessions:", diff)
	}
	if cfg.Resources.Mapping.CPUs != 4 || cfg.Resources.Mapping.Memory != "16G" {
		t.Error("wrong mapping resources:", cfg.Resources.Mapping)
	}
	if cfg.OutputDir != "seqflow-output" {
		t.Error("output-dir default not applied:", cfg.OutputDir)
	}
	if cfg.AnalysisScript != "scripts/deseq2.R" {
		t.Error("analysis-script default not applied:", cfg.AnalysisScript)
	}
	if err := cfg.Check(); err != nil {
		t.Error("valid configuration rejected:", err)
	}
}

func TestLoadConfigParseError(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "accessions: [unterminated"))
	var cfgErr *flow.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Error("broken yaml not reported as configuration error:", err)
	}
}

func TestCheckDuplicateAccessions(t *testing.T) {
	cfg := &Config{
		Accessions: []string{"SRR1", "SRR1"},
		IndexDir:   "/data/index",
		Annotation: "/data/annotation.gtf",
	}
	cfg.SetDefaults()
	var cfgErr *flow.ConfigurationError
	if err := cfg.Check(); !errors.As(err, &cfgErr) {
		t.Fatal("duplicate accessions accepted:", err)
	}
	if !strings.Contains(cfgErr.Error(), "SRR1") {
		t.Error("error does not name the duplicate:", cfgErr)
	}
}

func TestCheckIndexRequirements(t *testing.T) {
	cfg := &Config{
		Accessions: []string{"SRR1"},
		Annotation: "/data/annotation.gtf",
	}
	cfg.SetDefaults()
	var cfgErr *flow.ConfigurationError
	if err := cfg.Check(); !errors.As(err, &cfgErr) {
		t.Error("index construction without a reference accepted:", err)
	}
	cfg.Reference = "/data/genome.fa"
	if err := cfg.Check(); !errors.As(err, &cfgErr) {
		t.Error("index construction without a read length accepted:", err)
	}
	cfg.ReadLength = 100
	if err := cfg.Check(); err != nil {
		t.Error("valid configuration rejected:", err)
	}
}

func TestCheckAlignmentsBypass(t *testing.T) {
	// Precomputed alignments carry their own sample keys, so neither
	// accessions nor reference/index options are required.
	cfg := &Config{
		AlignmentsDir: "/data/alignments",
		Annotation:    "/data/annotation.gtf",
	}
	cfg.SetDefaults()
	if err := cfg.Check(); err != nil {
		t.Error("alignments bypass configuration rejected:", err)
	}
}

func TestCheckAnnotationRequired(t *testing.T) {
	cfg := &Config{
		Accessions: []string{"SRR1"},
		IndexDir:   "/data/index",
	}
	cfg.SetDefaults()
	var cfgErr *flow.ConfigurationError
	if err := cfg.Check(); !errors.As(err, &cfgErr) {
		t.Error("counting without an annotation accepted:", err)
	}
}

func TestParseMemory(t *testing.T) {
	for _, c := range []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"1024", 1024},
		{"4K", 4 << 10},
		{"16M", 16 << 20},
		{"32G", 32 << 30},
		{"2T", 2 << 40},
	} {
		got, err := parseMemory("test", c.in)
		if err != nil || got != c.want {
			t.Error("parseMemory", c.in, "returned", got, err)
		}
	}
	for _, in := range []string{"abc", "-1", "G", "12Q"} {
		if _, err := parseMemory("test", in); err == nil {
			t.Error("parseMemory accepted", in)
		}
	}
}

func TestProfileAndTimeout(t *testing.T) {
	cfg := new(Config)
	cfg.SetDefaults()
	p, err := cfg.Profile("mapping", Resources{CPUs: 4, Memory: "2G"}, 1)
	if err != nil {
		t.Fatal("Profile failed:", err)
	}
	if p.CPUs != 4 || p.Memory != 2<<30 {
		t.Error("wrong profile:", p)
	}
	p, err = cfg.Profile("counting", Resources{}, 2)
	if err != nil || p.CPUs != 2 || p.Memory != 0 {
		t.Error("profile defaults not applied:", p, err)
	}
	d, err := cfg.Timeout("mapping", Resources{Timeout: "90m"})
	if err != nil || d.Minutes() != 90 {
		t.Error("wrong timeout:", d, err)
	}
	if _, err := cfg.Timeout("mapping", Resources{Timeout: "soon"}); err == nil {
		t.Error("invalid timeout accepted")
	}
}

func TestSummary(t *testing.T) {
	cfg := &Config{
		Accessions: []string{"SRR1", "SRR2"},
		IndexDir:   "/data/index",
		Metadata:   "/data/samples.tsv",
	}
	cfg.SetDefaults()
	s := cfg.Summary()
	for _, want := range []string{"SRR1 SRR2", "index: bypass (/data/index)", "mapping: compute"} {
		if !strings.Contains(s, want) {
			t.Error("summary misses", want, "\n", s)
		}
	}
}
