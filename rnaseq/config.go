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
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seqflow/seqflow/flow"
)

// Resources configures the resource profile of one stage: CPU slots,
// a memory ceiling such as "4G", and an optional timeout such as "2h".
type Resources struct {
	CPUs    int    `yaml:"cpus"`
	Memory  string `yaml:"memory"`
	Timeout string `yaml:"timeout"`
}

// StageResources groups the per-stage resource settings.
type StageResources struct {
	Fetch    Resources `yaml:"fetch"`
	Index    Resources `yaml:"index"`
	Mapping  Resources `yaml:"mapping"`
	Counting Resources `yaml:"counting"`
	Analysis Resources `yaml:"analysis"`
}

// A Config is the externally supplied configuration surface of a run.
// The absence of a location option is the sole trigger for compute mode
// on the corresponding stage: a configured reads-dir bypasses read
// retrieval, a configured index-dir bypasses index construction, a
// configured alignments-dir bypasses mapping, and a configured
// count-matrix bypasses the quantification sub-pipeline entirely.
type Config struct {
	Accessions []string `yaml:"accessions"`

	ReadsDir      string `yaml:"reads-dir"`
	Reference     string `yaml:"reference"`
	ReferenceURL  string `yaml:"reference-url"`
	Annotation    string `yaml:"annotation"`
	AnnotationURL string `yaml:"annotation-url"`
	IndexDir      string `yaml:"index-dir"`
	AlignmentsDir string `yaml:"alignments-dir"`
	CountMatrix   string `yaml:"count-matrix"`
	Metadata      string `yaml:"metadata"`

	ReadLength     int    `yaml:"read-length"`
	OutputDir      string `yaml:"output-dir"`
	AnalysisScript string `yaml:"analysis-script"`

	MaxCPUs   int    `yaml:"max-cpus"`
	MaxMemory string `yaml:"max-memory"`

	Resources StageResources `yaml:"resources"`
}

// LoadConfig reads and parses a YAML configuration file and fills in
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &flow.ConfigurationError{Option: "config", Reason: err.Error()}
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &flow.ConfigurationError{Option: "config", Reason: fmt.Sprintf("cannot parse %v: %v", path, err)}
	}
	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults fills in the defaults for unset options.
func (cfg *Config) SetDefaults() {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "seqflow-output"
	}
	if cfg.AnalysisScript == "" {
		cfg.AnalysisScript = "scripts/deseq2.R"
	}
	if cfg.MaxCPUs < 1 {
		cfg.MaxCPUs = runtime.GOMAXPROCS(0)
	}
}

// Check performs the sanity checks that must hold before a graph is
// constructed. Contradictory or incomplete options fail fast here, so
// nothing partially executes.
func (cfg *Config) Check() error {
	quantify := cfg.CountMatrix == ""
	if quantify {
		// Precomputed alignments derive the sample keys from the
		// alignment filenames, so accessions and the read, reference,
		// and index options are not consulted at all.
		if cfg.AlignmentsDir == "" && len(cfg.Accessions) == 0 {
			return &flow.ConfigurationError{Option: "accessions", Reason: "no samples configured"}
		}
		seen := make(map[string]bool)
		for _, acc := range cfg.Accessions {
			if acc == "" {
				return &flow.ConfigurationError{Option: "accessions", Reason: "empty accession"}
			}
			if seen[acc] {
				// Sample keys double as fan-in sort keys and must be unique.
				return &flow.ConfigurationError{Option: "accessions", Reason: fmt.Sprintf("duplicate accession %v", acc)}
			}
			seen[acc] = true
		}
		if cfg.AlignmentsDir == "" && cfg.IndexDir == "" {
			if cfg.Reference == "" && cfg.ReferenceURL == "" {
				return &flow.ConfigurationError{Option: "reference", Reason: "index construction requires a reference genome or reference-url"}
			}
			if cfg.ReadLength < 1 {
				return &flow.ConfigurationError{Option: "read-length", Reason: "index construction requires a positive read length"}
			}
		}
		if cfg.Annotation == "" && cfg.AnnotationURL == "" {
			return &flow.ConfigurationError{Option: "annotation", Reason: "counting requires a gene annotation or annotation-url"}
		}
	}
	if _, err := cfg.MaxMemoryBytes(); err != nil {
		return err
	}
	for _, r := range []struct {
		name string
		res  Resources
	}{
		{"resources.fetch", cfg.Resources.Fetch},
		{"resources.index", cfg.Resources.Index},
		{"resources.mapping", cfg.Resources.Mapping},
		{"resources.counting", cfg.Resources.Counting},
		{"resources.analysis", cfg.Resources.Analysis},
	} {
		if _, err := parseMemory(r.name, r.res.Memory); err != nil {
			return err
		}
		if _, err := parseTimeout(r.name, r.res.Timeout); err != nil {
			return err
		}
	}
	return nil
}

// MaxMemoryBytes returns the configured global memory ceiling in bytes,
// or 0 when memory accounting is disabled.
func (cfg *Config) MaxMemoryBytes() (int64, error) {
	return parseMemory("max-memory", cfg.MaxMemory)
}

// Profile converts per-stage resource settings into a flow.Profile,
// falling back to the given default CPU count.
func (cfg *Config) Profile(name string, res Resources, defaultCPUs int) (flow.Profile, error) {
	cpus := res.CPUs
	if cpus < 1 {
		cpus = defaultCPUs
	}
	mem, err := parseMemory("resources."+name, res.Memory)
	if err != nil {
		return flow.Profile{}, err
	}
	return flow.Profile{CPUs: cpus, Memory: mem}, nil
}

// Timeout returns the per-stage timeout, or 0 when none is configured.
func (cfg *Config) Timeout(name string, res Resources) (time.Duration, error) {
	return parseTimeout("resources."+name, res.Timeout)
}

func parseMemory(option, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch suffix := s[len(s)-1]; suffix {
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 'T', 't':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, &flow.ConfigurationError{Option: option, Reason: fmt.Sprintf("invalid memory size %q", s)}
	}
	return n * mult, nil
}

func parseTimeout(option, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, &flow.ConfigurationError{Option: option, Reason: fmt.Sprintf("invalid timeout %q", s)}
	}
	return d, nil
}

// Summary returns the one-time startup summary of the resolved
// configuration. Advisory only.
func (cfg *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintln(&b, "Resolved configuration:")
	fmt.Fprintln(&b, "  samples:", strings.Join(cfg.Accessions, " "))
	mode := func(location string) string {
		if location == "" {
			return "compute"
		}
		return "bypass (" + location + ")"
	}
	fmt.Fprintln(&b, "  reads:", mode(cfg.ReadsDir))
	fmt.Fprintln(&b, "  index:", mode(cfg.IndexDir))
	fmt.Fprintln(&b, "  mapping:", mode(cfg.AlignmentsDir))
	fmt.Fprintln(&b, "  quantification:", mode(cfg.CountMatrix))
	fmt.Fprintln(&b, "  metadata:", cfg.Metadata)
	fmt.Fprintln(&b, "  output:", cfg.OutputDir)
	fmt.Fprintf(&b, "  host ceiling: %v cpus, memory %q\n", cfg.MaxCPUs, cfg.MaxMemory)
	return b.String()
}
