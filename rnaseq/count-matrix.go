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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/exascience/pargo/pipeline"

	"github.com/seqflow/seqflow/flow"
)

// A CountMatrix is the parsed form of the count matrix produced by the
// counting stage: one row of counts per gene, one column per sample, with
// the sample columns in the deterministic order the counting tool
// received its alignments in.
type CountMatrix struct {
	Genes   []string
	Samples []string
	Counts  [][]int64
}

type countRow struct {
	gene   string
	counts []int64
}

// ReadCountMatrix parses a count matrix file. Both the counting tool's
// native layout (annotation columns between gene identifier and counts,
// alignment paths as column names) and a plain gene-by-sample table are
// accepted. Rows are parsed in parallel, with the gene order of the file
// preserved.
func ReadCountMatrix(path string) (*CountMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("count matrix %v is empty", path)
	}

	header := strings.Split(lines[0], "\t")
	offset := 1
	if len(header) > 6 && header[0] == "Geneid" && header[1] == "Chr" {
		offset = 6
	}
	if len(header) <= offset {
		return nil, fmt.Errorf("count matrix %v has no sample columns", path)
	}
	samples := make([]string, 0, len(header)-offset)
	for _, column := range header[offset:] {
		samples = append(samples, sampleFromColumn(column))
	}

	var rows []countRow
	var p pipeline.Pipeline
	p.Source(lines[1:])
	p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			in := data.([]string)
			out := make([]countRow, 0, len(in))
			for _, line := range in {
				row, err := parseCountRow(line, offset, len(samples))
				if err != nil {
					p.SetErr(fmt.Errorf("%v, while parsing count matrix %v", err, path))
					return out
				}
				out = append(out, row)
			}
			return out
		})),
		pipeline.StrictOrd(pipeline.Slice(&rows)),
	)
	p.Run()
	if err := p.Err(); err != nil {
		return nil, err
	}

	m := &CountMatrix{Samples: samples}
	for _, row := range rows {
		m.Genes = append(m.Genes, row.gene)
		m.Counts = append(m.Counts, row.counts)
	}
	return m, nil
}

func parseCountRow(line string, offset, nofSamples int) (countRow, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != offset+nofSamples {
		return countRow{}, fmt.Errorf("row %v has %v columns, expected %v", fields[0], len(fields), offset+nofSamples)
	}
	row := countRow{gene: fields[0], counts: make([]int64, 0, nofSamples)}
	for _, field := range fields[offset:] {
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return countRow{}, fmt.Errorf("invalid count %q in row %v", field, fields[0])
		}
		row.counts = append(row.counts, n)
	}
	return row, nil
}

// sampleFromColumn recovers a sample key from a count matrix column
// name. The counting tool uses the alignment path as column name, so the
// directory and the alignment naming convention are stripped.
func sampleFromColumn(column string) string {
	name := filepath.Base(column)
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// CheckSamples verifies that every sample column of the matrix has a row
// in the metadata table. The analysis tool would otherwise fail halfway
// through with a much less helpful message.
func (m *CountMatrix) CheckSamples(metadata map[string]string) error {
	for _, sample := range m.Samples {
		if _, ok := metadata[sample]; !ok {
			return &flow.ConfigurationError{
				Option: "metadata",
				Reason: fmt.Sprintf("sample %v appears in the count matrix but not in the metadata table", sample),
			}
		}
	}
	return nil
}
