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
	"encoding/csv"
	"fmt"
	"os"

	"github.com/seqflow/seqflow/flow"
)

// ReadMetadata parses the tab-separated metadata table mapping sample
// keys to experimental conditions. The first column is the sample key,
// the second the condition; a header row is expected. Sample keys must
// be unique, since they double as fan-in sort keys.
func ReadMetadata(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &flow.ConfigurationError{Option: "metadata", Reason: err.Error()}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, &flow.ConfigurationError{Option: "metadata", Reason: fmt.Sprintf("cannot parse %v: %v", path, err)}
	}
	if len(records) < 2 {
		return nil, &flow.ConfigurationError{Option: "metadata", Reason: fmt.Sprintf("%v contains no samples", path)}
	}
	metadata := make(map[string]string, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 2 {
			return nil, &flow.ConfigurationError{Option: "metadata", Reason: fmt.Sprintf("row %v has no condition column", record)}
		}
		sample, condition := record[0], record[1]
		if _, ok := metadata[sample]; ok {
			return nil, &flow.ConfigurationError{Option: "metadata", Reason: fmt.Sprintf("duplicate sample %v", sample)}
		}
		metadata[sample] = condition
	}
	return metadata, nil
}
