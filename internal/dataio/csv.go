// Package dataio reads tabular input for fits.
package dataio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

// missing lists cell values read as missing.
var missing = map[string]bool{"": true, "na": true, "nan": true, "null": true}

// Options controls CSV decoding.
type Options struct {
	// Categorical forces columns to be read as strings even when every
	// cell parses as a number.
	Categorical []string
	Comma       rune
}

// ReadFile loads a CSV file with a header row.
func ReadFile(path string, opts Options) (covariate.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return covariate.Dataset{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	ds, err := Read(f, opts)
	if err != nil {
		return covariate.Dataset{}, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Read decodes CSV with a header row. A column whose non-missing cells all
// parse as floats becomes numeric with NaN for missing cells; any other
// column is categorical with "" for missing cells.
func Read(r io.Reader, opts Options) (covariate.Dataset, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return covariate.Dataset{}, fmt.Errorf("empty input: header row required")
	}
	if err != nil {
		return covariate.Dataset{}, fmt.Errorf("failed to read header: %w", err)
	}
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return covariate.Dataset{}, fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[name] {
			return covariate.Dataset{}, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		header[i] = name
	}

	cols := make([][]string, len(header))
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return covariate.Dataset{}, fmt.Errorf("line %d: %w", line, err)
		}
		for j, cell := range rec {
			cols[j] = append(cols[j], strings.TrimSpace(cell))
		}
	}

	forced := make(map[string]bool, len(opts.Categorical))
	for _, name := range opts.Categorical {
		if !seen[name] {
			return covariate.Dataset{}, fmt.Errorf("categorical column %q not in header", name)
		}
		forced[name] = true
	}

	ds := covariate.NewDataset()
	for j, name := range header {
		if !forced[name] {
			if num, ok := parseNumeric(cols[j]); ok {
				ds.Numeric[name] = num
				continue
			}
		}
		ds.Categorical[name] = categorical(cols[j])
	}
	return ds, nil
}

func isMissing(cell string) bool {
	return missing[strings.ToLower(cell)]
}

func parseNumeric(cells []string) ([]float64, bool) {
	out := make([]float64, len(cells))
	for i, cell := range cells {
		if isMissing(cell) {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func categorical(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		if !isMissing(cell) {
			out[i] = cell
		}
	}
	return out
}
