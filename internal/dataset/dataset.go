// Package dataset reads uploaded CSV files and prepares the rows used for
// plotting, the calculation demo and fitting.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Sentinel is the join key column. It is never offered as a selectable header.
const Sentinel = "main_id"

const constantTolerance = 1e-9

var (
	ErrNoMatchingRows   = errors.New("no data matches the selected constant filters")
	ErrNoNumericRows    = errors.New("no valid numerical data after filtering and type conversion")
	ErrRowCountMismatch = errors.New(`feature and target CSV files have different number of rows and no common "main_id"`)
	ErrMissingColumn    = errors.New("column not found")
)

// IsSentinel reports whether header names the join key, ignoring case.
func IsSentinel(header string) bool {
	return strings.EqualFold(strings.TrimSpace(header), Sentinel)
}

// FilterHeaders drops the sentinel from headers.
func FilterHeaders(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if !IsSentinel(h) {
			out = append(out, h)
		}
	}
	return out
}

// Table is a CSV file held as strings.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ReadCSV parses a CSV stream whose first record is the header row.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("read csv: file is empty")
	}

	headers := records[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	return &Table{Headers: headers, Rows: records[1:]}, nil
}

// ReadFile opens and parses a CSV file.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// Column returns the index of name. The sentinel matches case-insensitively.
func (t *Table) Column(name string) (int, bool) {
	for i, h := range t.Headers {
		if h == name || (IsSentinel(name) && IsSentinel(h)) {
			return i, true
		}
	}
	return -1, false
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Merge joins feature and target rows. When both tables carry the sentinel
// column the join is an inner join on it; otherwise rows are paired by
// position and the tables must have the same length. Target columns whose
// names collide with feature columns get a "_target" suffix.
func Merge(feature, target *Table) (*Table, error) {
	fID, fOK := feature.Column(Sentinel)
	tID, tOK := target.Column(Sentinel)

	headers := append([]string(nil), feature.Headers...)
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		seen[h] = true
	}
	var targetCols []int
	for i, h := range target.Headers {
		if fOK && tOK && i == tID {
			continue
		}
		name := h
		if seen[name] {
			name += "_target"
		}
		seen[name] = true
		headers = append(headers, name)
		targetCols = append(targetCols, i)
	}

	joined := func(f, t []string) []string {
		row := make([]string, 0, len(headers))
		row = append(row, f...)
		for _, i := range targetCols {
			row = append(row, cell(t, i))
		}
		return row
	}

	out := &Table{Headers: headers}
	if fOK && tOK {
		byID := make(map[string][]int, target.Len())
		for i, row := range target.Rows {
			id := cell(row, tID)
			byID[id] = append(byID[id], i)
		}
		for _, f := range feature.Rows {
			for _, i := range byID[cell(f, fID)] {
				out.Rows = append(out.Rows, joined(f, target.Rows[i]))
			}
		}
		return out, nil
	}

	if feature.Len() != target.Len() {
		return nil, ErrRowCountMismatch
	}
	for i, f := range feature.Rows {
		out.Rows = append(out.Rows, joined(f, target.Rows[i]))
	}
	return out, nil
}

// TargetColumn returns the name the target column name gets in Merge(feature, ...).
func TargetColumn(feature *Table, name string) string {
	for _, h := range feature.Headers {
		if h == name {
			return name + "_target"
		}
	}
	return name
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Constraint pins a column to one value.
type Constraint struct {
	Column string
	Value  string
}

// FilterConstants keeps the rows that satisfy every constraint. A column with
// at least one numeric cell is compared numerically with a small tolerance;
// otherwise the comparison is exact string equality.
func FilterConstants(t *Table, constraints []Constraint) (*Table, error) {
	rows := t.Rows
	for _, c := range constraints {
		if strings.TrimSpace(c.Value) == "" {
			return nil, fmt.Errorf("constant value for %q is not provided", c.Column)
		}
		col, ok := t.Column(c.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, c.Column)
		}

		numeric := false
		for _, row := range rows {
			if _, ok := parseNumber(cell(row, col)); ok {
				numeric = true
				break
			}
		}

		var keep [][]string
		if numeric {
			want, ok := parseNumber(c.Value)
			if !ok {
				return nil, fmt.Errorf("invalid constant value for %q: must be a number", c.Column)
			}
			for _, row := range rows {
				v, ok := parseNumber(cell(row, col))
				if ok && math.Abs(v-want) <= constantTolerance+1e-5*math.Abs(want) {
					keep = append(keep, row)
				}
			}
		} else {
			for _, row := range rows {
				if cell(row, col) == strings.TrimSpace(c.Value) {
					keep = append(keep, row)
				}
			}
		}
		rows = keep
	}
	return &Table{Headers: t.Headers, Rows: rows}, nil
}

// NumericColumns converts the named columns to floats, dropping any row in
// which one of them is not a number.
func NumericColumns(t *Table, names ...string) ([][]float64, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		idx[i] = col
	}

	cols := make([][]float64, len(names))
rows:
	for _, row := range t.Rows {
		values := make([]float64, len(idx))
		for i, col := range idx {
			v, ok := parseNumber(cell(row, col))
			if !ok {
				continue rows
			}
			values[i] = v
		}
		for i, v := range values {
			cols[i] = append(cols[i], v)
		}
	}
	return cols, nil
}

// NumericRow returns the numeric cells of row i, skipping the sentinel and
// non-numeric values.
func (t *Table) NumericRow(i int) map[string]float64 {
	out := make(map[string]float64, len(t.Headers))
	if i < 0 || i >= t.Len() {
		return out
	}
	for col, h := range t.Headers {
		if IsSentinel(h) {
			continue
		}
		if v, ok := parseNumber(cell(t.Rows[i], col)); ok {
			out[h] = v
		}
	}
	return out
}

// Lookup returns the first row whose sentinel equals id.
func (t *Table) Lookup(id string) ([]string, bool) {
	col, ok := t.Column(Sentinel)
	if !ok {
		return nil, false
	}
	for _, row := range t.Rows {
		if cell(row, col) == id {
			return row, true
		}
	}
	return nil, false
}

// Cell returns the trimmed value of column name in row, or "".
func (t *Table) Cell(row []string, name string) string {
	col, ok := t.Column(name)
	if !ok {
		return ""
	}
	return cell(row, col)
}

// Range returns the minimum and maximum of values.
func Range(values []float64) (min, max float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	return floats.Min(values), floats.Max(values)
}
