// Package report cross-tabulates predicted labels against ground truth.
// Rows are the true categories, columns the predicted labels, so the
// unassigned sentinel shows up as a column but never as a row.
package report

import (
	"fmt"
	"slices"
	"sort"
)

// Options configures cross-tabulation.
type Options struct {
	// Rows fixes the row set. Empty derives the rows from the true labels.
	Rows []string

	// Columns fixes the column set. Empty derives the columns from the
	// predicted labels.
	Columns []string
}

// DefaultOptions is the default cross-tabulation configuration.
var DefaultOptions = Options{}

// WithRows fixes the row set.
func WithRows(rows ...string) func(o *Options) {
	return func(o *Options) {
		o.Rows = rows
	}
}

// WithColumns fixes the column set.
func WithColumns(columns ...string) func(o *Options) {
	return func(o *Options) {
		o.Columns = columns
	}
}

// CrossTab is an immutable contingency table of true versus predicted
// labels. Rows and columns are sorted.
type CrossTab struct {
	rows     []string
	columns  []string
	rowIndex map[string]int
	colIndex map[string]int
	counts   [][]int
	total    int
}

// NewCrossTab tabulates label agreement. Pairs whose true label falls
// outside a fixed row set, or whose prediction falls outside a fixed
// column set, are dropped.
func NewCrossTab(truth, predicted []string, optFns ...func(o *Options)) (*CrossTab, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("report: %d true labels for %d predictions", len(truth), len(predicted))
	}

	rows := opts.Rows
	if len(rows) == 0 {
		rows = truth
	}

	columns := opts.Columns
	if len(columns) == 0 {
		columns = predicted
	}

	ct := &CrossTab{
		rows:    uniqueSorted(rows),
		columns: uniqueSorted(columns),
	}

	ct.rowIndex = indexOf(ct.rows)
	ct.colIndex = indexOf(ct.columns)

	ct.counts = make([][]int, len(ct.rows))
	for i := range ct.counts {
		ct.counts[i] = make([]int, len(ct.columns))
	}

	for i := range truth {
		r, ok := ct.rowIndex[truth[i]]
		if !ok {
			continue
		}

		c, ok := ct.colIndex[predicted[i]]
		if !ok {
			continue
		}

		ct.counts[r][c]++
		ct.total++
	}

	return ct, nil
}

// Rows returns the row labels in order.
func (ct *CrossTab) Rows() []string {
	return append([]string(nil), ct.rows...)
}

// Columns returns the column labels in order.
func (ct *CrossTab) Columns() []string {
	return append([]string(nil), ct.columns...)
}

// Total returns the number of tabulated pairs.
func (ct *CrossTab) Total() int {
	return ct.total
}

// Count returns one cell. Unknown labels count zero.
func (ct *CrossTab) Count(row, column string) int {
	r, ok := ct.rowIndex[row]
	if !ok {
		return 0
	}

	c, ok := ct.colIndex[column]
	if !ok {
		return 0
	}

	return ct.counts[r][c]
}

// Counts returns the count matrix in Rows x Columns order.
func (ct *CrossTab) Counts() [][]int {
	out := make([][]int, len(ct.counts))
	for i, row := range ct.counts {
		out[i] = append([]int(nil), row...)
	}

	return out
}

// RowTotal returns the number of pairs whose true label is row.
func (ct *CrossTab) RowTotal(row string) int {
	r, ok := ct.rowIndex[row]
	if !ok {
		return 0
	}

	total := 0
	for _, v := range ct.counts[r] {
		total += v
	}

	return total
}

// Proportion returns one row-normalized cell. Rows without any true
// samples report zero rather than dividing by zero.
func (ct *CrossTab) Proportion(row, column string) float64 {
	total := ct.RowTotal(row)
	if total == 0 {
		return 0
	}

	return float64(ct.Count(row, column)) / float64(total)
}

// Proportions returns the row-normalized matrix in Rows x Columns order.
// Rows without any true samples stay all-zero.
func (ct *CrossTab) Proportions() [][]float64 {
	out := make([][]float64, len(ct.counts))

	for i, row := range ct.counts {
		out[i] = make([]float64, len(row))

		total := 0
		for _, v := range row {
			total += v
		}

		if total == 0 {
			continue
		}

		for j, v := range row {
			out[i][j] = float64(v) / float64(total)
		}
	}

	return out
}

func uniqueSorted(labels []string) []string {
	out := append([]string(nil), labels...)
	sort.Strings(out)

	return slices.Compact(out)
}

func indexOf(labels []string) map[string]int {
	index := make(map[string]int, len(labels))
	for i, label := range labels {
		index[label] = i
	}

	return index
}
