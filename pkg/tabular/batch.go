// Package tabular defines the in-memory tabular batch exchanged between the
// dataset reader and the schema normalizer. A Batch is columnar: every column
// holds exactly NumRows values, with nil marking a missing reading.
package tabular

import "fmt"

// Batch is the flattened form of one decoded profile file. Columns keep the
// file's native (possibly legacy) names; the normalizer resolves them to the
// canonical schema.
type Batch struct {
	rows  int
	names []string
	byCol map[string][]any
}

// NewBatch creates an empty batch that will hold rows values per column.
func NewBatch(rows int) *Batch {
	return &Batch{rows: rows, byCol: map[string][]any{}}
}

// NumRows returns the number of rows in the batch.
func (b *Batch) NumRows() int { return b.rows }

// Columns returns the column names in insertion order.
func (b *Batch) Columns() []string { return b.names }

// Column returns the values for name and whether the column exists.
func (b *Batch) Column(name string) ([]any, bool) {
	col, ok := b.byCol[name]
	return col, ok
}

// Add appends a column. The column length must match NumRows, and names must
// be unique within the batch.
func (b *Batch) Add(name string, values []any) error {
	if len(values) != b.rows {
		return fmt.Errorf("tabular: column %q has %d values, batch has %d rows", name, len(values), b.rows)
	}
	if _, dup := b.byCol[name]; dup {
		return fmt.Errorf("tabular: duplicate column %q", name)
	}
	b.names = append(b.names, name)
	b.byCol[name] = values
	return nil
}
