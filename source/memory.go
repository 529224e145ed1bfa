package source

import (
	"fmt"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// MemTable is an in-memory Table backed by named float64 columns. It is
// used by tests and synthetic-data runs.
type MemTable struct {
	columns map[string][]float64
	entries int64
	bound   map[string]*float64
}

// NewMemTable builds a table from named columns. All columns must have the
// same length.
func NewMemTable(columns map[string][]float64) (*MemTable, error) {
	entries := int64(-1)
	for name, col := range columns {
		if entries == -1 {
			entries = int64(len(col))
			continue
		}
		if int64(len(col)) != entries {
			return nil, errors.WrapInvalid(
				fmt.Errorf("column %q has %d entries, want %d", name, len(col), entries),
				"MemTable", "New", "validate column lengths")
		}
	}
	if entries == -1 {
		entries = 0
	}
	return &MemTable{
		columns: columns,
		entries: entries,
		bound:   make(map[string]*float64),
	}, nil
}

// Entries returns the total number of rows.
func (m *MemTable) Entries() int64 {
	return m.entries
}

// Bind returns an addressable cursor for the named column.
func (m *MemTable) Bind(field string) (*float64, error) {
	if _, ok := m.columns[field]; !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no column %q", field),
			"MemTable", "Bind", "look up column")
	}
	if cur, ok := m.bound[field]; ok {
		return cur, nil
	}
	cur := new(float64)
	m.bound[field] = cur
	return cur, nil
}

// Seek loads row i into all bound cursors.
func (m *MemTable) Seek(i int64) error {
	if i < 0 || i >= m.entries {
		return errors.WrapInvalid(
			fmt.Errorf("row %d out of range [0,%d)", i, m.entries),
			"MemTable", "Seek", "bounds check")
	}
	for name, cur := range m.bound {
		*cur = m.columns[name][i]
	}
	return nil
}

// Close releases the table. MemTable holds no resources.
func (m *MemTable) Close() error {
	return nil
}
