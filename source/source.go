// Package source abstracts the tabular inputs events are read from. A
// Table exposes named float64 fields through addressable cursors: callers
// bind the fields once, then Seek loads one row at a time into every bound
// cursor. This mirrors how reconstruction trees are read and keeps the
// per-row cost to pointer writes.
package source

// Table is one tabular input (one stream's worth of rows).
// Implementations need not be safe for concurrent use; each stream worker
// owns its table exclusively.
type Table interface {
	// Entries returns the total number of rows.
	Entries() int64

	// Bind returns an addressable cursor for the named field. The cursor
	// is updated by every subsequent Seek. Binding an unknown field fails.
	Bind(field string) (*float64, error)

	// Seek loads row i into all bound cursors.
	Seek(i int64) error

	// Close releases the table's resources.
	Close() error
}
