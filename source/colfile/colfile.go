// Package colfile implements a source.Table over column files: a directory
// holding one raw little-endian float64 file per field, named <field>.f64.
// Column files are what the synthetic-data generators emit and what tests
// write; they carry the same reconstruction fields as the dalitz trees
// without a framework dependency to parse them.
package colfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// Ext is the column file extension.
const Ext = ".f64"

// chunkRows is the read-ahead window per bound column. Rows are read
// sequentially in practice, so each refill serves chunkRows seeks.
const chunkRows = 4096

type column struct {
	f      *os.File
	cursor *float64

	buf      []byte // read-ahead window
	bufStart int64  // first row held in buf
	bufRows  int64  // rows held in buf
}

// Table is a directory of column files. Not safe for concurrent use; each
// stream worker owns its table.
type Table struct {
	dir     string
	entries int64
	sizes   map[string]int64
	bound   map[string]*column
	closed  bool
}

// Open scans dir for column files and validates that all columns have the
// same row count. When tree names an existing subdirectory of dir, the
// subdirectory is opened instead; this keeps command lines that pass a
// tree name working against directory layouts that nest one table per tree.
func Open(dir, tree string) (*Table, error) {
	if tree != "" {
		sub := filepath.Join(dir, tree)
		if fi, err := os.Stat(sub); err == nil && fi.IsDir() {
			dir = sub
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, errors.WrapFatal(err, "colfile", "Open", "scan directory")
	}
	if len(matches) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("no %s column files in %s", Ext, dir),
			"colfile", "Open", "scan directory")
	}

	t := &Table{
		dir:     dir,
		entries: -1,
		sizes:   make(map[string]int64, len(matches)),
		bound:   make(map[string]*column),
	}
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "colfile", "Open", "stat column file")
		}
		if fi.Size()%8 != 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%s: %d bytes is not a whole number of float64 values", path, fi.Size()),
				"colfile", "Open", "validate column file")
		}
		rows := fi.Size() / 8
		if t.entries == -1 {
			t.entries = rows
		} else if rows != t.entries {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%s has %d rows, other columns have %d", path, rows, t.entries),
				"colfile", "Open", "validate column lengths")
		}
		field := strings.TrimSuffix(filepath.Base(path), Ext)
		t.sizes[field] = rows
	}
	return t, nil
}

// Entries returns the total number of rows.
func (t *Table) Entries() int64 {
	return t.entries
}

// Bind opens the named column and returns its cursor.
func (t *Table) Bind(field string) (*float64, error) {
	if t.closed {
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "colfile", "Bind", "table closed")
	}
	if col, ok := t.bound[field]; ok {
		return col.cursor, nil
	}
	if _, ok := t.sizes[field]; !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no column %q in %s", field, t.dir),
			"colfile", "Bind", "look up column")
	}
	f, err := os.Open(filepath.Join(t.dir, field+Ext))
	if err != nil {
		return nil, errors.WrapFatal(err, "colfile", "Bind", "open column file")
	}
	col := &column{
		f:      f,
		cursor: new(float64),
		buf:    make([]byte, 0, chunkRows*8),
	}
	t.bound[field] = col
	return col.cursor, nil
}

// Seek loads row i into all bound cursors, refilling each column's
// read-ahead window as needed.
func (t *Table) Seek(i int64) error {
	if t.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "colfile", "Seek", "table closed")
	}
	if i < 0 || i >= t.entries {
		return errors.WrapInvalid(
			fmt.Errorf("row %d out of range [0,%d)", i, t.entries),
			"colfile", "Seek", "bounds check")
	}
	for field, col := range t.bound {
		if i < col.bufStart || i >= col.bufStart+col.bufRows {
			if err := col.refill(i, t.entries); err != nil {
				return errors.Wrap(err, "colfile", "Seek", fmt.Sprintf("read column %q", field))
			}
		}
		off := (i - col.bufStart) * 8
		*col.cursor = math.Float64frombits(binary.LittleEndian.Uint64(col.buf[off:]))
	}
	return nil
}

func (c *column) refill(from, entries int64) error {
	rows := int64(chunkRows)
	if from+rows > entries {
		rows = entries - from
	}
	c.buf = c.buf[:rows*8]
	// ReadAt may pair io.EOF with a full read of the final window
	n, err := c.f.ReadAt(c.buf, from*8)
	if err != nil && !(err == io.EOF && int64(n) == rows*8) {
		c.bufRows = 0
		return err
	}
	c.bufStart = from
	c.bufRows = rows
	return nil
}

// Close closes every bound column file.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var firstErr error
	for _, col := range t.bound {
		if err := col.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
