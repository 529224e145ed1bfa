package colfile

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffersonLab/e2sar-utils/source"
	"github.com/JeffersonLab/e2sar-utils/testutil"
)

func writeRawColumn(t *testing.T, dir, field string, values []float64) {
	t.Helper()
	buf := make([]byte, 0, len(values)*8)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, field+Ext), buf, 0o644))
}

func TestOpenBindSeek(t *testing.T) {
	dir := t.TempDir()
	writeRawColumn(t, dir, "a", []float64{1, 2, 3, 4})
	writeRawColumn(t, dir, "b", []float64{10, 20, 30, 40})

	tbl, err := Open(dir, "")
	require.NoError(t, err)
	defer tbl.Close()

	assert.EqualValues(t, 4, tbl.Entries())

	a, err := tbl.Bind("a")
	require.NoError(t, err)
	b, err := tbl.Bind("b")
	require.NoError(t, err)

	// Repeated binds return the same cursor
	a2, err := tbl.Bind("a")
	require.NoError(t, err)
	assert.Same(t, a, a2)

	require.NoError(t, tbl.Seek(2))
	assert.Equal(t, 3.0, *a)
	assert.Equal(t, 30.0, *b)

	require.NoError(t, tbl.Seek(0))
	assert.Equal(t, 1.0, *a)
	assert.Equal(t, 10.0, *b)

	assert.Error(t, tbl.Seek(4))
	assert.Error(t, tbl.Seek(-1))

	_, err = tbl.Bind("missing")
	assert.Error(t, err)
}

func TestOpenResolvesTreeSubdirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "dalitz_root_tree")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeRawColumn(t, sub, "a", []float64{7})

	tbl, err := Open(dir, "dalitz_root_tree")
	require.NoError(t, err)
	defer tbl.Close()

	assert.EqualValues(t, 1, tbl.Entries())
	a, err := tbl.Bind("a")
	require.NoError(t, err)
	require.NoError(t, tbl.Seek(0))
	assert.Equal(t, 7.0, *a)
}

func TestOpenMissingTreeFallsBackToDir(t *testing.T) {
	dir := t.TempDir()
	writeRawColumn(t, dir, "a", []float64{1, 2})

	tbl, err := Open(dir, "no_such_tree")
	require.NoError(t, err)
	defer tbl.Close()
	assert.EqualValues(t, 2, tbl.Entries())
}

func TestOpenValidation(t *testing.T) {
	t.Run("no column files", func(t *testing.T) {
		_, err := Open(t.TempDir(), "")
		assert.Error(t, err)
	})

	t.Run("ragged columns", func(t *testing.T) {
		dir := t.TempDir()
		writeRawColumn(t, dir, "a", []float64{1, 2, 3})
		writeRawColumn(t, dir, "b", []float64{1})
		_, err := Open(dir, "")
		assert.Error(t, err)
	})

	t.Run("truncated file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a"+Ext), make([]byte, 13), 0o644))
		_, err := Open(dir, "")
		assert.Error(t, err)
	})
}

func TestSeekAcrossReadAheadWindow(t *testing.T) {
	const n = chunkRows*2 + 100
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i) * 0.5
	}
	dir := t.TempDir()
	writeRawColumn(t, dir, "x", vals)

	tbl, err := Open(dir, "")
	require.NoError(t, err)
	defer tbl.Close()

	x, err := tbl.Bind("x")
	require.NoError(t, err)

	// Forward across both window boundaries, then backward again
	for _, i := range []int64{0, chunkRows - 1, chunkRows, chunkRows + 1, 2*chunkRows + 99, 10, n - 1, 0} {
		require.NoError(t, tbl.Seek(i), "seek %d", i)
		assert.Equal(t, vals[i], *x, "row %d", i)
	}
}

func TestSequentialScanMatchesColumns(t *testing.T) {
	const n = chunkRows + 50
	cols := testutil.DalitzColumns(n, 7)
	dir := t.TempDir()
	testutil.WriteColumnFiles(t, dir, cols)

	tbl, err := Open(dir, "")
	require.NoError(t, err)
	defer tbl.Close()

	r, err := source.NewEventReader(tbl)
	require.NoError(t, err)
	require.EqualValues(t, n, r.Entries())

	want := testutil.ExpectedEvents(cols)
	for i := 0; i < n; i++ {
		e, ok, err := r.Next()
		require.NoError(t, err)
		require.True(t, ok, "row %d", i)
		require.Equal(t, want[i], e, "row %d", i)
	}
	_, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseStopsAccess(t *testing.T) {
	dir := t.TempDir()
	writeRawColumn(t, dir, "a", []float64{1})

	tbl, err := Open(dir, "")
	require.NoError(t, err)
	_, err = tbl.Bind("a")
	require.NoError(t, err)

	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close(), "second close is a no-op")

	assert.Error(t, tbl.Seek(0))
	_, err = tbl.Bind("a")
	assert.Error(t, err)
}
