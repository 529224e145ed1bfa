package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	stores   []Record
	storeErr error
	closed   bool
	closeErr error
}

func (r *recordingSink) Store(_ context.Context, rec Record) error {
	r.stores = append(r.stores, rec)
	return r.storeErr
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.closeErr
}

func TestMultiStoresToAll(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := NewMulti(a, b)

	rec := Record{Num: 3, DataID: 2, Data: []byte{0xaa}}
	require.NoError(t, m.Store(context.Background(), rec))

	require.Len(t, a.stores, 1)
	require.Len(t, b.stores, 1)
	assert.Equal(t, rec, a.stores[0])
	assert.Equal(t, rec, b.stores[0])
}

func TestMultiKeepsGoingPastFailures(t *testing.T) {
	boom := errors.New("disk full")
	a := &recordingSink{storeErr: boom}
	b := &recordingSink{}
	m := NewMulti(a, b)

	err := m.Store(context.Background(), Record{Num: 1})
	require.ErrorIs(t, err, boom)

	// The failure in a must not starve b.
	assert.Len(t, b.stores, 1)
}

func TestMultiJoinsStoreErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	m := NewMulti(&recordingSink{storeErr: errA}, &recordingSink{storeErr: errB})

	err := m.Store(context.Background(), Record{Num: 1})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestMultiClosesAll(t *testing.T) {
	boom := errors.New("close failed")
	a := &recordingSink{closeErr: boom}
	b := &recordingSink{}
	m := NewMulti(a, b)

	require.ErrorIs(t, m.Close(), boom)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestMultiSkipsNilSinks(t *testing.T) {
	a := &recordingSink{}
	m := NewMulti(nil, a, nil)

	require.NoError(t, m.Store(context.Background(), Record{Num: 9}))
	require.NoError(t, m.Close())
	assert.Len(t, a.stores, 1)
}
