package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBasicOperations(t *testing.T) {
	buf := New[string](3)
	defer buf.Close()

	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 3, buf.Capacity())
	assert.True(t, buf.IsEmpty())
	assert.False(t, buf.IsFull())

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))

	assert.True(t, buf.IsFull())
	assert.Equal(t, 3, buf.Size())

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 2, buf.Size())

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "second", item)

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "third", item)

	_, ok = buf.Read()
	assert.False(t, ok, "read from empty buffer should report not ok")
}

func TestRingDropOldest(t *testing.T) {
	var dropped []int
	buf := New[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // evicts 1

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, []int{2, 3}, buf.ReadBatch(10))
	assert.EqualValues(t, 1, buf.Stats().Drops())
	assert.EqualValues(t, 1, buf.Stats().Overflows())
}

func TestRingDropNewest(t *testing.T) {
	var dropped []int
	buf := New[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // dropped on the floor

	assert.Equal(t, []int{3}, dropped)
	assert.Equal(t, []int{1, 2}, buf.ReadBatch(10))
}

func TestRingDrain(t *testing.T) {
	buf := New[int](8)
	defer buf.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	items := buf.Drain()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, items)
	assert.True(t, buf.IsEmpty())
	assert.Nil(t, buf.Drain())
}

func TestRingWrapAround(t *testing.T) {
	buf := New[int](3)
	defer buf.Close()

	// Cycle through the ring several times to exercise wrap-around
	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, buf.Write(round*10+i))
		}
		got := buf.ReadBatch(3)
		assert.Equal(t, []int{round * 10, round*10 + 1, round*10 + 2}, got)
	}
}

func TestRingClear(t *testing.T) {
	var dropped int
	buf := New[int](4, WithDropCallback[int](func(int) { dropped++ }))
	defer buf.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, dropped, "clear should report each discarded item")
}

func TestRingWriteAfterClose(t *testing.T) {
	buf := New[int](2)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())

	assert.Error(t, buf.Write(2))

	// Buffered items stay readable after close
	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, item)
}

func TestRingConcurrentAccess(t *testing.T) {
	buf := New[int](128)
	defer buf.Close()

	const writers = 8
	const perWriter = 1000

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = buf.Write(base + i)
			}
		}(w * perWriter)
	}
	wg.Wait()

	// DropOldest admits every write; evictions surface as drops.
	stats := buf.Stats()
	assert.EqualValues(t, writers*perWriter, stats.Writes())
	assert.EqualValues(t, writers*perWriter-128, stats.Drops())
	assert.Equal(t, 128, buf.Size())
}

func TestStatisticsSummary(t *testing.T) {
	buf := New[int](2)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // overflow
	buf.Read()

	s := buf.Stats().Summary()
	assert.EqualValues(t, 3, s.Writes)
	assert.EqualValues(t, 1, s.Reads)
	assert.EqualValues(t, 1, s.Overflows)
	assert.EqualValues(t, 1, s.Drops)
	assert.EqualValues(t, 1, s.CurrentSize)
	assert.EqualValues(t, 2, s.MaxSize)
}

func BenchmarkRingWrite(b *testing.B) {
	buf := New[int](1024)
	defer buf.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Write(i)
	}
}
