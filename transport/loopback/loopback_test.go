package loopback

import (
	"context"
	goerrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

func openPair(t *testing.T, opts Options) (*Link, *Segmenter, *Reassembler) {
	t.Helper()
	l := NewLink(t.Name(), opts)
	seg := l.Segmenter(transport.SendConfig{DataID: 3})
	rea := l.Reassembler(transport.RecvConfig{})
	t.Cleanup(func() {
		_ = seg.Close()
		_ = rea.Close()
	})
	return l, seg, rea
}

func receiveAll(t *testing.T, rea *Reassembler, n int) []transport.Delivery {
	t.Helper()
	out := make([]transport.Delivery, 0, n)
	for len(out) < n {
		d, ok, err := rea.Receive(time.Second)
		require.NoError(t, err)
		require.True(t, ok, "expected %d deliveries, got %d", n, len(out))
		out = append(out, d)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	_, seg, rea := openPair(t, Options{Capacity: 16})

	var released atomic.Int32
	payloads := [][]byte{{1, 2, 3}, {4, 5}, {6}}
	for i, p := range payloads {
		err := seg.Enqueue(p, uint64(100+i), 0, func() { released.Add(1) })
		require.NoError(t, err)
	}
	require.NoError(t, seg.Close(), "close waits for the wire to drain")
	assert.EqualValues(t, len(payloads), released.Load(), "release fires once per accepted payload")

	got := receiveAll(t, rea, len(payloads))
	for i, d := range got {
		assert.EqualValues(t, 100+i, d.Num)
		assert.EqualValues(t, 3, d.DataID)
		assert.Equal(t, payloads[i], d.Data)
		assert.True(t, d.Release())
		assert.False(t, d.Release(), "delivery release is single shot")
	}

	stats := seg.Stats()
	assert.EqualValues(t, 3, stats.Frames)
	assert.Zero(t, stats.Errors)

	rs := rea.Stats()
	assert.EqualValues(t, 3, rs.Delivered)
	assert.EqualValues(t, 6, rs.Bytes)
	assert.Zero(t, rs.ReassemblyLoss)
	assert.Zero(t, rs.EnqueueLoss)
}

func TestEnqueueCopiesBeforeRelease(t *testing.T) {
	_, seg, rea := openPair(t, Options{Capacity: 4})

	buf := []byte{10, 20, 30}
	require.NoError(t, seg.Enqueue(buf, 1, 0, nil))
	require.NoError(t, seg.Close())

	// The sender may recycle its buffer once the engine is done with it.
	buf[0], buf[1], buf[2] = 0, 0, 0

	d, ok, err := rea.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{10, 20, 30}, d.Data, "delivery must not alias the sender buffer")
	d.Release()
}

func TestInjectQueueFull(t *testing.T) {
	l, seg, _ := openPair(t, Options{Capacity: 16})
	l.InjectQueueFull(2)

	var released atomic.Int32
	rel := func() { released.Add(1) }

	err := seg.Enqueue([]byte{1}, 1, 0, rel)
	assert.ErrorIs(t, err, transport.ErrQueueFull)
	err = seg.Enqueue([]byte{1}, 1, 0, rel)
	assert.ErrorIs(t, err, transport.ErrQueueFull)
	assert.Zero(t, released.Load(), "rejected payloads are still owned by the caller")

	require.NoError(t, seg.Enqueue([]byte{1}, 1, 0, rel))
	require.NoError(t, seg.Close())
	assert.EqualValues(t, 1, released.Load())

	// Queue-full rejections are backpressure, not wire errors.
	assert.Zero(t, seg.Stats().Errors)
	assert.True(t, errors.IsTransient(transport.ErrQueueFull))
}

func TestInjectEnqueueError(t *testing.T) {
	l, seg, _ := openPair(t, Options{Capacity: 4})
	boom := goerrors.New("link down")
	l.InjectEnqueueError(boom)

	var released atomic.Int32
	err := seg.Enqueue([]byte{1}, 1, 0, func() { released.Add(1) })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, released.Load())
	assert.EqualValues(t, 1, seg.Stats().Errors)

	// One shot: the next enqueue goes through.
	require.NoError(t, seg.Enqueue([]byte{1}, 2, 0, func() { released.Add(1) }))
	require.NoError(t, seg.Close())
	assert.EqualValues(t, 1, released.Load())
}

func TestInjectLoss(t *testing.T) {
	l, seg, rea := openPair(t, Options{Capacity: 8})
	l.InjectLoss(1)

	var released atomic.Int32
	require.NoError(t, seg.Enqueue(make([]byte, 128), 5, 0, func() { released.Add(1) }))
	require.NoError(t, seg.Enqueue(make([]byte, 128), 6, 0, func() { released.Add(1) }))
	require.NoError(t, seg.Close())

	assert.EqualValues(t, 2, released.Load(), "lost payloads were still sent")

	got := receiveAll(t, rea, 1)
	assert.EqualValues(t, 6, got[0].Num)
	got[0].Release()

	lost, ok := rea.NextLostEvent()
	require.True(t, ok)
	assert.EqualValues(t, 5, lost.Num)
	assert.EqualValues(t, 3, lost.DataID)
	_, ok = rea.NextLostEvent()
	assert.False(t, ok, "each loss is reported exactly once")

	rs := rea.Stats()
	assert.EqualValues(t, 1, rs.ReassemblyLoss)
	assert.EqualValues(t, 1, rs.Delivered)
}

func TestDeliveryQueueOverflowCountsEnqueueLoss(t *testing.T) {
	_, seg, rea := openPair(t, Options{Capacity: 8, RecvCapacity: 2})

	for i := 0; i < 5; i++ {
		require.NoError(t, seg.Enqueue([]byte{byte(i)}, uint64(i), 0, nil))
	}
	require.NoError(t, seg.Close())

	rs := rea.Stats()
	assert.EqualValues(t, 2, rs.Delivered)
	assert.EqualValues(t, 3, rs.EnqueueLoss)

	got := receiveAll(t, rea, 2)
	for _, d := range got {
		d.Release()
	}
}

func TestReceiveTimeout(t *testing.T) {
	_, _, rea := openPair(t, Options{Capacity: 2})

	start := time.Now()
	_, ok, err := rea.Receive(20 * time.Millisecond)
	require.NoError(t, err, "timeout is not an error")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCloseWakesBlockedReceive(t *testing.T) {
	_, _, rea := openPair(t, Options{Capacity: 2})

	errc := make(chan error, 1)
	go func() {
		_, _, err := rea.Receive(5 * time.Second)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, rea.Close())

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake on Close")
	}

	_, _, err := rea.Receive(time.Millisecond)
	assert.Error(t, err, "receive after close fails")
}

func TestEnqueueAfterClose(t *testing.T) {
	_, seg, _ := openPair(t, Options{Capacity: 2})
	require.NoError(t, seg.Close())

	err := seg.Enqueue([]byte{1}, 1, 0, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrQueueFull)
}

func TestLostEventsReadableAfterClose(t *testing.T) {
	l, seg, rea := openPair(t, Options{Capacity: 4})
	l.InjectLoss(1)
	require.NoError(t, seg.Enqueue([]byte{1}, 9, 0, nil))
	require.NoError(t, seg.Close())
	require.NoError(t, rea.Close())

	lost, ok := rea.NextLostEvent()
	require.True(t, ok, "loss reports drain during shutdown")
	assert.EqualValues(t, 9, lost.Num)
}

func TestConcurrentEnqueue(t *testing.T) {
	_, seg, rea := openPair(t, Options{Capacity: 256, RecvCapacity: 4096})

	const (
		writers   = 8
		perWriter = 100
	)
	var next atomic.Uint64
	var wg sync.WaitGroup
	errc := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				num := next.Add(1)
				for {
					err := seg.Enqueue([]byte{byte(num)}, num, 0, nil)
					if err == nil {
						break
					}
					if !goerrors.Is(err, transport.ErrQueueFull) {
						errc <- err
						return
					}
					time.Sleep(100 * time.Microsecond)
				}
			}
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Fatalf("enqueue failed: %v", err)
	}
	require.NoError(t, seg.Close())

	seen := make(map[uint64]bool, writers*perWriter)
	for _, d := range receiveAll(t, rea, writers*perWriter) {
		assert.False(t, seen[d.Num], "event %d delivered twice", d.Num)
		seen[d.Num] = true
		d.Release()
	}
	assert.Len(t, seen, writers*perWriter)
}

func TestPacingSlowsTheWire(t *testing.T) {
	if testing.Short() {
		t.Skip("pacing test sleeps")
	}
	// 0.8 Gbps = 100 MB/s. After the 1 MiB burst bucket the remaining
	// 3 MiB must take roughly 30 ms.
	l := NewLink("paced", Options{Capacity: 8, RateGbps: 0.8})
	seg := l.Segmenter(transport.SendConfig{})
	defer l.Close()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, seg.Enqueue(make([]byte, 1<<20), uint64(i), 0, nil))
	}
	require.NoError(t, seg.Close())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.EqualValues(t, 4*((1<<20+1499)/1500), seg.Stats().Frames, "frame accounting follows the MTU")
}

func TestDriverPairsEndpointsByName(t *testing.T) {
	reg := transport.NewRegistry()
	require.NoError(t, Register(reg))

	seg, err := reg.OpenSegmenter(context.Background(), "loopback:pair-a?capacity=4", transport.SendConfig{DataID: 2})
	require.NoError(t, err)
	rea, err := reg.OpenReassembler(context.Background(), "loopback:pair-a", transport.RecvConfig{})
	require.NoError(t, err)

	require.NoError(t, seg.Enqueue([]byte{42}, 1, 0, nil))
	require.NoError(t, seg.Close())

	d, ok, err := rea.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{42}, d.Data)
	assert.EqualValues(t, 2, d.DataID)
	d.Release()
	require.NoError(t, rea.Close())
}

func TestDriverRejectsBadURIs(t *testing.T) {
	d := NewDriver()

	_, err := d.OpenSegmenter(context.Background(), mustParse(t, "loopback:"), transport.SendConfig{})
	assert.Error(t, err, "link name required")

	_, err = d.OpenSegmenter(context.Background(), mustParse(t, "loopback:x?capacity=nope"), transport.SendConfig{})
	assert.Error(t, err)

	_, err = d.OpenReassembler(context.Background(), mustParse(t, "loopback:x?rate=-1"), transport.RecvConfig{})
	assert.Error(t, err)
}

func mustParse(t *testing.T, raw string) transport.URI {
	t.Helper()
	u, err := transport.ParseURI(raw)
	require.NoError(t, err)
	return u
}

func TestBufferPoolReusesDeliveryBuffers(t *testing.T) {
	_, seg, rea := openPair(t, Options{Capacity: 4})

	for round := 0; round < 3; round++ {
		payload := []byte(fmt.Sprintf("round-%d", round))
		require.NoError(t, seg.Enqueue(payload, uint64(round), 0, nil))
		d, ok, err := rea.Receive(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload, d.Data)
		d.Release()
	}
	require.NoError(t, seg.Close())
}
