// Package e2e runs the whole pipeline inside one process: column files
// through the reader, batcher and gateway, across the loopback wire, and out
// through the consumer into the file and broker sinks. The wiring mirrors
// what the binaries do by hand, endpoints opened through the driver registry
// included.
package e2e

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffersonLab/e2sar-utils/event"
	"github.com/JeffersonLab/e2sar-utils/natsclient"
	"github.com/JeffersonLab/e2sar-utils/receive"
	"github.com/JeffersonLab/e2sar-utils/sink"
	"github.com/JeffersonLab/e2sar-utils/sink/file"
	natssink "github.com/JeffersonLab/e2sar-utils/sink/nats"
	"github.com/JeffersonLab/e2sar-utils/sink/object"
	"github.com/JeffersonLab/e2sar-utils/source"
	"github.com/JeffersonLab/e2sar-utils/source/colfile"
	"github.com/JeffersonLab/e2sar-utils/stream"
	"github.com/JeffersonLab/e2sar-utils/testutil"
	"github.com/JeffersonLab/e2sar-utils/transport"
	"github.com/JeffersonLab/e2sar-utils/transport/loopback"
)

// openRig opens both halves of a named loopback wire through the driver
// registry, the same path the binaries take from a parsed URI.
func openRig(t *testing.T, rawURI string, send transport.SendConfig, recv transport.RecvConfig) (*loopback.Driver, transport.Segmenter, transport.Reassembler) {
	t.Helper()
	driver := loopback.NewDriver()
	registry := transport.NewRegistry()
	require.NoError(t, registry.Register(loopback.Scheme, driver))

	seg, err := registry.OpenSegmenter(context.Background(), rawURI, send)
	require.NoError(t, err)
	rea, err := registry.OpenReassembler(context.Background(), rawURI, recv)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = seg.Close()
		_ = rea.Close()
	})
	return driver, seg, rea
}

// sendTables drives a complete send run and closes the segmenter so every
// accepted batch is on the far side before the consumer starts.
func sendTables(t *testing.T, seg transport.Segmenter, capacity int, tables ...source.Table) stream.Report {
	t.Helper()
	gw, err := stream.NewGateway(seg, stream.GatewayConfig{}, nil)
	require.NoError(t, err)
	coord, err := stream.NewCoordinator(gw, stream.CoordinatorConfig{
		BatchCapacity: capacity,
		DrainWait:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	report, err := coord.Run(context.Background(), tables)
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	return report
}

// stopSink wraps a real sink and cancels the consumer once the expected
// number of stores happened, keeping Run on the test goroutine.
type stopSink struct {
	sink.Sink
	mu     sync.Mutex
	stores int
	want   int
	cancel context.CancelFunc
}

func (s *stopSink) Store(ctx context.Context, rec sink.Record) error {
	err := s.Sink.Store(ctx, rec)
	s.mu.Lock()
	s.stores++
	if s.stores == s.want {
		s.cancel()
	}
	s.mu.Unlock()
	return err
}

// consume runs a consumer over rea until want records were stored into dst.
// The deadline keeps a short delivery from hanging the test; the assertions
// on the returned summary catch it.
func consume(t *testing.T, rea transport.Reassembler, dst sink.Sink, want int) receive.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cons, err := receive.NewConsumer(rea, &stopSink{Sink: dst, want: want, cancel: cancel},
		receive.ConsumerConfig{PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	sum, err := cons.Run(ctx)
	require.NoError(t, err)
	return sum
}

func decodeFrames(t *testing.T, payload []byte) []event.Event {
	t.Helper()
	n, err := event.FrameCount(payload)
	require.NoError(t, err)
	events := make([]event.Event, n)
	for i := range events {
		events[i], err = event.At(payload, i)
		require.NoError(t, err)
	}
	return events
}

func readEventFile(t *testing.T, dir, pattern string, num int) []event.Event {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf(pattern, num)))
	require.NoError(t, err)
	return decodeFrames(t, data)
}

func TestColumnsToFilesRoundTrip(t *testing.T) {
	in := t.TempDir()
	cols := testutil.DalitzColumns(10, 42)
	testutil.WriteColumnFiles(t, in, cols)

	_, seg, rea := openRig(t, "loopback:files?capacity=64",
		transport.SendConfig{DataID: 7}, transport.RecvConfig{})

	tbl, err := colfile.Open(in, "")
	require.NoError(t, err)
	defer tbl.Close()

	report := sendTables(t, seg, 4, tbl)
	assert.True(t, report.Success())
	assert.EqualValues(t, 10, report.Totals.Events)
	assert.EqualValues(t, 3, report.Submitted, "ceil(10/4) batches")
	assert.EqualValues(t, 10*event.FrameSize, report.Totals.Bytes)
	assert.Zero(t, report.Engine.Errors)

	out := t.TempDir()
	fsink, err := file.New(file.Config{Directory: out}, nil)
	require.NoError(t, err)

	sum := consume(t, rea, fsink, 3)
	assert.True(t, sum.Success())
	assert.EqualValues(t, 3, sum.Received)
	assert.EqualValues(t, 10*event.FrameSize, sum.Bytes)
	assert.Empty(t, sum.Lost)
	assert.EqualValues(t, 3, fsink.Written())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// One file per batch, named by buffer id. A single stream seals its
	// batches in row order, so the files concatenate back to the table.
	var got []event.Event
	for i, wantLen := range []int{4, 4, 2} {
		events := readEventFile(t, out, "event_%08d.dat", i+1)
		require.Len(t, events, wantLen, "file %d", i+1)
		got = append(got, events...)
	}
	require.Equal(t, testutil.ExpectedEvents(cols), got,
		"bytes on disk decode to the exact input rows, in order")
}

func TestMultiStreamFanIn(t *testing.T) {
	rows := []int{5, 8, 3}
	tables := make([]source.Table, len(rows))
	expected := make(map[event.Event]int)
	for i, n := range rows {
		cols := testutil.DalitzColumns(n, int64(200+i))
		tbl, err := source.NewMemTable(cols)
		require.NoError(t, err)
		tables[i] = tbl
		for _, e := range testutil.ExpectedEvents(cols) {
			expected[e]++
		}
	}

	_, seg, rea := openRig(t, "loopback:fanin?capacity=64",
		transport.SendConfig{DataID: 3}, transport.RecvConfig{})

	report := sendTables(t, seg, 4, tables...)
	assert.True(t, report.Success())
	assert.EqualValues(t, 16, report.Totals.Events)
	const wantBatches = 5 // ceil(5/4) + ceil(8/4) + ceil(3/4)
	assert.EqualValues(t, wantBatches, report.Submitted)
	for i, r := range report.Streams {
		require.NoError(t, r.Err, "stream %d", i)
		assert.EqualValues(t, rows[i], r.Stats.Events, "stream %d", i)
	}

	out := t.TempDir()
	fsink, err := file.New(file.Config{Directory: out, Pattern: "batch_{:04d}.bin"}, nil)
	require.NoError(t, err)

	sum := consume(t, rea, fsink, wantBatches)
	assert.True(t, sum.Success())
	assert.EqualValues(t, wantBatches, sum.Received)

	// Buffer ids are one shared sequence, so the file names are 1..5 no
	// matter how the streams interleaved, and every row lands exactly once.
	got := make(map[event.Event]int)
	total := 0
	for num := 1; num <= wantBatches; num++ {
		for _, e := range readEventFile(t, out, "batch_%04d.bin", num) {
			got[e]++
			total++
		}
	}
	assert.Equal(t, 16, total)
	assert.Equal(t, expected, got)
}

func TestWireLossIsReportedNotFatal(t *testing.T) {
	driver, seg, rea := openRig(t, "loopback:lossy?capacity=32",
		transport.SendConfig{DataID: 5}, transport.RecvConfig{})
	link, ok := driver.Link("lossy")
	require.True(t, ok)
	link.InjectLoss(1)

	tbl, err := source.NewMemTable(testutil.DalitzColumns(6, 7))
	require.NoError(t, err)
	report := sendTables(t, seg, 4, tbl)

	// Reassembly loss is invisible to the sender; the wire accepted
	// everything it was offered.
	assert.True(t, report.Success())
	assert.EqualValues(t, 2, report.Submitted)
	assert.Zero(t, report.Engine.Errors)

	out := t.TempDir()
	fsink, err := file.New(file.Config{Directory: out}, nil)
	require.NoError(t, err)

	sum := consume(t, rea, fsink, 1)
	assert.True(t, sum.Success(), "loss is the wire's fault, not the writer's")
	assert.EqualValues(t, 1, sum.Received)
	assert.EqualValues(t, 1, sum.Engine.ReassemblyLoss)
	require.Len(t, sum.Lost, 1)
	assert.EqualValues(t, 1, sum.Lost[0].Num, "the first batch was the one dropped")
	assert.EqualValues(t, 5, sum.Lost[0].DataID)

	// Only the surviving batch reached the disk.
	_, err = os.Stat(filepath.Join(out, "event_00000001.dat"))
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, readEventFile(t, out, "event_%08d.dat", 2), 2)
}

// selectionColumns builds six reconstruction rows with pinned kinematics:
// every row clears the two-pion threshold, rows 2 and 4 have collinear
// photons whose pair is massless and misses the pi0 window.
func selectionColumns() map[string][]float64 {
	const rows = 6
	cols := make(map[string][]float64, 12)
	for _, f := range source.DalitzFields() {
		cols[f] = make([]float64, rows)
	}
	for i := 0; i < rows; i++ {
		// Back-to-back 0.2 GeV/c pions: sqrt(s) ~ 0.487 GeV.
		cols[source.FieldMagPiPlus][i] = 0.2
		cols[source.FieldThetaPiPlus][i] = math.Pi / 2
		cols[source.FieldPhiPiPlus][i] = 0
		cols[source.FieldMagPiMinus][i] = 0.2
		cols[source.FieldThetaPiMinus][i] = math.Pi / 2
		cols[source.FieldPhiPiMinus][i] = math.Pi

		if i == 2 || i == 4 {
			cols[source.FieldMagGamma1][i] = 0.10
			cols[source.FieldThetaGamma1][i] = 1.0
			cols[source.FieldPhiGamma1][i] = 0.3
			cols[source.FieldMagGamma2][i] = 0.05
			cols[source.FieldThetaGamma2][i] = 1.0
			cols[source.FieldPhiGamma2][i] = 0.3
			continue
		}
		// Back-to-back 67.5 MeV photons reconstruct a 0.135 GeV pi0.
		cols[source.FieldMagGamma1][i] = 0.0675
		cols[source.FieldThetaGamma1][i] = math.Pi / 3
		cols[source.FieldPhiGamma1][i] = 0.4
		cols[source.FieldMagGamma2][i] = 0.0675
		cols[source.FieldThetaGamma2][i] = math.Pi - math.Pi/3
		cols[source.FieldPhiGamma2][i] = 0.4 + math.Pi
	}
	return cols
}

func TestBridgeToBrokerDelivery(t *testing.T) {
	ns, nc := testutil.StartNATS(t)

	client, err := natsclient.NewClient(ns.ClientURL(), natsclient.WithName(t.Name()))
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	// Subscribe before anything publishes so no message slips past.
	inbox, err := nc.SubscribeSync("e2e.events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	nsink, err := natssink.New(context.Background(), client, natssink.Config{SubjectPrefix: "e2e.events"})
	require.NoError(t, err)

	// The bridge publishes and archives in one pass, like evtbridge with
	// --archive-bucket.
	osink, err := object.New(context.Background(), client, object.Config{Bucket: "E2EARCHIVE"}, nil)
	require.NoError(t, err)
	dest := sink.NewMulti(nsink, osink)

	_, seg, rea := openRig(t, "loopback:bridge?capacity=32",
		transport.SendConfig{DataID: 9}, transport.RecvConfig{})

	tbl, err := source.NewMemTable(selectionColumns())
	require.NoError(t, err)
	report := sendTables(t, seg, 4, tbl)
	require.True(t, report.Success())

	sum := consume(t, rea, dest, 2)
	assert.True(t, sum.Success())
	assert.EqualValues(t, 2, sum.Received)
	assert.EqualValues(t, 2, nsink.Published())
	assert.EqualValues(t, 2, osink.Stored())

	// Two batches, two messages, in send order, each tagged with its
	// buffer id and stream. The selection downstream sees 4 of 6 pass.
	analyzed, passed := 0, 0
	for want := 1; want <= 2; want++ {
		msg, err := inbox.NextMsg(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "e2e.events.9", msg.Subject)
		assert.Equal(t, strconv.Itoa(want), msg.Header.Get(natssink.HeaderEventNumber))
		assert.Equal(t, "9", msg.Header.Get(natssink.HeaderDataID))
		for _, e := range decodeFrames(t, msg.Data) {
			analyzed++
			if event.Analyze(e).Pass() {
				passed++
			}
		}
	}
	assert.Equal(t, 6, analyzed)
	assert.Equal(t, 4, passed, "the two collinear-photon rows fail the cut")

	// The archived copies match what went over the broker: one object per
	// batch, keyed by stream and buffer id.
	js, err := client.JetStream()
	require.NoError(t, err)
	store, err := js.ObjectStore(context.Background(), "E2EARCHIVE")
	require.NoError(t, err)
	first, err := store.GetBytes(context.Background(), object.Key(9, 1))
	require.NoError(t, err)
	assert.Len(t, decodeFrames(t, first), 4)
	second, err := store.GetBytes(context.Background(), object.Key(9, 2))
	require.NoError(t, err)
	assert.Len(t, decodeFrames(t, second), 2)
}

func TestJetStreamReplay(t *testing.T) {
	ns, _ := testutil.StartNATS(t)

	client, err := natsclient.NewClient(ns.ClientURL(), natsclient.WithName(t.Name()))
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	nsink, err := natssink.New(context.Background(), client, natssink.Config{
		SubjectPrefix: "replay.events",
		JetStream:     true,
		Stream:        "REPLAY",
	})
	require.NoError(t, err)

	_, seg, rea := openRig(t, "loopback:replay?capacity=32",
		transport.SendConfig{DataID: 4}, transport.RecvConfig{})

	tbl, err := source.NewMemTable(testutil.DalitzColumns(6, 11))
	require.NoError(t, err)
	report := sendTables(t, seg, 4, tbl)
	require.True(t, report.Success())

	sum := consume(t, rea, nsink, 2)
	require.True(t, sum.Success())
	require.EqualValues(t, 2, nsink.Published())

	// A processor attaching after the run still sees every event: the
	// stream holds the acked publishes for replay.
	type got struct {
		num    string
		frames int
	}
	replies := make(chan got, 2)
	stop, err := client.ConsumeStream(context.Background(), "REPLAY", "replay.events.>",
		func(msg jetstream.Msg) {
			n, err := event.FrameCount(msg.Data())
			if err != nil {
				n = -1
			}
			replies <- got{num: msg.Headers().Get(natssink.HeaderEventNumber), frames: n}
		})
	require.NoError(t, err)
	defer stop()

	frames := 0
	nums := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case g := <-replies:
			require.NotEqual(t, -1, g.frames, "replayed payload is whole frames")
			frames += g.frames
			nums[g.num] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for replayed events")
		}
	}
	assert.Equal(t, 6, frames)
	assert.Equal(t, map[string]bool{"1": true, "2": true}, nums)
}
