// Package testutil provides shared test fixtures: deterministic synthetic
// events, column-file writers, and an embedded NATS server.
package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/JeffersonLab/e2sar-utils/event"
	"github.com/JeffersonLab/e2sar-utils/source"
)

// RandomEvents returns n deterministic pseudo-random events with physically
// plausible kinematics. The same seed always yields the same events.
func RandomEvents(n int, seed int64) []event.Event {
	rng := rand.New(rand.NewSource(seed))
	particle := func(mass float64) event.FourVec {
		mag := 0.05 + 1.95*rng.Float64()
		theta := math.Pi * rng.Float64()
		phi := -math.Pi + 2*math.Pi*rng.Float64()
		return event.FromSpherical(mag, theta, phi, mass)
	}
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			PiPlus:  particle(event.MassChargedPion),
			PiMinus: particle(event.MassChargedPion),
			Gamma1:  particle(event.MassPhoton),
			Gamma2:  particle(event.MassPhoton),
		}
	}
	return events
}

// DalitzColumns returns the twelve reconstruction columns for n rows,
// deterministic in seed. Feeding them through an EventReader yields the
// events ExpectedEvents returns for the same arguments.
func DalitzColumns(n int, seed int64) map[string][]float64 {
	rng := rand.New(rand.NewSource(seed))
	cols := make(map[string][]float64, 12)
	for _, f := range source.DalitzFields() {
		cols[f] = make([]float64, n)
	}
	fill := func(mag, theta, phi string, i int) {
		cols[mag][i] = 0.05 + 1.95*rng.Float64()
		cols[theta][i] = math.Pi * rng.Float64()
		cols[phi][i] = -math.Pi + 2*math.Pi*rng.Float64()
	}
	for i := 0; i < n; i++ {
		fill(source.FieldMagPiPlus, source.FieldThetaPiPlus, source.FieldPhiPiPlus, i)
		fill(source.FieldMagPiMinus, source.FieldThetaPiMinus, source.FieldPhiPiMinus, i)
		fill(source.FieldMagGamma1, source.FieldThetaGamma1, source.FieldPhiGamma1, i)
		fill(source.FieldMagGamma2, source.FieldThetaGamma2, source.FieldPhiGamma2, i)
	}
	return cols
}

// ExpectedEvents builds the events the reader should produce from
// DalitzColumns(n, seed).
func ExpectedEvents(cols map[string][]float64) []event.Event {
	n := len(cols[source.FieldMagPiPlus])
	events := make([]event.Event, n)
	for i := 0; i < n; i++ {
		events[i] = event.Event{
			PiPlus: event.FromSpherical(
				cols[source.FieldMagPiPlus][i],
				cols[source.FieldThetaPiPlus][i],
				cols[source.FieldPhiPiPlus][i],
				event.MassChargedPion),
			PiMinus: event.FromSpherical(
				cols[source.FieldMagPiMinus][i],
				cols[source.FieldThetaPiMinus][i],
				cols[source.FieldPhiPiMinus][i],
				event.MassChargedPion),
			Gamma1: event.FromSpherical(
				cols[source.FieldMagGamma1][i],
				cols[source.FieldThetaGamma1][i],
				cols[source.FieldPhiGamma1][i],
				event.MassPhoton),
			Gamma2: event.FromSpherical(
				cols[source.FieldMagGamma2][i],
				cols[source.FieldThetaGamma2][i],
				cols[source.FieldPhiGamma2][i],
				event.MassPhoton),
		}
	}
	return events
}

// WriteColumnFiles writes each named column as a raw little-endian float64
// file under dir, the layout colfile.Open expects.
func WriteColumnFiles(tb testing.TB, dir string, columns map[string][]float64) {
	tb.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatalf("create column dir: %v", err)
	}
	for name, col := range columns {
		buf := make([]byte, 0, len(col)*8)
		for _, v := range col {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		if err := os.WriteFile(filepath.Join(dir, name+".f64"), buf, 0o644); err != nil {
			tb.Fatalf("write column %s: %v", name, err)
		}
	}
}
