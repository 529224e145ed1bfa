package event

import "math"

// Kinematic limits for the pi+ pi- pi0 final state, in GeV.
const (
	// minPiPiMass is the two charged pion threshold, 2 x 0.139.
	minPiPiMass = 0.278

	// Accepted window for the reconstructed pi0 mass.
	minPi0Mass = 0.08
	maxPi0Mass = 0.15
)

// Invariants holds the Dalitz-plot invariant masses of one event.
type Invariants struct {
	SPipPim float64 // M^2(pi+ pi-)
	SPipPi0 float64 // M^2(pi+ pi0)
	SPimPi0 float64 // M^2(pi- pi0)
	MPi0    float64 // M(gamma1 gamma2)
}

// Analyze computes the Dalitz invariants of an event. The pi0 is the sum
// of the two photons.
func Analyze(e Event) Invariants {
	pi0 := e.Gamma1.Add(e.Gamma2)
	return Invariants{
		SPipPim: e.PiPlus.Add(e.PiMinus).M2(),
		SPipPi0: e.PiPlus.Add(pi0).M2(),
		SPimPi0: e.PiMinus.Add(pi0).M2(),
		MPi0:    pi0.M(),
	}
}

// Pass reports whether the invariants fall inside the kinematic limits:
// sqrt(s(pi+pi-)) at or above the two-pion threshold and the photon pair
// mass inside the pi0 window. NaN invariants fail.
func (inv Invariants) Pass() bool {
	return math.Sqrt(inv.SPipPim) >= minPiPiMass &&
		inv.MPi0 >= minPi0Mass && inv.MPi0 <= maxPi0Mass
}
