// Package event defines the fixed-layout physics event moved by the
// pipeline: four 4-vectors (pi+, pi-, gamma1, gamma2) packed as 16 float64
// values per event. It provides the wire codec, the spherical-coordinate
// kinematics builder, and the invariant-mass analysis used downstream.
package event

import "math"

// Particle masses in GeV.
const (
	MassChargedPion = 0.139
	MassPhoton      = 0.0
)

// FourVec is an energy-momentum 4-vector (E, px, py, pz) in GeV.
type FourVec struct {
	E  float64
	Px float64
	Py float64
	Pz float64
}

// FromSpherical builds a 4-vector from momentum magnitude, polar angle,
// azimuthal angle and mass: the reconstruction convention used by the
// dalitz trees.
func FromSpherical(mag, theta, phi, mass float64) FourVec {
	sinTheta := math.Sin(theta)
	px := mag * sinTheta * math.Cos(phi)
	py := mag * sinTheta * math.Sin(phi)
	pz := mag * math.Cos(theta)
	return FourVec{
		E:  math.Sqrt(mag*mag + mass*mass),
		Px: px,
		Py: py,
		Pz: pz,
	}
}

// Add returns the component-wise sum of two 4-vectors.
func (v FourVec) Add(o FourVec) FourVec {
	return FourVec{
		E:  v.E + o.E,
		Px: v.Px + o.Px,
		Py: v.Py + o.Py,
		Pz: v.Pz + o.Pz,
	}
}

// M2 returns the invariant mass squared, E^2 - |p|^2. May be slightly
// negative from floating point rounding.
func (v FourVec) M2() float64 {
	return v.E*v.E - v.Px*v.Px - v.Py*v.Py - v.Pz*v.Pz
}

// M returns the invariant mass, sqrt(M2). NaN when M2 is negative.
func (v FourVec) M() float64 {
	return math.Sqrt(v.M2())
}

// Event is one reconstructed pi+ pi- pi0 candidate, the pi0 kept as its
// two decay photons.
type Event struct {
	PiPlus  FourVec
	PiMinus FourVec
	Gamma1  FourVec
	Gamma2  FourVec
}
