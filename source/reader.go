package source

import (
	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/event"
)

// Canonical field names of the reconstructed dalitz trees: momentum
// magnitude, polar angle and azimuthal angle for each final-state particle.
const (
	FieldMagPiPlus   = "mag_plus_rec"
	FieldThetaPiPlus = "theta_plus_rec"
	FieldPhiPiPlus   = "phi_plus_rec"

	FieldMagPiMinus   = "mag_neg_rec"
	FieldThetaPiMinus = "theta_neg_rec"
	FieldPhiPiMinus   = "phi_neg_rec"

	FieldMagGamma1   = "mag_neutral1_rec"
	FieldThetaGamma1 = "theta_neutral1_rec"
	FieldPhiGamma1   = "phi_neutral1_rec"

	FieldMagGamma2   = "mag_neutral2_rec"
	FieldThetaGamma2 = "theta_neutral2_rec"
	FieldPhiGamma2   = "phi_neutral2_rec"
)

// DalitzFields lists every field an EventReader binds, in a stable order.
func DalitzFields() []string {
	return []string{
		FieldMagPiPlus, FieldThetaPiPlus, FieldPhiPiPlus,
		FieldMagPiMinus, FieldThetaPiMinus, FieldPhiPiMinus,
		FieldMagGamma1, FieldThetaGamma1, FieldPhiGamma1,
		FieldMagGamma2, FieldThetaGamma2, FieldPhiGamma2,
	}
}

// particleCursors holds the bound cursors for one particle.
type particleCursors struct {
	mag, theta, phi *float64
	mass            float64
}

func (p particleCursors) vec() event.FourVec {
	return event.FromSpherical(*p.mag, *p.theta, *p.phi, p.mass)
}

// EventReader iterates a Table row by row, building one event per row from
// the spherical reconstruction fields.
type EventReader struct {
	table Table
	next  int64

	piPlus  particleCursors
	piMinus particleCursors
	gamma1  particleCursors
	gamma2  particleCursors
}

// NewEventReader binds the dalitz fields on the table. Fails if any field
// is missing.
func NewEventReader(t Table) (*EventReader, error) {
	bind := func(mag, theta, phi string, mass float64) (particleCursors, error) {
		var p particleCursors
		var err error
		if p.mag, err = t.Bind(mag); err != nil {
			return p, err
		}
		if p.theta, err = t.Bind(theta); err != nil {
			return p, err
		}
		if p.phi, err = t.Bind(phi); err != nil {
			return p, err
		}
		p.mass = mass
		return p, nil
	}

	r := &EventReader{table: t}
	var err error
	if r.piPlus, err = bind(FieldMagPiPlus, FieldThetaPiPlus, FieldPhiPiPlus, event.MassChargedPion); err != nil {
		return nil, errors.Wrap(err, "EventReader", "New", "bind pi+ fields")
	}
	if r.piMinus, err = bind(FieldMagPiMinus, FieldThetaPiMinus, FieldPhiPiMinus, event.MassChargedPion); err != nil {
		return nil, errors.Wrap(err, "EventReader", "New", "bind pi- fields")
	}
	if r.gamma1, err = bind(FieldMagGamma1, FieldThetaGamma1, FieldPhiGamma1, event.MassPhoton); err != nil {
		return nil, errors.Wrap(err, "EventReader", "New", "bind gamma1 fields")
	}
	if r.gamma2, err = bind(FieldMagGamma2, FieldThetaGamma2, FieldPhiGamma2, event.MassPhoton); err != nil {
		return nil, errors.Wrap(err, "EventReader", "New", "bind gamma2 fields")
	}
	return r, nil
}

// Entries returns the total number of rows in the underlying table.
func (r *EventReader) Entries() int64 {
	return r.table.Entries()
}

// Next returns the next event. ok is false when the table is exhausted.
func (r *EventReader) Next() (e event.Event, ok bool, err error) {
	if r.next >= r.table.Entries() {
		return event.Event{}, false, nil
	}
	if err := r.table.Seek(r.next); err != nil {
		return event.Event{}, false, errors.Wrap(err, "EventReader", "Next", "seek row")
	}
	r.next++
	return event.Event{
		PiPlus:  r.piPlus.vec(),
		PiMinus: r.piMinus.vec(),
		Gamma1:  r.gamma1.vec(),
		Gamma2:  r.gamma2.vec(),
	}, true, nil
}
