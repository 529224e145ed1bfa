package event

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// Frame layout constants. A frame is 16 little-endian float64 values:
// (E, px, py, pz) for pi+, pi-, gamma1, gamma2 in that order.
const (
	// Doubles is the number of float64 values per event frame.
	Doubles = 16

	// FrameSize is the encoded size of one event in bytes.
	FrameSize = Doubles * 8
)

// AppendTo appends the event's 128-byte frame to dst and returns the
// extended slice. It never fails; accumulators use it to encode in place.
func (e Event) AppendTo(dst []byte) []byte {
	for _, v := range []FourVec{e.PiPlus, e.PiMinus, e.Gamma1, e.Gamma2} {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.E))
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.Px))
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.Py))
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.Pz))
	}
	return dst
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e Event) MarshalBinary() ([]byte, error) {
	return e.AppendTo(make([]byte, 0, FrameSize)), nil
}

// Decode decodes exactly one event frame. The buffer must be exactly
// FrameSize bytes.
func Decode(buf []byte) (Event, error) {
	if len(buf) != FrameSize {
		return Event{}, errors.WrapInvalid(
			fmt.Errorf("got %d bytes, want %d: %w", len(buf), FrameSize, errors.ErrInvalidLength),
			"event", "Decode", "check frame size")
	}
	var vals [Doubles]float64
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	vec := func(i int) FourVec {
		return FourVec{E: vals[i], Px: vals[i+1], Py: vals[i+2], Pz: vals[i+3]}
	}
	return Event{
		PiPlus:  vec(0),
		PiMinus: vec(4),
		Gamma1:  vec(8),
		Gamma2:  vec(12),
	}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Event) UnmarshalBinary(data []byte) error {
	ev, err := Decode(data)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// FrameCount returns the number of whole event frames in buf, or an error
// if buf is not a whole number of frames.
func FrameCount(buf []byte) (int, error) {
	if len(buf)%FrameSize != 0 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%d bytes is not a multiple of %d: %w", len(buf), FrameSize, errors.ErrInvalidLength),
			"event", "FrameCount", "check payload size")
	}
	return len(buf) / FrameSize, nil
}

// At decodes the i-th event frame from a multi-event payload.
func At(buf []byte, i int) (Event, error) {
	n, err := FrameCount(buf)
	if err != nil {
		return Event{}, err
	}
	if i < 0 || i >= n {
		return Event{}, errors.WrapInvalid(
			fmt.Errorf("frame %d out of range [0,%d)", i, n),
			"event", "At", "index payload")
	}
	return Decode(buf[i*FrameSize : (i+1)*FrameSize])
}
