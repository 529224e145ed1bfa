// Package control registers pipeline endpoints with the load balancer
// control plane.
//
// Senders announce themselves before traffic flows so the balancer knows
// the source; receivers register as workers so the balancer can steer
// events toward them, and deregister on exit so it stops. Both sides talk
// through the narrow Registrar interface: control.Noop when no control
// plane is configured, control.HTTP against the balancer's REST bridge.
package control

import "context"

// Identity describes the endpoint being registered.
type Identity struct {
	// Name is a human-readable endpoint name, usually the hostname.
	Name string `json:"name"`

	// Host is the address the data plane reaches this endpoint on.
	Host string `json:"host"`

	// Port is the data plane port. Zero for senders.
	Port int `json:"port,omitempty"`

	// Weight biases the balancer's schedule toward or away from this
	// worker. Zero keeps the server default.
	Weight float64 `json:"weight,omitempty"`
}

// Registrar manages one endpoint's session with the control plane.
type Registrar interface {
	// Register announces the endpoint. Call it before traffic flows and
	// at most once per session.
	Register(ctx context.Context, id Identity) error

	// Deregister ends the session. Calling it without a live session is
	// a no-op, so it is safe to defer next to a Register that may fail.
	Deregister(ctx context.Context) error
}

// Noop satisfies Registrar when the control plane is disabled.
type Noop struct{}

func (Noop) Register(context.Context, Identity) error { return nil }

func (Noop) Deregister(context.Context) error { return nil }
