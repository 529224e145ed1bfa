// Package config loads and validates the YAML configuration shared by the
// pipeline binaries.
//
// A Config starts from DefaultConfig and is overlaid by Load, so a file only
// needs the keys it changes. Unknown keys are rejected. Validation is split
// by mode: Validate covers the rules every binary shares, ValidateSend and
// ValidateRecv add the sender's and receiver's requirements, ValidateBroker
// the NATS leg used by the bridge and processor.
package config
