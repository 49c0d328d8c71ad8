// Package amp emulates mixed-precision execution: the reduced numeric format
// used inside a forward pass, the table of devices that support it, and the
// gradient scaler that keeps small float16 gradients from flushing to zero.
package amp

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Policy is the numeric format used for activations inside an autocast
// scope.
type Policy int

const (
	Float32 Policy = iota
	Float16
	BFloat16
)

func (p Policy) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	}
	return "unknown"
}

// Reduced reports whether the policy rounds values.
func (p Policy) Reduced() bool {
	return p == Float16 || p == BFloat16
}

// Round rounds x to the policy's format and back.
func (p Policy) Round(x float32) float32 {
	switch p {
	case Float16:
		return float16.Fromfloat32(x).Float32()
	case BFloat16:
		return roundBFloat16(x)
	}
	return x
}

// RoundSlice rounds xs in place.
func (p Policy) RoundSlice(xs []float32) {
	if !p.Reduced() {
		return
	}
	for i, x := range xs {
		xs[i] = p.Round(x)
	}
}

// roundBFloat16 keeps the top 16 bits with round-to-nearest-even.
func roundBFloat16(x float32) float32 {
	if math.IsNaN(float64(x)) {
		return x
	}
	bits := math.Float32bits(x)
	bias := uint32(0x7fff) + (bits>>16)&1
	bits += bias
	return math.Float32frombits(bits & 0xffff0000)
}

// Device describes a compute device and the reduced format its autocast uses.
// Autocast == Float32 means the device has no mixed-precision support.
type Device struct {
	Name     string
	Autocast Policy
}

var devices = map[string]Device{
	"cpu":      {Name: "cpu", Autocast: BFloat16},
	"cpu-fp16": {Name: "cpu-fp16", Autocast: Float16},
	"cpu-fp32": {Name: "cpu-fp32", Autocast: Float32},
}

// LookupDevice returns a known device by name.
func LookupDevice(name string) (Device, error) {
	d, ok := devices[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Device{}, errors.Errorf("amp: unknown device %q", name)
	}
	return d, nil
}

// ResolvePolicy picks the autocast format: the device's reduced format when
// mixed precision is enabled, full precision otherwise.
func ResolvePolicy(d Device, enabled bool) Policy {
	if !enabled || !d.Autocast.Reduced() {
		return Float32
	}
	return d.Autocast
}
