package toxdetect

import "gorgonia.org/gorgonia"

// Device is the execution preference handed to the classifier at
// construction. The caller decides where graphs run; the classifier never
// probes the process environment for GPU availability.
type Device struct {
	name string
	opts []gorgonia.VMOpt
}

// CPU executes every graph on the plain tape machine.
func CPU() Device { return Device{name: "cpu"} }

// NewDevice wraps caller-supplied VM options (e.g. CUDA execution in a
// cu-tagged build) under a diagnostic name.
func NewDevice(name string, opts ...gorgonia.VMOpt) Device {
	return Device{name: name, opts: opts}
}

func (d Device) Name() string {
	if d.name == "" {
		return "cpu"
	}
	return d.name
}

func (d Device) vmOpts() []gorgonia.VMOpt { return d.opts }
