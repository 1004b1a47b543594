package domain

import "time"

// RawCommand is a gamepad-like command: analog axes plus digital buttons,
// tagged with the identifier of the device that produced it.
type RawCommand struct {
	Time             time.Time
	DeviceIdentifier string
	Axes             []float64
	Buttons          []uint8
}

// DigitalState is a vector of digital input states (e.g. GPIO pins).
type DigitalState struct {
	Time   time.Time
	States []bool
}

// SampleKind tags which payload a Sample carries.
type SampleKind int

const (
	SampleRawCommand SampleKind = iota
	SampleDigitalState
)

func (k SampleKind) String() string {
	switch k {
	case SampleRawCommand:
		return "raw_command"
	case SampleDigitalState:
		return "digital_state"
	default:
		return "unknown"
	}
}

// Sample is one input value as it arrives from the data source.
type Sample struct {
	Kind       SampleKind
	Raw        RawCommand
	Digital    DigitalState
	ReceivedAt time.Time
}

func RawSample(cmd RawCommand) Sample {
	return Sample{Kind: SampleRawCommand, Raw: cmd}
}

func DigitalSample(state DigitalState) Sample {
	return Sample{Kind: SampleDigitalState, Digital: state}
}

// Identifier returns the device identifier declared by the sample.
// Digital states carry none.
func (s Sample) Identifier() (string, bool) {
	if s.Kind != SampleRawCommand {
		return "", false
	}
	return s.Raw.DeviceIdentifier, true
}

// ButtonCount is the length of the digital part of the sample.
func (s Sample) ButtonCount() int {
	if s.Kind == SampleDigitalState {
		return len(s.Digital.States)
	}
	return len(s.Raw.Buttons)
}

// AxisCount is the length of the analog part of the sample.
func (s Sample) AxisCount() int {
	if s.Kind == SampleDigitalState {
		return 0
	}
	return len(s.Raw.Axes)
}
