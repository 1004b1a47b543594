package aggregator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/tidewise/gamepad-websocket/internal/platform/errors"
)

// SlotKind is the payload a slot accepts.
type SlotKind string

const (
	// SlotDigital holds a digital state whose pins become buttons.
	SlotDigital SlotKind = "digital"
	// SlotAxes holds a raw command whose axes are appended to the output.
	SlotAxes SlotKind = "axes"
)

// Slot is one named input stream.
type Slot struct {
	Name     string   `yaml:"name"`
	Kind     SlotKind `yaml:"kind"`
	Required bool     `yaml:"required"`
	Topic    string   `yaml:"topic"`
}

// Layout describes the slots in output order.
type Layout struct {
	DeviceIdentifier string `yaml:"device_identifier"`
	OutputTopic      string `yaml:"output_topic"`
	Slots            []Slot `yaml:"slots"`
}

// DefaultLayout is a GPIO source and a primary joystick, both required, plus an
// optional secondary joystick.
func DefaultLayout() Layout {
	return Layout{
		DeviceIdentifier: "aggregated",
		OutputTopic:      "gamepad.aggregated",
		Slots: []Slot{
			{Name: "gpio", Kind: SlotDigital, Required: true, Topic: "gamepad.gpio"},
			{Name: "primary", Kind: SlotAxes, Required: true, Topic: "gamepad.joystick1"},
			{Name: "secondary", Kind: SlotAxes, Topic: "gamepad.joystick2"},
		},
	}
}

// LoadLayout reads a YAML layout file. An empty path yields the default layout.
func LoadLayout(path string) (Layout, error) {
	if path == "" {
		return DefaultLayout(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read aggregator layout: %w", err)
	}
	return ParseLayout(data)
}

func ParseLayout(data []byte) (Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return Layout{}, apperrors.ConfigurationError("invalid aggregator layout: " + err.Error())
	}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

// Validate requires unique named slots of a known kind, at least one of them required.
func (l Layout) Validate() error {
	if len(l.Slots) == 0 {
		return apperrors.ConfigurationError("aggregator layout has no slots")
	}

	seen := make(map[string]bool, len(l.Slots))
	required := 0
	for _, s := range l.Slots {
		if s.Name == "" {
			return apperrors.ConfigurationError("aggregator slot without a name")
		}
		if seen[s.Name] {
			return apperrors.ConfigurationError("duplicate aggregator slot").WithField("slot", s.Name)
		}
		seen[s.Name] = true
		if s.Kind != SlotDigital && s.Kind != SlotAxes {
			return apperrors.ConfigurationError("unknown aggregator slot kind").
				WithField("slot", s.Name).
				WithField("kind", string(s.Kind))
		}
		if s.Required {
			required++
		}
	}
	if required == 0 {
		return apperrors.ConfigurationError("aggregator layout needs at least one required slot")
	}
	return nil
}
