package wire

import (
	"encoding/json"

	"github.com/tidewise/gamepad-websocket/internal/domain"
)

// Button is one entry of the outbound buttons array.
type Button struct {
	Pressed bool `json:"pressed"`
}

// IdentifierMessage announces the resolved device identifier to a client.
type IdentifierMessage struct {
	ID string `json:"id"`
}

// RawCommandMessage is pushed to clients of a raw command publisher. Time is in Unix
// milliseconds.
type RawCommandMessage struct {
	Axes    []float64 `json:"axes"`
	Buttons []Button  `json:"buttons"`
	Time    int64     `json:"time"`
}

// DigitalStateMessage is pushed to clients of a digital state publisher. It has no axes.
type DigitalStateMessage struct {
	Axes      []float64 `json:"axes"`
	Buttons   []Button  `json:"buttons"`
	Timestamp int64     `json:"timestamp"`
}

func EncodeIdentifier(id string) ([]byte, error) {
	return json.Marshal(IdentifierMessage{ID: id})
}

// EncodeRawCommandMessage maps button values to pressed flags. Only a value of exactly
// 1 counts as pressed.
func EncodeRawCommandMessage(cmd domain.RawCommand) ([]byte, error) {
	buttons := make([]Button, len(cmd.Buttons))
	for i, v := range cmd.Buttons {
		buttons[i].Pressed = v == 1
	}
	return json.Marshal(RawCommandMessage{
		Axes:    nonNil(cmd.Axes),
		Buttons: buttons,
		Time:    toMillis(cmd.Time),
	})
}

func EncodeDigitalStateMessage(state domain.DigitalState) ([]byte, error) {
	buttons := make([]Button, len(state.States))
	for i, on := range state.States {
		buttons[i].Pressed = on
	}
	return json.Marshal(DigitalStateMessage{
		Axes:      []float64{},
		Buttons:   buttons,
		Timestamp: toMillis(state.Time),
	})
}

// EncodeSampleMessage picks the outbound shape matching the sample kind.
func EncodeSampleMessage(s domain.Sample) ([]byte, error) {
	if s.Kind == domain.SampleDigitalState {
		return EncodeDigitalStateMessage(s.Digital)
	}
	return EncodeRawCommandMessage(s.Raw)
}
