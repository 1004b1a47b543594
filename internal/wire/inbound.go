package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidewise/gamepad-websocket/internal/domain"
)

var ErrMalformedSample = errors.New("malformed sample")

// rawCommand is the bus representation of a gamepad command. Time is in Unix milliseconds.
type rawCommand struct {
	Time             int64     `json:"time"`
	DeviceIdentifier string    `json:"deviceIdentifier"`
	AxisValue        []float64 `json:"axisValue"`
	ButtonValue      []uint8   `json:"buttonValue"`
}

type pinState struct {
	Data uint8 `json:"data"`
}

// digitalState is the bus representation of a GPIO state vector.
type digitalState struct {
	Time   int64      `json:"time"`
	States []pinState `json:"states"`
}

func DecodeRawCommand(data []byte) (domain.RawCommand, error) {
	var msg rawCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.RawCommand{}, fmt.Errorf("%w: raw command: %w", ErrMalformedSample, err)
	}
	return domain.RawCommand{
		Time:             fromMillis(msg.Time),
		DeviceIdentifier: msg.DeviceIdentifier,
		Axes:             msg.AxisValue,
		Buttons:          msg.ButtonValue,
	}, nil
}

func DecodeDigitalState(data []byte) (domain.DigitalState, error) {
	var msg digitalState
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.DigitalState{}, fmt.Errorf("%w: digital state: %w", ErrMalformedSample, err)
	}
	states := make([]bool, len(msg.States))
	for i, s := range msg.States {
		states[i] = s.Data != 0
	}
	return domain.DigitalState{Time: fromMillis(msg.Time), States: states}, nil
}

// DecodeSample decodes data as the payload kind expected by the consumer.
func DecodeSample(kind domain.SampleKind, data []byte) (domain.Sample, error) {
	switch kind {
	case domain.SampleRawCommand:
		cmd, err := DecodeRawCommand(data)
		if err != nil {
			return domain.Sample{}, err
		}
		return domain.RawSample(cmd), nil
	case domain.SampleDigitalState:
		state, err := DecodeDigitalState(data)
		if err != nil {
			return domain.Sample{}, err
		}
		return domain.DigitalSample(state), nil
	default:
		return domain.Sample{}, fmt.Errorf("%w: unknown sample kind %d", ErrMalformedSample, kind)
	}
}

func EncodeRawCommand(cmd domain.RawCommand) ([]byte, error) {
	return json.Marshal(rawCommand{
		Time:             toMillis(cmd.Time),
		DeviceIdentifier: cmd.DeviceIdentifier,
		AxisValue:        nonNil(cmd.Axes),
		ButtonValue:      nonNil(cmd.Buttons),
	})
}

func EncodeDigitalState(state domain.DigitalState) ([]byte, error) {
	pins := make([]pinState, len(state.States))
	for i, on := range state.States {
		if on {
			pins[i].Data = 1
		}
	}
	return json.Marshal(digitalState{Time: toMillis(state.Time), States: pins})
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
