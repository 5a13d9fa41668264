package command

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json jsoniter.API = jsoniter.ConfigCompatibleWithStandardLibrary

type CommandType string

const (
	Drive CommandType = "drive"
	Stop  CommandType = "stop"
	Angle CommandType = "angle"
	// SetServoValues carries [steering, throttle] in Values, as sent by the
	// browser control page.
	SetServoValues CommandType = "setServoValues"
)

var ErrUnknownCommand = errors.New("command: unknown type")

type Command struct {
	Type     CommandType `json:"type"`
	Speed    float64     `json:"speed,omitempty"`
	Steering float64     `json:"steering,omitempty"`
	Angle    float64     `json:"angle,omitempty"`
	Values   []float64   `json:"values,omitempty"`
}

// Controller receives decoded commands.
type Controller interface {
	Drive(speed, steering float64) error
	Stop() error
	SetAngle(angle float64) error
}

func Unmarshal(raw []byte) (cmd *Command, err error) {
	cmd = &Command{}
	if err = json.Unmarshal(raw, cmd); err != nil {
		return nil, err
	}
	switch cmd.Type {
	case Drive, Stop, Angle:
	case SetServoValues:
		if len(cmd.Values) != 2 {
			return nil, fmt.Errorf("command: %s needs 2 values, got %d", cmd.Type, len(cmd.Values))
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
	}
	return cmd, nil
}

func (c *Command) Apply(ctrl Controller) error {
	switch c.Type {
	case Drive:
		return ctrl.Drive(c.Speed, c.Steering)
	case Stop:
		return ctrl.Stop()
	case Angle:
		return ctrl.SetAngle(c.Angle)
	case SetServoValues:
		return ctrl.Drive(c.Values[1], c.Values[0])
	}
	return fmt.Errorf("%w %q", ErrUnknownCommand, c.Type)
}

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
