package gopigo3

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"gopigo3/board"
)

// Actuators is everything the navigation code may ask of the robot. Robot is
// the one implementation backed by hardware.
type Actuators interface {
	// DriveCm drives straight, negative values drive backwards.
	DriveCm(ctx context.Context, cm float64, blocking bool) error
	// TurnDegrees spins in place, positive values turn clockwise.
	TurnDegrees(ctx context.Context, degrees float64, blocking bool) error
	SetServoAngle(ctx context.Context, port board.ServoPort, degrees int) error
	MotorEncoder(ctx context.Context, motor board.Motor) (int, error)
	OffsetMotorEncoder(ctx context.Context, motor board.Motor, degrees int) error
	Stop(ctx context.Context) error
	ResetAll(ctx context.Context) error
}

// DistanceReader returns the distance to the nearest obstacle in millimetres.
type DistanceReader interface {
	ReadMM(ctx context.Context) (int, error)
}

// SensorError is a failed or implausible distance reading. Sensor faults are
// retried before they stop a run.
type SensorError struct {
	Err error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("distance sensor: %v", e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}

// CommandError is a failed actuator command. It always ends a run.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a sensor fault worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sensorErr *SensorError
	return errors.As(err, &sensorErr)
}

func commandErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return err
	}
	return &CommandError{Op: op, Err: err}
}
