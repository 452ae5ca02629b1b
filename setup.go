package gopigo3

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"gopigo3/board"
)

// ServoPosition is a servo port and the angle it is parked at.
type ServoPosition struct {
	Port    board.ServoPort
	Degrees int
}

// DefaultServoPositions centres both servos.
func DefaultServoPositions() []ServoPosition {
	return []ServoPosition{
		{Port: board.Servo1, Degrees: 90},
		{Port: board.Servo2, Degrees: 90},
	}
}

// PositionServos moves each servo once, in order. There is no feedback so
// success only means the board accepted the command.
func PositionServos(ctx context.Context, act Actuators, positions []ServoPosition) error {
	for _, p := range positions {
		if err := act.SetServoAngle(ctx, p.Port, p.Degrees); err != nil {
			return err
		}
	}
	return nil
}

// ZeroEncoders offsets each wheel encoder by its current reading.
func ZeroEncoders(ctx context.Context, act Actuators) error {
	for _, m := range []board.Motor{board.MotorLeft, board.MotorRight} {
		v, err := act.MotorEncoder(ctx, m)
		if err != nil {
			return err
		}
		if err := act.OffsetMotorEncoder(ctx, m, v); err != nil {
			return err
		}
	}
	return nil
}

// positioner runs motors to absolute encoder targets.
type positioner interface {
	Actuators
	SetMotorPosition(ctx context.Context, motor board.Motor, degrees float64) error
}

// SweepOptions tune the wheel position exercise.
type SweepOptions struct {
	// AmplitudeDeg is the furthest the wheels travel from zero.
	AmplitudeDeg int
	Interval     time.Duration
	// Passes limits the back and forth passes, 0 sweeps until ctx ends.
	Passes int
}

// DefaultSweepOptions sweeps a full wheel turn each way, one degree every 10 ms.
func DefaultSweepOptions() SweepOptions {
	return SweepOptions{AmplitudeDeg: 360, Interval: 10 * time.Millisecond}
}

// Sweep zeroes the encoders, ramps both wheels to the amplitude and then
// swings them between -amplitude and +amplitude. The board is always reset
// on return. Cancellation is the normal way to end an unbounded sweep and
// returns nil.
func Sweep(ctx context.Context, p positioner, opts SweepOptions, logger logging.Logger) (err error) {
	if opts.AmplitudeDeg <= 0 {
		return errors.Errorf("sweep amplitude must be positive, got %d", opts.AmplitudeDeg)
	}
	defer func() {
		if resetErr := p.ResetAll(context.Background()); resetErr != nil {
			logger.Warnf("reset after sweep: %v", resetErr)
			if err == nil {
				err = resetErr
			}
		}
	}()

	if err := ZeroEncoders(ctx, p); err != nil {
		return sweepErr(ctx, err)
	}

	moveTo := func(deg int) bool {
		if err = p.SetMotorPosition(ctx, board.MotorBoth, float64(deg)); err != nil {
			return false
		}
		return utils.SelectContextOrWait(ctx, opts.Interval)
	}

	amp := opts.AmplitudeDeg
	for deg := 0; deg <= amp; deg++ {
		if !moveTo(deg) {
			return sweepErr(ctx, err)
		}
	}
	logger.Debugf("sweep ramp done, swinging +/-%d degrees", amp)

	for pass := 0; opts.Passes == 0 || pass < opts.Passes; pass++ {
		dir := 1
		if pass%2 == 1 {
			dir = -1
		}
		for i := -amp; i <= amp; i++ {
			if !moveTo(-dir * i) {
				return sweepErr(ctx, err)
			}
		}
	}
	return nil
}

func sweepErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
