package gopigo3

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"gopigo3/board"
)

// Drive defaults, matching the vendor's easy API.
const (
	DefaultSpeedDPS    = 300
	MinSpeedDPS        = 1
	MaxSpeedDPS        = 1000
	defaultPoll        = 100 * time.Millisecond
	targetToleranceDeg = 5
	servoPulseRange    = 1850
	servoCenterPulse   = 1500
	minMoveTimeout     = 2 * time.Second
)

// driveBoard is the part of board.Board the drive layer uses.
type driveBoard interface {
	SetMotorPosition(port board.Motor, degrees float64) error
	SetMotorPower(port board.Motor, power int) error
	SetMotorDPS(port board.Motor, dps float64) error
	SetMotorLimits(port board.Motor, power uint8, dps float64) error
	OffsetMotorEncoder(port board.Motor, degrees float64) error
	MotorEncoder(port board.Motor) (int, error)
	SetServo(port board.ServoPort, pulseMicros uint16) error
	ResetAll() error
}

var _ Actuators = (*Robot)(nil)

// Robot turns centimetres and degrees into wheel encoder targets.
type Robot struct {
	board  driveBoard
	logger logging.Logger

	mu          sync.Mutex
	speedDPS    float64
	servoAngles map[board.ServoPort]int
	poll        time.Duration

	moving atomic.Bool
}

// NewRobot applies the default speed limit and returns the drive layer.
func NewRobot(b driveBoard, logger logging.Logger) (*Robot, error) {
	r := &Robot{
		board:       b,
		logger:      logger,
		servoAngles: map[board.ServoPort]int{},
		poll:        defaultPoll,
	}
	if err := r.SetSpeed(DefaultSpeedDPS); err != nil {
		return nil, err
	}
	return r, nil
}

// SetSpeed limits both wheels to dps degrees per second.
func (r *Robot) SetSpeed(dps float64) error {
	if dps < MinSpeedDPS || dps > MaxSpeedDPS {
		return errors.Errorf("speed must be between %d and %d dps, got %g", MinSpeedDPS, MaxSpeedDPS, dps)
	}
	if err := r.board.SetMotorLimits(board.MotorBoth, 0, dps); err != nil {
		return commandErr("set speed", err)
	}
	r.mu.Lock()
	r.speedDPS = dps
	r.mu.Unlock()
	return nil
}

// Speed returns the current wheel speed limit.
func (r *Robot) Speed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speedDPS
}

// IsMoving reports whether a blocking move is in progress.
func (r *Robot) IsMoving() bool {
	return r.moving.Load()
}

// cmToWheelDegrees converts travelled distance to wheel rotation.
func cmToWheelDegrees(cm float64) float64 {
	return cm * 10 / board.WheelCircumferenceMM * 360
}

// turnToWheelDegrees converts a body rotation to wheel rotation.
func turnToWheelDegrees(degrees float64) float64 {
	return degrees * board.WheelBaseCircumferenceMM / board.WheelCircumferenceMM
}

// ServoPulse maps 0..180 degrees onto the servo pulse width in microseconds.
func ServoPulse(degrees int) uint16 {
	if degrees < 0 {
		degrees = 0
	} else if degrees > 180 {
		degrees = 180
	}
	pulse := servoCenterPulse - servoPulseRange/2.0 + servoPulseRange/180.0*float64(degrees)
	return uint16(math.Round(pulse))
}

// DriveCm drives straight.
func (r *Robot) DriveCm(ctx context.Context, cm float64, blocking bool) error {
	deg := cmToWheelDegrees(cm)
	return commandErr("drive", r.moveWheels(ctx, deg, deg, blocking))
}

// TurnDegrees spins in place around the centre of the wheel base.
func (r *Robot) TurnDegrees(ctx context.Context, degrees float64, blocking bool) error {
	deg := turnToWheelDegrees(degrees)
	return commandErr("turn", r.moveWheels(ctx, deg, -deg, blocking))
}

func (r *Robot) moveWheels(ctx context.Context, leftDeg, rightDeg float64, blocking bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	startLeft, err := r.board.MotorEncoder(board.MotorLeft)
	if err != nil {
		return err
	}
	startRight, err := r.board.MotorEncoder(board.MotorRight)
	if err != nil {
		return err
	}
	targetLeft := float64(startLeft) + leftDeg
	targetRight := float64(startRight) + rightDeg

	if err := r.board.SetMotorPosition(board.MotorLeft, targetLeft); err != nil {
		return err
	}
	if err := r.board.SetMotorPosition(board.MotorRight, targetRight); err != nil {
		return err
	}
	if !blocking {
		return nil
	}

	r.moving.Store(true)
	defer r.moving.Store(false)

	speed := r.Speed()
	travel := math.Max(math.Abs(leftDeg), math.Abs(rightDeg))
	timeout := time.Duration(travel/speed*2*float64(time.Second)) + minMoveTimeout
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		reached, err := r.targetReached(targetLeft, targetRight)
		if err != nil {
			return err
		}
		if reached {
			return nil
		}
		if time.Now().After(deadline) {
			return multierr.Combine(
				errors.Errorf("wheels did not reach target within %v", timeout),
				r.stopMotors(),
			)
		}
		select {
		case <-ctx.Done():
			return multierr.Combine(ctx.Err(), r.stopMotors())
		case <-ticker.C:
		}
	}
}

func (r *Robot) targetReached(left, right float64) (bool, error) {
	curLeft, err := r.board.MotorEncoder(board.MotorLeft)
	if err != nil {
		return false, err
	}
	curRight, err := r.board.MotorEncoder(board.MotorRight)
	if err != nil {
		return false, err
	}
	return math.Abs(float64(curLeft)-left) <= targetToleranceDeg &&
		math.Abs(float64(curRight)-right) <= targetToleranceDeg, nil
}

// SetMotorPosition runs the selected motors to an absolute encoder position.
func (r *Robot) SetMotorPosition(ctx context.Context, motor board.Motor, degrees float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return commandErr("set motor position", r.board.SetMotorPosition(motor, degrees))
}

// SetWheelSpeeds runs each wheel at a constant speed in degrees per second.
func (r *Robot) SetWheelSpeeds(ctx context.Context, leftDPS, rightDPS float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return commandErr("set wheel speeds", multierr.Combine(
		r.board.SetMotorDPS(board.MotorLeft, leftDPS),
		r.board.SetMotorDPS(board.MotorRight, rightDPS),
	))
}

// SetWheelPower drives each wheel with raw power in percent.
func (r *Robot) SetWheelPower(ctx context.Context, left, right int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return commandErr("set wheel power", multierr.Combine(
		r.board.SetMotorPower(board.MotorLeft, left),
		r.board.SetMotorPower(board.MotorRight, right),
	))
}

// SetServoAngle moves a servo to degrees in 0..180.
func (r *Robot) SetServoAngle(ctx context.Context, port board.ServoPort, degrees int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if degrees < 0 {
		degrees = 0
	} else if degrees > 180 {
		degrees = 180
	}
	if err := r.board.SetServo(port, ServoPulse(degrees)); err != nil {
		return commandErr("set servo "+port.String(), err)
	}
	r.mu.Lock()
	r.servoAngles[port] = degrees
	r.mu.Unlock()
	return nil
}

// ReleaseServo stops driving the servo so it can be moved by hand.
func (r *Robot) ReleaseServo(ctx context.Context, port board.ServoPort) error {
	if err := r.board.SetServo(port, 0); err != nil {
		return commandErr("release servo "+port.String(), err)
	}
	r.mu.Lock()
	delete(r.servoAngles, port)
	r.mu.Unlock()
	return nil
}

// ServoAngle returns the last angle commanded to the servo.
func (r *Robot) ServoAngle(port board.ServoPort) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	angle, ok := r.servoAngles[port]
	return angle, ok
}

// MotorEncoder reads one wheel encoder in degrees.
func (r *Robot) MotorEncoder(ctx context.Context, motor board.Motor) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := r.board.MotorEncoder(motor)
	if err != nil {
		return 0, commandErr("read encoder "+motor.String(), err)
	}
	return v, nil
}

// OffsetMotorEncoder subtracts degrees from the encoder baseline.
func (r *Robot) OffsetMotorEncoder(ctx context.Context, motor board.Motor, degrees int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return commandErr("offset encoder "+motor.String(), r.board.OffsetMotorEncoder(motor, float64(degrees)))
}

func (r *Robot) stopMotors() error {
	return r.board.SetMotorDPS(board.MotorBoth, 0)
}

// Stop halts both wheels. It ignores ctx so it can run after cancellation.
func (r *Robot) Stop(ctx context.Context) error {
	return commandErr("stop", r.stopMotors())
}

// ResetAll floats the motors, releases the servos and restores the speed
// limit the robot was configured with. It ignores ctx so it can run after
// cancellation.
func (r *Robot) ResetAll(ctx context.Context) error {
	err := r.board.ResetAll()
	r.mu.Lock()
	r.servoAngles = map[board.ServoPort]int{}
	speed := r.speedDPS
	r.mu.Unlock()
	if speed > 0 {
		err = multierr.Combine(err, r.board.SetMotorLimits(board.MotorBoth, 0, speed))
	}
	return commandErr("reset all", err)
}
