package gopigo3

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Loop defaults.
const (
	DefaultThresholdMM     = 250
	DefaultStepCm          = 1
	DefaultMaxSteps        = 50
	DefaultTurnDegrees     = 180
	DefaultExitTurnDegrees = -90
	DefaultMaxCycles       = 1000
	DefaultSensorRetries   = 3
	DefaultRetryBackoff    = 50 * time.Millisecond

	headingForward = 90
	headingAvoid   = -90

	shutdownTimeout = 5 * time.Second
)

// State is what the loop did with the latest distance sample.
type State int

const (
	StateIdle State = iota
	StateAdvancing
	StateAvoiding
)

func (s State) String() string {
	switch s {
	case StateAdvancing:
		return "advancing"
	case StateAvoiding:
		return "avoiding"
	default:
		return "idle"
	}
}

// CommandKind names an actuator command issued by the loop.
type CommandKind string

const (
	CommandDrive CommandKind = "drive"
	CommandTurn  CommandKind = "turn"
)

// Command is one drive or turn, in centimetres or degrees.
type Command struct {
	Kind  CommandKind
	Value float64
}

// Drive returns a drive command for cm centimetres.
func Drive(cm float64) Command { return Command{Kind: CommandDrive, Value: cm} }

// Turn returns a turn command for degrees.
func Turn(degrees float64) Command { return Command{Kind: CommandTurn, Value: degrees} }

func (c Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind, strconv.FormatFloat(c.Value, 'f', -1, 64))
}

// LoopConfig holds the loop's tunables.
type LoopConfig struct {
	ThresholdMM     int
	StepCm          int
	MaxSteps        int
	TurnDegrees     float64
	ExitTurnDegrees float64
	MaxCycles       int
	SensorRetries   int
	RetryBackoff    time.Duration
	Blocking        bool
}

// DefaultLoopConfig returns the stock tuning.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		ThresholdMM:     DefaultThresholdMM,
		StepCm:          DefaultStepCm,
		MaxSteps:        DefaultMaxSteps,
		TurnDegrees:     DefaultTurnDegrees,
		ExitTurnDegrees: DefaultExitTurnDegrees,
		MaxCycles:       DefaultMaxCycles,
		SensorRetries:   DefaultSensorRetries,
		RetryBackoff:    DefaultRetryBackoff,
		Blocking:        true,
	}
}

// Validate rejects settings the loop cannot run with.
func (c LoopConfig) Validate() error {
	switch {
	case c.ThresholdMM <= 0:
		return errors.Errorf("threshold must be positive, got %d mm", c.ThresholdMM)
	case c.StepCm <= 0:
		return errors.Errorf("step must be positive, got %d cm", c.StepCm)
	case c.MaxSteps <= 0:
		return errors.Errorf("max steps must be positive, got %d", c.MaxSteps)
	case c.MaxCycles < c.MaxSteps:
		return errors.Errorf("max cycles (%d) must be at least max steps (%d)", c.MaxCycles, c.MaxSteps)
	case c.SensorRetries < 0:
		return errors.Errorf("sensor retries cannot be negative, got %d", c.SensorRetries)
	case c.RetryBackoff < 0:
		return errors.Errorf("retry backoff cannot be negative, got %v", c.RetryBackoff)
	}
	return nil
}

// Step describes one iteration after its commands completed.
type Step struct {
	Index       int
	DistanceMM  int
	State       State
	Counter     int
	TravelledCm int
	Heading     int
	Commands    []Command
}

// Summary is the loop's final bookkeeping.
type Summary struct {
	Cycles      int
	Counter     int
	TravelledCm int
	Heading     int
	// Completed is true when the loop reached its advancing step goal.
	Completed bool
}

// StepObserver is told about every finished iteration.
type StepObserver func(ctx context.Context, step Step)

// Loop is the obstacle avoidance control loop.
type Loop struct {
	cfg       LoopConfig
	sensor    DistanceReader
	act       Actuators
	logger    logging.Logger
	observers []StepObserver
}

// NewLoop validates cfg and wires the loop to its sensor and actuators.
func NewLoop(cfg LoopConfig, sensor DistanceReader, act Actuators, logger logging.Logger, observers ...StepObserver) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sensor == nil || act == nil {
		return nil, errors.New("loop needs a distance sensor and actuators")
	}
	return &Loop{
		cfg:       cfg,
		sensor:    sensor,
		act:       act,
		logger:    logger,
		observers: observers,
	}, nil
}

// Run samples and moves until the step goal or the cycle limit is reached.
// Cancellation and fatal faults run the safe shutdown before Run returns.
func (l *Loop) Run(ctx context.Context) (sum Summary, err error) {
	defer func() {
		if err != nil {
			l.logger.Warnf("obstacle avoidance stopped after %d cycles: %v", sum.Cycles, err)
			err = multierr.Combine(err, SafeShutdown(l.act))
		}
	}()

	l.logger.Infof("obstacle avoidance starting, threshold %d mm, goal %d steps", l.cfg.ThresholdMM, l.cfg.MaxSteps)
	for sum.Counter < l.cfg.MaxSteps {
		if sum.Cycles >= l.cfg.MaxCycles {
			l.logger.Warnf("cycle limit %d reached with %d consecutive steps", l.cfg.MaxCycles, sum.Counter)
			return sum, commandErr("stop", l.act.Stop(ctx))
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		step, err := l.iterate(ctx, &sum)
		if err != nil {
			return sum, err
		}
		for _, obs := range l.observers {
			obs(ctx, step)
		}
	}

	sum.Completed = true
	l.logger.Infof("obstacle avoidance finished after %d cycles", sum.Cycles)
	return sum, commandErr("stop", l.act.Stop(ctx))
}

func (l *Loop) iterate(ctx context.Context, sum *Summary) (Step, error) {
	d, err := l.readDistance(ctx)
	if err != nil {
		return Step{}, err
	}
	step := Step{Index: sum.Cycles, DistanceMM: d}
	sum.Cycles++

	if d >= l.cfg.ThresholdMM {
		step.State = StateAdvancing
		if err := l.issue(ctx, &step, Drive(float64(l.cfg.StepCm))); err != nil {
			return step, err
		}
		sum.Counter++
		sum.TravelledCm += l.cfg.StepCm
		sum.Heading = headingForward
	} else {
		step.State = StateAvoiding
		l.logger.Debugf("obstacle at %d mm, backing out %d cm", d, sum.TravelledCm)
		for _, cmd := range []Command{
			Turn(l.cfg.TurnDegrees),
			Drive(float64(sum.TravelledCm)),
			Turn(l.cfg.ExitTurnDegrees),
		} {
			if err := l.issue(ctx, &step, cmd); err != nil {
				return step, err
			}
		}
		sum.Counter = 0
		sum.TravelledCm = 0
		sum.Heading = headingAvoid
	}

	step.Counter = sum.Counter
	step.TravelledCm = sum.TravelledCm
	step.Heading = sum.Heading
	return step, nil
}

// issue checks for cancellation before sending cmd.
func (l *Loop) issue(ctx context.Context, step *Step, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	step.Commands = append(step.Commands, cmd)

	var err error
	switch cmd.Kind {
	case CommandDrive:
		err = l.act.DriveCm(ctx, cmd.Value, l.cfg.Blocking)
	case CommandTurn:
		err = l.act.TurnDegrees(ctx, cmd.Value, l.cfg.Blocking)
	default:
		err = errors.Errorf("unknown command %q", cmd.Kind)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return commandErr(cmd.String(), err)
}

// readDistance retries sensor faults with a fixed backoff.
func (l *Loop) readDistance(ctx context.Context) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.SensorRetries; attempt++ {
		if attempt > 0 {
			l.logger.Debugf("retrying distance read (%d/%d): %v", attempt, l.cfg.SensorRetries, lastErr)
			if !utils.SelectContextOrWait(ctx, l.cfg.RetryBackoff) {
				return 0, ctx.Err()
			}
		}

		d, err := l.sensor.ReadMM(ctx)
		if err != nil && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err == nil && d < 0 {
			err = errors.Errorf("negative distance %d mm", d)
		}
		if err == nil {
			return d, nil
		}
		if !IsRetryable(err) {
			err = &SensorError{Err: err}
		}
		lastErr = err
	}
	return 0, errors.Wrapf(lastErr, "giving up after %d attempts", l.cfg.SensorRetries+1)
}

// SafeShutdown stops the wheels and resets the board on a fresh context so
// it still runs after the caller's context is cancelled.
func SafeShutdown(act Actuators) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return multierr.Combine(act.Stop(ctx), act.ResetAll(ctx))
}
