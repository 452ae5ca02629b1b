package gopigo3

import (
	"context"
	"fmt"
	"sync"

	"gopigo3/board"
)

// fakeActuators records every call by name.
type fakeActuators struct {
	mu       sync.Mutex
	calls    []string
	commands []Command
	encoders map[board.Motor]int

	// failOn names a call ("drive", "turn", "servo", "stop", "reset") that returns failErr.
	failOn  string
	failErr error
	// onCommand runs after a drive or turn is recorded.
	onCommand func(Command)
}

func newFakeActuators() *fakeActuators {
	return &fakeActuators{encoders: map[board.Motor]int{}}
}

func (f *fakeActuators) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.failOn != "" && f.failOn == name {
		return f.failErr
	}
	return nil
}

func (f *fakeActuators) command(name string, cmd Command) error {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	hook := f.onCommand
	f.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}
	return f.record(name)
}

func (f *fakeActuators) DriveCm(ctx context.Context, cm float64, blocking bool) error {
	return f.command("drive", Drive(cm))
}

func (f *fakeActuators) TurnDegrees(ctx context.Context, degrees float64, blocking bool) error {
	return f.command("turn", Turn(degrees))
}

func (f *fakeActuators) SetServoAngle(ctx context.Context, port board.ServoPort, degrees int) error {
	if err := f.record("servo"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[len(f.calls)-1] = fmt.Sprintf("servo %s %d", port, degrees)
	return nil
}

func (f *fakeActuators) MotorEncoder(ctx context.Context, motor board.Motor) (int, error) {
	if err := f.record("encoder"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoders[motor], nil
}

func (f *fakeActuators) OffsetMotorEncoder(ctx context.Context, motor board.Motor, degrees int) error {
	if err := f.record("offset"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encoders[motor] -= degrees
	return nil
}

func (f *fakeActuators) Stop(ctx context.Context) error {
	return f.record("stop")
}

func (f *fakeActuators) ResetAll(ctx context.Context) error {
	return f.record("reset")
}

func (f *fakeActuators) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActuators) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

func (f *fakeActuators) lastCalls(n int) []string {
	calls := f.Calls()
	if len(calls) < n {
		return calls
	}
	return calls[len(calls)-n:]
}

// scriptedSensor returns values in order and then repeats the last one.
// errs maps a read index to the error returned for it.
type scriptedSensor struct {
	mu     sync.Mutex
	values []int
	errs   map[int]error
	reads  int
}

func (s *scriptedSensor) ReadMM(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.reads
	s.reads++
	if err, ok := s.errs[i]; ok {
		return 0, err
	}
	if len(s.values) == 0 {
		return 0, fmt.Errorf("no readings scripted")
	}
	if i >= len(s.values) {
		return s.values[len(s.values)-1], nil
	}
	return s.values[i], nil
}

// fakeDriveBoard moves the wheels to their target on the next encoder read.
type fakeDriveBoard struct {
	mu         sync.Mutex
	encoders   map[board.Motor]float64
	targets    map[board.Motor]float64
	stuck      bool
	servos     map[board.ServoPort]uint16
	limitDPS   float64
	dps        map[board.Motor]float64
	power      map[board.Motor]int
	resets     int
	offsets    map[board.Motor]float64
	servoErr   error
	encoderErr error
}

func newFakeDriveBoard() *fakeDriveBoard {
	return &fakeDriveBoard{
		encoders: map[board.Motor]float64{},
		targets:  map[board.Motor]float64{},
		servos:   map[board.ServoPort]uint16{},
		dps:      map[board.Motor]float64{},
		power:    map[board.Motor]int{},
		offsets:  map[board.Motor]float64{},
	}
}

func eachWheel(port board.Motor, fn func(board.Motor)) {
	for _, m := range []board.Motor{board.MotorLeft, board.MotorRight} {
		if port&m != 0 {
			fn(m)
		}
	}
}

func (f *fakeDriveBoard) SetMotorPosition(port board.Motor, degrees float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	eachWheel(port, func(m board.Motor) { f.targets[m] = degrees })
	return nil
}

func (f *fakeDriveBoard) SetMotorPower(port board.Motor, power int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	eachWheel(port, func(m board.Motor) { f.power[m] = power })
	return nil
}

func (f *fakeDriveBoard) SetMotorDPS(port board.Motor, dps float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	eachWheel(port, func(m board.Motor) { f.dps[m] = dps })
	return nil
}

func (f *fakeDriveBoard) SetMotorLimits(port board.Motor, power uint8, dps float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limitDPS = dps
	return nil
}

func (f *fakeDriveBoard) OffsetMotorEncoder(port board.Motor, degrees float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	eachWheel(port, func(m board.Motor) {
		f.offsets[m] += degrees
		f.encoders[m] -= degrees
	})
	return nil
}

func (f *fakeDriveBoard) MotorEncoder(port board.Motor) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.encoderErr != nil {
		return 0, f.encoderErr
	}
	if target, ok := f.targets[port]; ok && !f.stuck {
		f.encoders[port] = target
	}
	return int(f.encoders[port]), nil
}

func (f *fakeDriveBoard) SetServo(port board.ServoPort, pulseMicros uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.servoErr != nil {
		return f.servoErr
	}
	for _, p := range []board.ServoPort{board.Servo1, board.Servo2} {
		if port&p != 0 {
			f.servos[p] = pulseMicros
		}
	}
	return nil
}

func (f *fakeDriveBoard) ResetAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.limitDPS = 0
	return nil
}
