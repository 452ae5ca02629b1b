// Package distance reads the Dexter Industries distance sensor, a VL53L0X
// time of flight ranger on I2C.
package distance

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// DefaultAddress is the 7 bit address the sensor boots with.
const DefaultAddress = 0x29

// MaxRangeMM is reported when nothing is inside the sensor's range.
const MaxRangeMM = 3000

const (
	regSysRangeStart      = 0x00
	regSystemInterruptClr = 0x0B
	regResultInterrupt    = 0x13
	regResultRange        = 0x14
	regModelID            = 0xC0
	regStopVariable       = 0x91

	modelID = 0xEE

	// Range values at or above this mean the measurement is invalid.
	invalidRange = 8190

	pollInterval = time.Millisecond
)

// ErrTimeout is returned when a measurement does not complete in time.
var ErrTimeout = errors.New("distance measurement timed out")

// Bus is the I2C transfer the sensor needs. periph's i2c.Bus satisfies it.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// Sensor is a VL53L0X used in single shot mode.
type Sensor struct {
	mu      sync.Mutex
	bus     Bus
	addr    uint16
	timeout time.Duration
	stop    byte
}

// New checks the model id, runs the vendor init sequence and prepares single
// shot ranging.
func New(bus Bus, addr uint16, timeout time.Duration) (*Sensor, error) {
	if addr == 0 {
		addr = DefaultAddress
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	s := &Sensor{bus: bus, addr: addr, timeout: timeout}

	id, err := s.readReg(regModelID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read distance sensor model id")
	}
	if id != modelID {
		return nil, errors.Errorf("unexpected distance sensor model id 0x%02x at address 0x%02x", id, addr)
	}

	if err := s.initialize(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to initialize distance sensor")
	}
	return s, nil
}

func (s *Sensor) readReg(reg byte) (byte, error) {
	r := make([]byte, 1)
	if err := s.bus.Tx(s.addr, []byte{reg}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (s *Sensor) readReg16(reg byte) (uint16, error) {
	r := make([]byte, 2)
	if err := s.bus.Tx(s.addr, []byte{reg}, r); err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

func (s *Sensor) writeReg(reg, value byte) error {
	return s.bus.Tx(s.addr, []byte{reg, value}, nil)
}

func (s *Sensor) writeRegs(pairs [][2]byte) error {
	for _, p := range pairs {
		if err := s.writeReg(p[0], p[1]); err != nil {
			return errors.Wrapf(err, "failed to write register 0x%02x", p[0])
		}
	}
	return nil
}

// waitFor polls reg until done returns true.
func (s *Sensor) waitFor(ctx context.Context, reg byte, done func(byte) bool) error {
	deadline := time.Now().Add(s.timeout)
	for {
		v, err := s.readReg(reg)
		if err != nil {
			return err
		}
		if done(v) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		if !utils.SelectContextOrWait(ctx, pollInterval) {
			return ctx.Err()
		}
	}
}

// ReadMM runs one measurement and returns the distance in millimetres.
// Invalid and out of range measurements are reported as MaxRangeMM.
func (s *Sensor) ReadMM(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeRegs([][2]byte{
		{0x80, 0x01}, {0xFF, 0x01}, {0x00, 0x00},
		{regStopVariable, s.stop},
		{0x00, 0x01}, {0xFF, 0x00}, {0x80, 0x00},
		{regSysRangeStart, 0x01},
	}); err != nil {
		return 0, err
	}

	if err := s.waitFor(ctx, regSysRangeStart, func(v byte) bool { return v&0x01 == 0 }); err != nil {
		return 0, errors.Wrap(err, "waiting for range start")
	}
	if err := s.waitFor(ctx, regResultInterrupt, func(v byte) bool { return v&0x07 != 0 }); err != nil {
		return 0, errors.Wrap(err, "waiting for range result")
	}

	mm, err := s.readReg16(regResultRange + 10)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read range")
	}
	if err := s.writeReg(regSystemInterruptClr, 0x01); err != nil {
		return 0, errors.Wrap(err, "failed to clear interrupt")
	}

	if mm >= invalidRange || mm > MaxRangeMM {
		return MaxRangeMM, nil
	}
	return int(mm), nil
}
