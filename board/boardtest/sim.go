// Package boardtest simulates GoPiGo3 firmware behind the SPI connection so
// higher layers can be tested without a robot.
package boardtest

import (
	"sync"

	"github.com/pkg/errors"

	"gopigo3/board"
)

// message types understood by the simulator
const (
	msgGetManufacturer    = 1
	msgGetName            = 2
	msgGetHardwareVersion = 3
	msgGetFirmwareVersion = 4
	msgGetID              = 5
	msgGetVoltage5V       = 7
	msgGetVoltageVCC      = 8
	msgSetServo           = 9
	msgSetMotorPWM        = 10
	msgSetMotorPosition   = 11
	msgSetMotorPositionKP = 12
	msgSetMotorPositionKD = 13
	msgSetMotorDPS        = 14
	msgSetMotorLimits     = 15
	msgOffsetMotorEncoder = 16
	msgGetEncoderLeft     = 17
	msgGetEncoderRight    = 18
	msgGetStatusLeft      = 19
	msgGetStatusRight     = 20

	replyMarker = 0xA5

	ticksPerDegree = int32(board.TicksPerDegree)
)

// SerialNumber is the board id every Sim reports.
var SerialNumber = []byte{
	0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01, 0x02, 0x03,
	0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B,
}

// Sim is a board.Conn whose motors reach any position target instantly.
type Sim struct {
	mu sync.Mutex

	Manufacturer string
	VoltageMV    uint16

	ticks     map[board.Motor]int32
	servos    map[board.ServoPort]uint16
	power     map[board.Motor]int8
	dps       map[board.Motor]int16
	kp        map[board.Motor]uint8
	kd        map[board.Motor]uint8
	limitDPS  float64
	positions []float64
	history   []byte
	err       error
}

var _ board.Conn = (*Sim)(nil)

// NewSim returns a healthy GoPiGo3 at rest.
func NewSim() *Sim {
	return &Sim{
		Manufacturer: board.Manufacturer,
		VoltageMV:    9000,
		ticks:        map[board.Motor]int32{},
		servos:       map[board.ServoPort]uint16{},
		power:        map[board.Motor]int8{},
		dps:          map[board.Motor]int16{},
		kp:           map[board.Motor]uint8{},
		kd:           map[board.Motor]uint8{},
	}
}

// Fail makes every later transfer return err, nil heals the bus.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetEncoder places a wheel at degrees.
func (s *Sim) SetEncoder(m board.Motor, degrees int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[m] = int32(degrees) * ticksPerDegree
}

// Encoder returns a wheel position in degrees.
func (s *Sim) Encoder(m board.Motor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.ticks[m] / ticksPerDegree)
}

// Servo returns the last pulse width sent to a servo port.
func (s *Sim) Servo(p board.ServoPort) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servos[p]
}

// Power returns the last raw power applied to a motor.
func (s *Sim) Power(m board.Motor) int8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power[m]
}

// DPS returns the last constant speed applied to a motor.
func (s *Sim) DPS(m board.Motor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(int32(s.dps[m]) / ticksPerDegree)
}

// Gains returns the position control gains last sent to a motor.
func (s *Sim) Gains(m board.Motor) (kp, kd uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kp[m], s.kd[m]
}

// LimitDPS returns the motor speed limit.
func (s *Sim) LimitDPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitDPS
}

// Positions lists every position target sent with both motors selected.
func (s *Sim) Positions() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.positions...)
}

// Messages lists the message types received so far.
func (s *Sim) Messages() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.history...)
}

func int32At(b []byte) int32 {
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

func putInt32(b []byte, v int32) {
	u := uint32(v)
	b[0], b[1], b[2], b[3] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
}

func eachMotor(flags byte, fn func(board.Motor)) {
	for _, m := range []board.Motor{board.MotorLeft, board.MotorRight} {
		if flags&byte(m) != 0 {
			fn(m)
		}
	}
}

// Tx implements board.Conn.
func (s *Sim) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if len(w) < 2 || w[0] != board.Address {
		return errors.New("frame not addressed to the GoPiGo3")
	}
	s.history = append(s.history, w[1])

	reply := func(payload []byte) {
		r[3] = replyMarker
		copy(r[4:], payload)
	}

	switch w[1] {
	case msgGetManufacturer:
		reply([]byte(s.Manufacturer))
	case msgGetName:
		reply([]byte("GoPiGo3"))
	case msgGetHardwareVersion:
		reply([]byte{0x00, 0x2D, 0xC6, 0xC0})
	case msgGetFirmwareVersion:
		reply([]byte{0x00, 0x0F, 0x42, 0x43})
	case msgGetID:
		reply(SerialNumber)
	case msgGetVoltage5V:
		reply([]byte{0x13, 0x88})
	case msgGetVoltageVCC:
		reply([]byte{byte(s.VoltageMV >> 8), byte(s.VoltageMV)})
	case msgSetServo:
		pulse := uint16(w[3])<<8 | uint16(w[4])
		for _, p := range []board.ServoPort{board.Servo1, board.Servo2} {
			if w[2]&byte(p) != 0 {
				s.servos[p] = pulse
			}
		}
	case msgSetMotorPWM:
		eachMotor(w[2], func(m board.Motor) { s.power[m] = int8(w[3]) })
	case msgSetMotorPosition:
		target := int32At(w[3:7])
		if w[2] == byte(board.MotorBoth) {
			s.positions = append(s.positions, float64(target)/board.TicksPerDegree)
		}
		eachMotor(w[2], func(m board.Motor) { s.ticks[m] = target })
	case msgSetMotorDPS:
		v := int16(uint16(w[3])<<8 | uint16(w[4]))
		eachMotor(w[2], func(m board.Motor) { s.dps[m] = v })
	case msgSetMotorPositionKP:
		eachMotor(w[2], func(m board.Motor) { s.kp[m] = w[3] })
	case msgSetMotorPositionKD:
		eachMotor(w[2], func(m board.Motor) { s.kd[m] = w[3] })
	case msgSetMotorLimits:
		s.limitDPS = float64(uint16(w[4])<<8|uint16(w[5])) / board.TicksPerDegree
	case msgOffsetMotorEncoder:
		offset := int32At(w[3:7])
		eachMotor(w[2], func(m board.Motor) { s.ticks[m] -= offset })
	case msgGetEncoderLeft:
		putInt32(r[4:8], s.ticks[board.MotorLeft])
		r[3] = replyMarker
	case msgGetEncoderRight:
		putInt32(r[4:8], s.ticks[board.MotorRight])
		r[3] = replyMarker
	case msgGetStatusLeft, msgGetStatusRight:
		m := board.MotorLeft
		if w[1] == msgGetStatusRight {
			m = board.MotorRight
		}
		r[3] = replyMarker
		r[4] = 0
		r[5] = byte(s.power[m])
		putInt32(r[6:10], s.ticks[m])
		r[10], r[11] = byte(uint16(s.dps[m])>>8), byte(s.dps[m])
	}
	return nil
}
