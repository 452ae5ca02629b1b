// Package board talks to the GoPiGo3 red board firmware over SPI.
//
// Every message starts with the board address followed by a message type. Read
// replies echo three bytes and then carry 0xA5 before the payload.
package board

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// SPI settings used by the firmware.
const (
	Address        = 0x08
	SPIFrequencyHz = 500000
	replyMarker    = 0xA5
)

// Message types understood by the firmware.
const (
	msgGetManufacturer    = 1
	msgGetName            = 2
	msgGetHardwareVersion = 3
	msgGetFirmwareVersion = 4
	msgGetID              = 5
	msgSetLED             = 6
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
)

// Motor port flags. They can be OR'ed to address both motors in one message.
type Motor uint8

const (
	MotorLeft  Motor = 0x01
	MotorRight Motor = 0x02
	MotorBoth  Motor = MotorLeft | MotorRight
)

func (m Motor) String() string {
	switch m {
	case MotorLeft:
		return "left"
	case MotorRight:
		return "right"
	case MotorBoth:
		return "both"
	default:
		return fmt.Sprintf("motor(0x%02x)", uint8(m))
	}
}

// ParseMotor maps a config name to a motor flag.
func ParseMotor(name string) (Motor, error) {
	switch strings.ToLower(name) {
	case "left", "l":
		return MotorLeft, nil
	case "right", "r":
		return MotorRight, nil
	default:
		return 0, errors.Errorf("unknown motor %q, expected \"left\" or \"right\"", name)
	}
}

// Servo port flags.
type ServoPort uint8

const (
	Servo1    ServoPort = 0x01
	Servo2    ServoPort = 0x02
	ServoBoth ServoPort = Servo1 | Servo2
)

// ParseServoPort maps "SERVO1"/"SERVO2" to a servo flag.
func ParseServoPort(name string) (ServoPort, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SERVO1", "1":
		return Servo1, nil
	case "SERVO2", "2":
		return Servo2, nil
	default:
		return 0, errors.Errorf("unknown servo port %q, expected SERVO1 or SERVO2", name)
	}
}

func (p ServoPort) String() string {
	switch p {
	case Servo1:
		return "SERVO1"
	case Servo2:
		return "SERVO2"
	default:
		return fmt.Sprintf("servo(0x%02x)", uint8(p))
	}
}

// LED flags.
const (
	LEDEyeRight     = 0x01
	LEDEyeLeft      = 0x02
	LEDBlinkerLeft  = 0x04
	LEDBlinkerRight = 0x08
	LEDWifi         = 0x80
)

// Drive train geometry and encoder resolution.
const (
	MotorGearRatio          = 120
	EncoderTicksPerRotation = 6
	TicksPerDegree          = float64(MotorGearRatio*EncoderTicksPerRotation) / 360.0

	WheelDiameterMM          = 66.5
	WheelBaseWidthMM         = 117.0
	WheelCircumferenceMM     = WheelDiameterMM * math.Pi
	WheelBaseCircumferenceMM = WheelBaseWidthMM * math.Pi
)

// MotorFloat is the power value that lets a motor coast.
const MotorFloat = -128

// Manufacturer reported by a genuine board.
const Manufacturer = "Dexter Industries"

// ErrBadReply is returned when a read reply does not carry the 0xA5 marker.
var ErrBadReply = errors.New("no SPI response")

// Conn is the full duplex transfer the board needs. periph's spi.Conn satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// MotorStatus is the decoded motor status reply.
type MotorStatus struct {
	Flags      uint8
	Power      int8
	EncoderDeg int
	DPS        int
}

// Board is a GoPiGo3 reachable over a single SPI connection.
type Board struct {
	mu   sync.Mutex
	conn Conn
}

// New wraps an already configured SPI connection.
func New(conn Conn) *Board {
	return &Board{conn: conn}
}

func (b *Board) tx(out []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	in := make([]byte, len(out))
	if err := b.conn.Tx(out, in); err != nil {
		return nil, errors.Wrapf(err, "spi transfer of message %d", out[1])
	}
	return in, nil
}

func (b *Board) write(out ...byte) error {
	_, err := b.tx(append([]byte{Address}, out...))
	return err
}

// read sends a message with n payload bytes of padding and returns the payload.
func (b *Board) read(msgType byte, n int) ([]byte, error) {
	out := make([]byte, 4+n)
	out[0] = Address
	out[1] = msgType
	in, err := b.tx(out)
	if err != nil {
		return nil, err
	}
	if in[3] != replyMarker {
		return nil, errors.Wrapf(ErrBadReply, "message %d", msgType)
	}
	return in[4:], nil
}

func (b *Board) read16(msgType byte) (uint16, error) {
	p, err := b.read(msgType, 2)
	if err != nil {
		return 0, err
	}
	return uint16(p[0])<<8 | uint16(p[1]), nil
}

func (b *Board) read32(msgType byte) (uint32, error) {
	p, err := b.read(msgType, 4)
	if err != nil {
		return 0, err
	}
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]), nil
}

func (b *Board) readString(msgType byte) (string, error) {
	p, err := b.read(msgType, 20)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range p {
		if c == 0 {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

func be32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

// Manufacturer returns the manufacturer string burned into the firmware.
func (b *Board) Manufacturer() (string, error) {
	return b.readString(msgGetManufacturer)
}

// BoardName returns the board name, normally "GoPiGo3".
func (b *Board) BoardName() (string, error) {
	return b.readString(msgGetName)
}

// FirmwareVersion returns the version as major.minor.patch.
func (b *Board) FirmwareVersion() (string, error) {
	v, err := b.read32(msgGetFirmwareVersion)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000), nil
}

// HardwareVersion returns the version as major.minor.patch.
func (b *Board) HardwareVersion() (string, error) {
	v, err := b.read32(msgGetHardwareVersion)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000), nil
}

// SerialNumber returns the 128 bit board id as hex.
func (b *Board) SerialNumber() (string, error) {
	p, err := b.read(msgGetID, 16)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%X", p), nil
}

// Voltage5V returns the 5V rail voltage.
func (b *Board) Voltage5V() (float64, error) {
	v, err := b.read16(msgGetVoltage5V)
	if err != nil {
		return 0, err
	}
	return float64(v) / 1000.0, nil
}

// Voltage returns the battery voltage.
func (b *Board) Voltage() (float64, error) {
	v, err := b.read16(msgGetVoltageVCC)
	if err != nil {
		return 0, err
	}
	return float64(v) / 1000.0, nil
}

// Info is the identity and supply state of a board.
type Info struct {
	Manufacturer    string
	Name            string
	FirmwareVersion string
	HardwareVersion string
	SerialNumber    string
	Voltage5V       float64
	VoltageBattery  float64
}

// Info reads every identity field and both supply voltages.
func (b *Board) Info() (Info, error) {
	var info Info
	var err error
	if info.Manufacturer, err = b.Manufacturer(); err != nil {
		return Info{}, err
	}
	if info.Name, err = b.BoardName(); err != nil {
		return Info{}, err
	}
	if info.FirmwareVersion, err = b.FirmwareVersion(); err != nil {
		return Info{}, err
	}
	if info.HardwareVersion, err = b.HardwareVersion(); err != nil {
		return Info{}, err
	}
	if info.SerialNumber, err = b.SerialNumber(); err != nil {
		return Info{}, err
	}
	if info.Voltage5V, err = b.Voltage5V(); err != nil {
		return Info{}, err
	}
	if info.VoltageBattery, err = b.Voltage(); err != nil {
		return Info{}, err
	}
	return info, nil
}

// SetLED sets the color of the LEDs selected by the flags.
func (b *Board) SetLED(leds uint8, red, green, blue uint8) error {
	return b.write(msgSetLED, leds, red, green, blue)
}

// SetServo sets the pulse width of the servo outputs in microseconds. Zero
// releases the servo.
func (b *Board) SetServo(port ServoPort, pulseMicros uint16) error {
	return b.write(msgSetServo, byte(port), byte(pulseMicros>>8), byte(pulseMicros))
}

// SetMotorPower sets raw PWM power in percent, -100..100, or MotorFloat.
func (b *Board) SetMotorPower(port Motor, power int) error {
	if power != MotorFloat {
		if power > 100 {
			power = 100
		} else if power < -100 {
			power = -100
		}
	}
	return b.write(msgSetMotorPWM, byte(port), byte(int8(power)))
}

// SetMotorPosition runs the motor to an absolute encoder position in degrees.
func (b *Board) SetMotorPosition(port Motor, degrees float64) error {
	ticks := int32(degrees * TicksPerDegree)
	return b.write(append([]byte{msgSetMotorPosition, byte(port)}, be32(ticks)...)...)
}

// SetMotorPositionKP sets the position control proportional gain.
func (b *Board) SetMotorPositionKP(port Motor, kp uint8) error {
	return b.write(msgSetMotorPositionKP, byte(port), kp)
}

// SetMotorPositionKD sets the position control derivative gain.
func (b *Board) SetMotorPositionKD(port Motor, kd uint8) error {
	return b.write(msgSetMotorPositionKD, byte(port), kd)
}

// SetMotorDPS runs the motor at a target speed in degrees per second.
func (b *Board) SetMotorDPS(port Motor, dps float64) error {
	ticks := int16(dps * TicksPerDegree)
	return b.write(msgSetMotorDPS, byte(port), byte(uint16(ticks)>>8), byte(ticks))
}

// SetMotorLimits caps power (percent) and speed (degrees per second). Zero
// means no limit. A positive speed never encodes below one tick per second.
func (b *Board) SetMotorLimits(port Motor, power uint8, dps float64) error {
	ticks := uint16(dps * TicksPerDegree)
	if ticks == 0 && dps > 0 {
		ticks = 1
	}
	return b.write(msgSetMotorLimits, byte(port), power, byte(ticks>>8), byte(ticks))
}

// OffsetMotorEncoder subtracts degrees from the motor encoder.
func (b *Board) OffsetMotorEncoder(port Motor, degrees float64) error {
	ticks := int32(degrees * TicksPerDegree)
	return b.write(append([]byte{msgOffsetMotorEncoder, byte(port)}, be32(ticks)...)...)
}

// MotorEncoder reads the encoder of a single motor in degrees.
func (b *Board) MotorEncoder(port Motor) (int, error) {
	var msgType byte
	switch port {
	case MotorLeft:
		msgType = msgGetEncoderLeft
	case MotorRight:
		msgType = msgGetEncoderRight
	default:
		return 0, errors.Errorf("encoder of %v can not be read, pick one motor", port)
	}
	v, err := b.read32(msgType)
	if err != nil {
		return 0, err
	}
	return int(float64(int32(v)) / TicksPerDegree), nil
}

// MotorStatus reads flags, power, encoder and speed of a single motor.
func (b *Board) MotorStatus(port Motor) (MotorStatus, error) {
	var msgType byte
	switch port {
	case MotorLeft:
		msgType = msgGetStatusLeft
	case MotorRight:
		msgType = msgGetStatusRight
	default:
		return MotorStatus{}, errors.Errorf("status of %v can not be read, pick one motor", port)
	}
	p, err := b.read(msgType, 8)
	if err != nil {
		return MotorStatus{}, err
	}
	enc := int32(uint32(p[2])<<24 | uint32(p[3])<<16 | uint32(p[4])<<8 | uint32(p[5]))
	dps := int16(uint16(p[6])<<8 | uint16(p[7]))
	return MotorStatus{
		Flags:      p[0],
		Power:      int8(p[1]),
		EncoderDeg: int(float64(enc) / TicksPerDegree),
		DPS:        int(float64(dps) / TicksPerDegree),
	}, nil
}

// ResetAll floats both motors, clears the motor limits, releases both servos
// and turns the LEDs off. Every step is attempted even if an earlier one fails.
func (b *Board) ResetAll() error {
	err := multierr.Combine(
		b.SetMotorPower(MotorBoth, MotorFloat),
		b.SetMotorLimits(MotorBoth, 0, 0),
		b.SetServo(ServoBoth, 0),
		b.SetLED(LEDEyeLeft|LEDEyeRight|LEDBlinkerLeft|LEDBlinkerRight, 0, 0, 0),
	)
	return errors.Wrap(err, "reset all")
}

// Detect checks that the connection reaches a GoPiGo3.
func (b *Board) Detect() error {
	var (
		name string
		err  error
	)
	for attempt := 0; attempt < 3; attempt++ {
		name, err = b.Manufacturer()
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		return errors.Wrap(err, "no GoPiGo3 detected")
	}
	if name != Manufacturer {
		return errors.Errorf("no GoPiGo3 detected, manufacturer is %q", name)
	}
	return nil
}
