package distance

import (
	"context"

	"github.com/pkg/errors"
)

const (
	regSystemSequenceConfig  = 0x01
	regSystemInterruptGPIO   = 0x0A
	regMinCountRateRtnLimit  = 0x44
	regDynamicSpadNumRefSpad = 0x4E
	regDynamicSpadRefStart   = 0x4F
	regMSRCConfigControl     = 0x60
	regGPIOHVMuxActiveHigh   = 0x84
	regVHVConfigPadSCLSDA    = 0x89
	regSpadEnablesRef0       = 0xB0
	regRefEnStartSelect      = 0xB6

	spadMapBytes = 6

	// 0.25 MCPS in 9.7 fixed point
	defaultSignalRateLimit = 0x0020
)

// tuningSettings is the vendor's default register tuning table.
var tuningSettings = [][2]byte{
	{0xFF, 0x01}, {0x00, 0x00}, {0xFF, 0x00}, {0x09, 0x00}, {0x10, 0x00},
	{0x11, 0x00}, {0x24, 0x01}, {0x25, 0xFF}, {0x75, 0x00}, {0xFF, 0x01},
	{0x4E, 0x2C}, {0x48, 0x00}, {0x30, 0x20}, {0xFF, 0x00}, {0x30, 0x09},
	{0x54, 0x00}, {0x31, 0x04}, {0x32, 0x03}, {0x40, 0x83}, {0x46, 0x25},
	{0x60, 0x00}, {0x27, 0x00}, {0x50, 0x06}, {0x51, 0x00}, {0x52, 0x96},
	{0x56, 0x08}, {0x57, 0x30}, {0x61, 0x00}, {0x62, 0x00}, {0x64, 0x00},
	{0x65, 0x00}, {0x66, 0xA0}, {0xFF, 0x01}, {0x22, 0x32}, {0x47, 0x14},
	{0x49, 0xFF}, {0x4A, 0x00}, {0xFF, 0x00}, {0x7A, 0x0A}, {0x7B, 0x00},
	{0x78, 0x21}, {0xFF, 0x01}, {0x23, 0x34}, {0x42, 0x00}, {0x44, 0xFF},
	{0x45, 0x26}, {0x46, 0x05}, {0x40, 0x40}, {0x0E, 0x06}, {0x20, 0x1A},
	{0x43, 0x40}, {0xFF, 0x00}, {0x34, 0x03}, {0x35, 0x44}, {0xFF, 0x01},
	{0x31, 0x04}, {0x4B, 0x09}, {0x4C, 0x05}, {0x4D, 0x04}, {0xFF, 0x00},
	{0x44, 0x00}, {0x45, 0x20}, {0x47, 0x08}, {0x48, 0x28}, {0x67, 0x00},
	{0x70, 0x04}, {0x71, 0x01}, {0x72, 0xFE}, {0x76, 0x00}, {0x77, 0x00},
	{0xFF, 0x01}, {0x0D, 0x01}, {0xFF, 0x00}, {0x80, 0x01}, {0x01, 0xF8},
	{0xFF, 0x01}, {0x8E, 0x01}, {0x00, 0x01}, {0xFF, 0x00}, {0x80, 0x00},
}

func (s *Sensor) writeBlock(reg byte, data []byte) error {
	if err := s.bus.Tx(s.addr, append([]byte{reg}, data...), nil); err != nil {
		return errors.Wrapf(err, "failed to write register 0x%02x", reg)
	}
	return nil
}

func (s *Sensor) readBlock(reg byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := s.bus.Tx(s.addr, []byte{reg}, r); err != nil {
		return nil, errors.Wrapf(err, "failed to read register 0x%02x", reg)
	}
	return r, nil
}

// updateReg sets the bits in or and clears the bits in clear.
func (s *Sensor) updateReg(reg, or, clear byte) error {
	v, err := s.readReg(reg)
	if err != nil {
		return errors.Wrapf(err, "failed to read register 0x%02x", reg)
	}
	return s.writeReg(reg, (v|or)&^clear)
}

// initialize runs the data init, static init and reference calibration the vendor
// API performs before the first measurement. The timing budget stays at the
// sensor's power on default.
func (s *Sensor) initialize(ctx context.Context) error {
	// 2V8 I/O mode, then standard I2C
	if err := s.updateReg(regVHVConfigPadSCLSDA, 0x01, 0); err != nil {
		return err
	}
	if err := s.writeReg(0x88, 0x00); err != nil {
		return err
	}

	// The stop variable is read once from the private register page and
	// written back before every measurement.
	if err := s.writeRegs([][2]byte{{0x80, 0x01}, {0xFF, 0x01}, {0x00, 0x00}}); err != nil {
		return err
	}
	var err error
	if s.stop, err = s.readReg(regStopVariable); err != nil {
		return errors.Wrap(err, "failed to read stop variable")
	}
	if err := s.writeRegs([][2]byte{{0x00, 0x01}, {0xFF, 0x00}, {0x80, 0x00}}); err != nil {
		return err
	}

	// disable the MSRC and pre-range signal rate limit checks
	if err := s.updateReg(regMSRCConfigControl, 0x12, 0); err != nil {
		return err
	}
	if err := s.writeBlock(regMinCountRateRtnLimit, []byte{defaultSignalRateLimit >> 8, defaultSignalRateLimit & 0xFF}); err != nil {
		return err
	}
	if err := s.writeReg(regSystemSequenceConfig, 0xFF); err != nil {
		return err
	}

	if err := s.initReferenceSpads(ctx); err != nil {
		return errors.Wrap(err, "reference SPAD setup")
	}
	if err := s.writeRegs(tuningSettings); err != nil {
		return err
	}

	// interrupt on new sample ready, active low
	if err := s.writeReg(regSystemInterruptGPIO, 0x04); err != nil {
		return err
	}
	if err := s.updateReg(regGPIOHVMuxActiveHigh, 0, 0x10); err != nil {
		return err
	}
	if err := s.writeReg(regSystemInterruptClr, 0x01); err != nil {
		return err
	}
	if err := s.writeReg(regSystemSequenceConfig, 0xE8); err != nil {
		return err
	}

	if err := s.writeReg(regSystemSequenceConfig, 0x01); err != nil {
		return err
	}
	if err := s.singleRefCalibration(ctx, 0x40); err != nil {
		return errors.Wrap(err, "VHV calibration")
	}
	if err := s.writeReg(regSystemSequenceConfig, 0x02); err != nil {
		return err
	}
	if err := s.singleRefCalibration(ctx, 0x00); err != nil {
		return errors.Wrap(err, "phase calibration")
	}
	return s.writeReg(regSystemSequenceConfig, 0xE8)
}

// spadInfo reads the reference SPAD count and type from the NVM.
func (s *Sensor) spadInfo(ctx context.Context) (count byte, aperture bool, err error) {
	if err := s.writeRegs([][2]byte{{0x80, 0x01}, {0xFF, 0x01}, {0x00, 0x00}, {0xFF, 0x06}}); err != nil {
		return 0, false, err
	}
	if err := s.updateReg(0x83, 0x04, 0); err != nil {
		return 0, false, err
	}
	if err := s.writeRegs([][2]byte{{0xFF, 0x07}, {0x81, 0x01}, {0x80, 0x01}, {0x94, 0x6B}, {0x83, 0x00}}); err != nil {
		return 0, false, err
	}
	if err := s.waitFor(ctx, 0x83, func(v byte) bool { return v != 0 }); err != nil {
		return 0, false, err
	}
	if err := s.writeReg(0x83, 0x01); err != nil {
		return 0, false, err
	}
	v, err := s.readReg(0x92)
	if err != nil {
		return 0, false, err
	}
	if err := s.writeRegs([][2]byte{{0x81, 0x00}, {0xFF, 0x06}}); err != nil {
		return 0, false, err
	}
	if err := s.updateReg(0x83, 0, 0x04); err != nil {
		return 0, false, err
	}
	if err := s.writeRegs([][2]byte{{0xFF, 0x01}, {0x00, 0x01}, {0xFF, 0x00}, {0x80, 0x00}}); err != nil {
		return 0, false, err
	}
	return v & 0x7F, v&0x80 != 0, nil
}

func (s *Sensor) initReferenceSpads(ctx context.Context) error {
	count, aperture, err := s.spadInfo(ctx)
	if err != nil {
		return err
	}
	spadMap, err := s.readBlock(regSpadEnablesRef0, spadMapBytes)
	if err != nil {
		return err
	}
	if err := s.writeRegs([][2]byte{
		{0xFF, 0x01},
		{regDynamicSpadRefStart, 0x00},
		{regDynamicSpadNumRefSpad, 0x2C},
		{0xFF, 0x00},
		{regRefEnStartSelect, 0xB4},
	}); err != nil {
		return err
	}
	return s.writeBlock(regSpadEnablesRef0, enableReferenceSpads(spadMap, count, aperture))
}

// enableReferenceSpads keeps the first count good SPADs of the requested
// type enabled. Aperture SPADs start at index 12.
func enableReferenceSpads(spadMap []byte, count byte, aperture bool) []byte {
	out := append([]byte(nil), spadMap...)
	first := 0
	if aperture {
		first = 12
	}
	var enabled byte
	for i := 0; i < len(out)*8; i++ {
		bit := byte(1) << (i % 8)
		switch {
		case i < first || enabled == count:
			out[i/8] &^= bit
		case out[i/8]&bit != 0:
			enabled++
		}
	}
	return out
}

func (s *Sensor) singleRefCalibration(ctx context.Context, vhvInit byte) error {
	if err := s.writeReg(regSysRangeStart, 0x01|vhvInit); err != nil {
		return err
	}
	if err := s.waitFor(ctx, regResultInterrupt, func(v byte) bool { return v&0x07 != 0 }); err != nil {
		return err
	}
	return s.writeRegs([][2]byte{{regSystemInterruptClr, 0x01}, {regSysRangeStart, 0x00}})
}
