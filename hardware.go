package gopigo3

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"gopigo3/board"
)

// DefaultSPIDevice is where the GoPiGo3 sits on a Raspberry Pi.
const DefaultSPIDevice = "/dev/spidev0.1"

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return errors.Wrap(hostErr, "failed to initialize host drivers")
}

// OpenSPI connects to the board on the named SPI device.
func OpenSPI(device string) (board.Conn, io.Closer, error) {
	if err := initHost(); err != nil {
		return nil, nil, err
	}
	if device == "" {
		device = DefaultSPIDevice
	}
	port, err := spireg.Open(device)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open SPI device %s", device)
	}
	conn, err := port.Connect(physic.Frequency(board.SPIFrequencyHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, nil, multiCloseErr(errors.Wrapf(err, "failed to configure SPI device %s", device), port)
	}
	return conn, port, nil
}

// OpenI2C opens the named I2C bus, the first one when name is empty.
func OpenI2C(name string) (i2c.BusCloser, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %q", name)
	}
	return bus, nil
}

func multiCloseErr(err error, c io.Closer) error {
	if cerr := c.Close(); cerr != nil {
		return errors.Wrapf(err, "also failed to close: %v", cerr)
	}
	return err
}
