package gopigo3

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"

	"gopigo3/board"
)

// Controller is one opened GoPiGo3 shared by every resource on its SPI device.
type Controller struct {
	Board  *board.Board
	Robot  *Robot
	device string
	closer io.Closer
}

// Device is the SPI device the controller talks through.
func (c *Controller) Device() string {
	return c.device
}

func (c *Controller) close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// ControllerConfig selects and tunes a board.
type ControllerConfig struct {
	SPIDevice string
	SpeedDPS  float64
	Logger    logging.Logger
}

func configsEqual(a, b ControllerConfig) bool {
	return a.SPIDevice == b.SPIDevice && a.SpeedDPS == b.SpeedDPS
}

type openFunc func(device string) (board.Conn, io.Closer, error)

type controllerEntry struct {
	controller *Controller
	config     ControllerConfig
	refCount   int64
}

// ControllerRegistry hands out reference counted controllers keyed by SPI device.
type ControllerRegistry struct {
	mu      sync.Mutex
	entries map[string]*controllerEntry
	open    openFunc
}

// NewControllerRegistry returns a registry that opens real hardware.
func NewControllerRegistry() *ControllerRegistry {
	return newControllerRegistry(OpenSPI)
}

func newControllerRegistry(open openFunc) *ControllerRegistry {
	return &ControllerRegistry{
		entries: make(map[string]*controllerEntry),
		open:    open,
	}
}

// GetController returns the controller for cfg.SPIDevice, opening and
// detecting the board on first use. Callers must pair it with ReleaseController.
func (r *ControllerRegistry) GetController(cfg ControllerConfig) (*Controller, error) {
	if cfg.SPIDevice == "" {
		cfg.SPIDevice = DefaultSPIDevice
	}
	if cfg.SpeedDPS == 0 {
		cfg.SpeedDPS = DefaultSpeedDPS
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("gopigo3")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[cfg.SPIDevice]; ok {
		if !configsEqual(entry.config, cfg) {
			return nil, fmt.Errorf("conflict: board on %s is already running at %.0f dps (refCount: %d)",
				cfg.SPIDevice, entry.config.SpeedDPS, atomic.LoadInt64(&entry.refCount))
		}
		atomic.AddInt64(&entry.refCount, 1)
		return entry.controller, nil
	}

	conn, closer, err := r.open(cfg.SPIDevice)
	if err != nil {
		return nil, err
	}
	controller, err := newController(cfg, conn, closer)
	if err != nil {
		if closer != nil {
			if cerr := closer.Close(); cerr != nil {
				cfg.Logger.Warnf("error closing %s after failed setup: %v", cfg.SPIDevice, cerr)
			}
		}
		return nil, err
	}

	r.entries[cfg.SPIDevice] = &controllerEntry{controller: controller, config: cfg, refCount: 1}
	cfg.Logger.Infof("opened GoPiGo3 on %s", cfg.SPIDevice)
	return controller, nil
}

func newController(cfg ControllerConfig, conn board.Conn, closer io.Closer) (*Controller, error) {
	b := board.New(conn)
	if err := b.Detect(); err != nil {
		return nil, err
	}
	robot, err := NewRobot(b, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if cfg.SpeedDPS != DefaultSpeedDPS {
		if err := robot.SetSpeed(cfg.SpeedDPS); err != nil {
			return nil, err
		}
	}
	return &Controller{Board: b, Robot: robot, device: cfg.SPIDevice, closer: closer}, nil
}

// ReleaseController drops one reference. The last release resets the board
// and closes the device.
func (r *ControllerRegistry) ReleaseController(device string) {
	if device == "" {
		device = DefaultSPIDevice
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[device]
	if !ok {
		return
	}
	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return
	}
	delete(r.entries, device)

	logger := entry.config.Logger
	if err := entry.controller.Board.ResetAll(); err != nil {
		logger.Warnf("error resetting board on %s: %v", device, err)
	}
	if err := entry.controller.close(); err != nil {
		logger.Warnf("error closing shared controller for %s: %v", device, err)
	}
}

// GetControllerStatus reports the reference count, whether a controller is
// open, and a short description of it.
func (r *ControllerRegistry) GetControllerStatus(device string) (int64, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[device]
	if !ok {
		return 0, false, ""
	}
	summary := fmt.Sprintf("SPI: %s, speed: %.0f dps", entry.config.SPIDevice, entry.config.SpeedDPS)
	return atomic.LoadInt64(&entry.refCount), entry.controller != nil, summary
}
