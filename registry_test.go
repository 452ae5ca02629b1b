package gopigo3

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"go.viam.com/rdk/logging"

	"gopigo3/board"
	"gopigo3/board/boardtest"
)

// countingCloser counts Close calls
type countingCloser struct {
	closed int64
}

func (c *countingCloser) Close() error {
	atomic.AddInt64(&c.closed, 1)
	return nil
}

// simOpener opens a fresh simulated board for every device and remembers it
type simOpener struct {
	mu      sync.Mutex
	sims    map[string]*boardtest.Sim
	closers map[string]*countingCloser
	opens   int
	err     error
	prepare func(*boardtest.Sim)
}

func newSimOpener() *simOpener {
	return &simOpener{
		sims:    map[string]*boardtest.Sim{},
		closers: map[string]*countingCloser{},
	}
}

func (o *simOpener) open(device string) (board.Conn, io.Closer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, nil, o.err
	}
	o.opens++
	sim := boardtest.NewSim()
	if o.prepare != nil {
		o.prepare(sim)
	}
	closer := &countingCloser{}
	o.sims[device] = sim
	o.closers[device] = closer
	return sim, closer, nil
}

func testControllerConfig(t *testing.T, device string) ControllerConfig {
	return ControllerConfig{
		SPIDevice: device,
		SpeedDPS:  DefaultSpeedDPS,
		Logger:    logging.NewTestLogger(t),
	}
}

// TestRegistryCreation tests basic registry creation and initialization
func TestRegistryCreation(t *testing.T) {
	registry := NewControllerRegistry()

	if registry == nil {
		t.Fatal("NewControllerRegistry returned nil")
	}
	if registry.entries == nil {
		t.Fatal("Registry entries map not initialized")
	}
	if len(registry.entries) != 0 {
		t.Fatal("Registry should start empty")
	}
}

// TestSingleControllerAccess tests basic controller access for a single device
func TestSingleControllerAccess(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")

	controller, err := registry.GetController(config)
	if err != nil {
		t.Fatalf("Failed to get controller: %v", err)
	}
	if controller == nil || controller.Robot == nil || controller.Board == nil {
		t.Fatal("Controller should be fully initialized")
	}
	if controller.Device() != "/dev/spidev0.1" {
		t.Fatalf("Expected device /dev/spidev0.1, got %s", controller.Device())
	}

	refCount, open, summary := registry.GetControllerStatus("/dev/spidev0.1")
	if refCount != 1 || !open {
		t.Fatalf("Expected refCount 1 and open, got %d %v", refCount, open)
	}
	if summary != "SPI: /dev/spidev0.1, speed: 300 dps" {
		t.Fatalf("Unexpected summary %q", summary)
	}

	if got := opener.sims["/dev/spidev0.1"].LimitDPS(); got != DefaultSpeedDPS {
		t.Fatalf("Expected speed limit %d, got %v", DefaultSpeedDPS, got)
	}
}

// TestDefaultsFilled tests that an empty config lands on the default device
func TestDefaultsFilled(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)

	controller, err := registry.GetController(ControllerConfig{Logger: logging.NewTestLogger(t)})
	if err != nil {
		t.Fatalf("Failed to get controller: %v", err)
	}
	if controller.Device() != DefaultSPIDevice {
		t.Fatalf("Expected %s, got %s", DefaultSPIDevice, controller.Device())
	}
	if controller.Robot.Speed() != DefaultSpeedDPS {
		t.Fatalf("Expected default speed, got %v", controller.Robot.Speed())
	}
}

// TestSharedControllerReuse tests that the same config shares one board
func TestSharedControllerReuse(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")

	first, err := registry.GetController(config)
	if err != nil {
		t.Fatalf("first GetController: %v", err)
	}
	second, err := registry.GetController(config)
	if err != nil {
		t.Fatalf("second GetController: %v", err)
	}
	if first != second {
		t.Fatal("Expected the same controller instance")
	}
	if opener.opens != 1 {
		t.Fatalf("Expected one open, got %d", opener.opens)
	}

	refCount, _, _ := registry.GetControllerStatus("/dev/spidev0.1")
	if refCount != 2 {
		t.Fatalf("Expected refCount 2, got %d", refCount)
	}
}

// TestConfigConflict tests that a different speed on the same device is refused
func TestConfigConflict(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")

	if _, err := registry.GetController(config); err != nil {
		t.Fatalf("GetController: %v", err)
	}

	config.SpeedDPS = 500
	if _, err := registry.GetController(config); err == nil {
		t.Fatal("Expected a conflict error for a different speed")
	}

	refCount, _, _ := registry.GetControllerStatus("/dev/spidev0.1")
	if refCount != 1 {
		t.Fatalf("Conflict must not take a reference, refCount %d", refCount)
	}
}

// TestCustomSpeedApplied tests that a non default speed reaches the board
func TestCustomSpeedApplied(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")
	config.SpeedDPS = 450

	controller, err := registry.GetController(config)
	if err != nil {
		t.Fatalf("GetController: %v", err)
	}
	if controller.Robot.Speed() != 450 {
		t.Fatalf("Expected speed 450, got %v", controller.Robot.Speed())
	}
	if got := opener.sims["/dev/spidev0.1"].LimitDPS(); got != 450 {
		t.Fatalf("Expected board limit 450, got %v", got)
	}
}

// TestReleaseResetsAndCloses tests that the last release leaves the robot safe
func TestReleaseResetsAndCloses(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")

	controller, err := registry.GetController(config)
	if err != nil {
		t.Fatalf("GetController: %v", err)
	}
	if _, err := registry.GetController(config); err != nil {
		t.Fatalf("GetController: %v", err)
	}
	if err := controller.Robot.SetServoAngle(t.Context(), board.Servo1, 45); err != nil {
		t.Fatalf("SetServoAngle: %v", err)
	}

	sim := opener.sims["/dev/spidev0.1"]
	closer := opener.closers["/dev/spidev0.1"]

	registry.ReleaseController("/dev/spidev0.1")
	if atomic.LoadInt64(&closer.closed) != 0 {
		t.Fatal("Device closed while still referenced")
	}
	if sim.Servo(board.Servo1) == 0 {
		t.Fatal("Board reset while still referenced")
	}

	registry.ReleaseController("/dev/spidev0.1")
	if atomic.LoadInt64(&closer.closed) != 1 {
		t.Fatalf("Expected one close, got %d", closer.closed)
	}
	if sim.Servo(board.Servo1) != 0 {
		t.Fatal("Expected the servo to be released by the reset")
	}
	if sim.Power(board.MotorLeft) != board.MotorFloat || sim.Power(board.MotorRight) != board.MotorFloat {
		t.Fatal("Expected both motors to float after the reset")
	}

	if _, open, _ := registry.GetControllerStatus("/dev/spidev0.1"); open {
		t.Fatal("Controller should be gone after the last release")
	}

	// releasing an unknown device is a no-op
	registry.ReleaseController("/dev/spidev9.9")
}

// TestReopenAfterRelease tests that a released device is opened again
func TestReopenAfterRelease(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")

	if _, err := registry.GetController(config); err != nil {
		t.Fatalf("GetController: %v", err)
	}
	registry.ReleaseController("/dev/spidev0.1")
	if _, err := registry.GetController(config); err != nil {
		t.Fatalf("GetController after release: %v", err)
	}
	if opener.opens != 2 {
		t.Fatalf("Expected two opens, got %d", opener.opens)
	}
}

// TestOpenFailure tests that open errors are returned and nothing is cached
func TestOpenFailure(t *testing.T) {
	opener := newSimOpener()
	opener.err = errors.New("no such device")
	registry := newControllerRegistry(opener.open)

	if _, err := registry.GetController(testControllerConfig(t, "/dev/spidev0.1")); err == nil {
		t.Fatal("Expected an error when the device can not be opened")
	}
	if len(registry.entries) != 0 {
		t.Fatal("Failed open must not leave an entry behind")
	}
}

// TestWrongBoardClosesDevice tests that a failed detect closes the device
func TestWrongBoardClosesDevice(t *testing.T) {
	opener := newSimOpener()
	opener.prepare = func(sim *boardtest.Sim) { sim.Manufacturer = "Someone Else" }
	registry := newControllerRegistry(opener.open)

	if _, err := registry.GetController(testControllerConfig(t, "/dev/spidev0.1")); err == nil {
		t.Fatal("Expected detect to reject the board")
	}
	if got := atomic.LoadInt64(&opener.closers["/dev/spidev0.1"].closed); got != 1 {
		t.Fatalf("Expected the device to be closed once, got %d", got)
	}
	if len(registry.entries) != 0 {
		t.Fatal("Failed detect must not leave an entry behind")
	}
}

// TestMultipleDevices tests that each device gets its own controller
func TestMultipleDevices(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)

	a, err := registry.GetController(testControllerConfig(t, "/dev/spidev0.0"))
	if err != nil {
		t.Fatalf("GetController: %v", err)
	}
	b, err := registry.GetController(testControllerConfig(t, "/dev/spidev0.1"))
	if err != nil {
		t.Fatalf("GetController: %v", err)
	}
	if a == b {
		t.Fatal("Different devices must not share a controller")
	}
	if len(registry.entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(registry.entries))
	}
}

// TestConcurrentAccess tests concurrent access to the same device
func TestConcurrentAccess(t *testing.T) {
	opener := newSimOpener()
	registry := newControllerRegistry(opener.open)
	config := testControllerConfig(t, "/dev/spidev0.1")

	const numGoroutines = 20
	var wg sync.WaitGroup
	controllers := make([]*Controller, numGoroutines)
	errs := make([]error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			controllers[i], errs[i] = registry.GetController(config)
		}(i)
	}
	wg.Wait()

	for i := 0; i < numGoroutines; i++ {
		if errs[i] != nil {
			t.Fatalf("Goroutine %d failed: %v", i, errs[i])
		}
		if controllers[i] != controllers[0] {
			t.Fatalf("Goroutine %d got a different controller", i)
		}
	}
	if opener.opens != 1 {
		t.Fatalf("Expected one open, got %d", opener.opens)
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.ReleaseController("/dev/spidev0.1")
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&opener.closers["/dev/spidev0.1"].closed); got != 1 {
		t.Fatalf("Expected exactly one close, got %d", got)
	}
}
