package gopigo3

import (
	"fmt"
	"time"

	"go.viam.com/rdk/resource"

	"gopigo3/board"
	"gopigo3/distance"
)

// BoardConfig picks the board a component runs on.
type BoardConfig struct {
	SPIDevice string  `json:"spi_device,omitempty"` // SPI device path (default: /dev/spidev0.1)
	SpeedDPS  float64 `json:"speed_dps,omitempty"`  // Wheel speed limit in degrees per second (default: 300)
}

func (cfg *BoardConfig) validate(path string) error {
	if cfg.SPIDevice == "" {
		cfg.SPIDevice = DefaultSPIDevice
	}
	if cfg.SpeedDPS == 0 {
		cfg.SpeedDPS = DefaultSpeedDPS
	}
	if cfg.SpeedDPS < MinSpeedDPS || cfg.SpeedDPS > MaxSpeedDPS {
		return resource.NewConfigValidationError(path,
			fmt.Errorf("speed_dps must be between %d and %d, got %g", MinSpeedDPS, MaxSpeedDPS, cfg.SpeedDPS))
	}
	return nil
}

func (cfg *BoardConfig) controllerConfig() ControllerConfig {
	return ControllerConfig{SPIDevice: cfg.SPIDevice, SpeedDPS: cfg.SpeedDPS}
}

// BaseConfig configures the differential drive base.
type BaseConfig struct {
	BoardConfig
}

// Validate ensures all parts of the config are valid
func (cfg *BaseConfig) Validate(path string) ([]string, []string, error) {
	if err := cfg.BoardConfig.validate(path); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

// ServoConfig configures one of the two servo ports.
type ServoConfig struct {
	BoardConfig
	Port                 string `json:"port"`                             // SERVO1 or SERVO2
	StartingPositionDegs *int   `json:"starting_position_degs,omitempty"` // Moved to on construction
}

// Validate ensures all parts of the config are valid
func (cfg *ServoConfig) Validate(path string) ([]string, []string, error) {
	if err := cfg.BoardConfig.validate(path); err != nil {
		return nil, nil, err
	}
	if cfg.Port == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "port")
	}
	if _, err := board.ParseServoPort(cfg.Port); err != nil {
		return nil, nil, resource.NewConfigValidationError(path, err)
	}
	if p := cfg.StartingPositionDegs; p != nil && (*p < 0 || *p > 180) {
		return nil, nil, resource.NewConfigValidationError(path,
			fmt.Errorf("starting_position_degs must be between 0 and 180, got %d", *p))
	}
	return nil, nil, nil
}

// EncoderConfig configures a wheel encoder.
type EncoderConfig struct {
	BoardConfig
	Motor string `json:"motor"` // left or right
}

// Validate ensures all parts of the config are valid
func (cfg *EncoderConfig) Validate(path string) ([]string, []string, error) {
	if err := cfg.BoardConfig.validate(path); err != nil {
		return nil, nil, err
	}
	if cfg.Motor == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "motor")
	}
	if _, err := board.ParseMotor(cfg.Motor); err != nil {
		return nil, nil, resource.NewConfigValidationError(path, err)
	}
	return nil, nil, nil
}

// DistanceConfig configures the time of flight distance sensor.
type DistanceConfig struct {
	I2CBus    string `json:"i2c_bus,omitempty"`    // I2C bus name, first bus when empty
	Address   int    `json:"address,omitempty"`    // 7 bit address (default: 0x29)
	TimeoutMs int    `json:"timeout_ms,omitempty"` // Measurement timeout (default: 500)
}

// Validate ensures all parts of the config are valid
func (cfg *DistanceConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Address == 0 {
		cfg.Address = distance.DefaultAddress
	}
	if cfg.Address < 0x08 || cfg.Address > 0x77 {
		return nil, nil, resource.NewConfigValidationError(path,
			fmt.Errorf("address must be a 7 bit I2C address, got 0x%x", cfg.Address))
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 500
	}
	if cfg.TimeoutMs < 0 {
		return nil, nil, resource.NewConfigValidationError(path, fmt.Errorf("timeout_ms cannot be negative"))
	}
	return nil, nil, nil
}

// AvoidanceConfig configures the obstacle avoidance service. Zero values
// take the loop defaults.
type AvoidanceConfig struct {
	BoardConfig
	DistanceSensor string `json:"distance_sensor"` // Name of a sensor reporting distance_mm

	ThresholdMM     int      `json:"threshold_mm,omitempty"`
	StepCm          int      `json:"step_cm,omitempty"`
	MaxSteps        int      `json:"max_steps,omitempty"`
	TurnDegrees     *float64 `json:"turn_degrees,omitempty"`
	ExitTurnDegrees *float64 `json:"exit_turn_degrees,omitempty"`
	MaxCycles       int      `json:"max_cycles,omitempty"`
	SensorRetries   *int     `json:"sensor_retries,omitempty"`
	RetryBackoffMs  *int     `json:"retry_backoff_ms,omitempty"`
	NonBlocking     bool     `json:"non_blocking,omitempty"`

	Servo1Degs    *int   `json:"servo1_degs,omitempty"` // default: 90
	Servo2Degs    *int   `json:"servo2_degs,omitempty"` // default: 90
	ZeroEncoders  bool   `json:"zero_encoders,omitempty"`
	PathLog       string `json:"path_log,omitempty"` // Path trace file, disabled when empty
	StartOnCreate bool   `json:"start_on_create,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *AvoidanceConfig) Validate(path string) ([]string, []string, error) {
	if err := cfg.BoardConfig.validate(path); err != nil {
		return nil, nil, err
	}
	if cfg.DistanceSensor == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "distance_sensor")
	}
	for name, deg := range map[string]*int{"servo1_degs": cfg.Servo1Degs, "servo2_degs": cfg.Servo2Degs} {
		if deg != nil && (*deg < 0 || *deg > 180) {
			return nil, nil, resource.NewConfigValidationError(path,
				fmt.Errorf("%s must be between 0 and 180, got %d", name, *deg))
		}
	}
	if err := cfg.LoopConfig().Validate(); err != nil {
		return nil, nil, resource.NewConfigValidationError(path, err)
	}
	return []string{cfg.DistanceSensor}, nil, nil
}

// LoopConfig overlays the configured values on DefaultLoopConfig.
func (cfg *AvoidanceConfig) LoopConfig() LoopConfig {
	lc := DefaultLoopConfig()
	if cfg.ThresholdMM != 0 {
		lc.ThresholdMM = cfg.ThresholdMM
	}
	if cfg.StepCm != 0 {
		lc.StepCm = cfg.StepCm
	}
	if cfg.MaxSteps != 0 {
		lc.MaxSteps = cfg.MaxSteps
	}
	if cfg.TurnDegrees != nil {
		lc.TurnDegrees = *cfg.TurnDegrees
	}
	if cfg.ExitTurnDegrees != nil {
		lc.ExitTurnDegrees = *cfg.ExitTurnDegrees
	}
	if cfg.MaxCycles != 0 {
		lc.MaxCycles = cfg.MaxCycles
	}
	if cfg.SensorRetries != nil {
		lc.SensorRetries = *cfg.SensorRetries
	}
	if cfg.RetryBackoffMs != nil {
		lc.RetryBackoff = time.Duration(*cfg.RetryBackoffMs) * time.Millisecond
	}
	lc.Blocking = !cfg.NonBlocking
	return lc
}

// ServoPositions returns the parking angles for both servos.
func (cfg *AvoidanceConfig) ServoPositions() []ServoPosition {
	positions := DefaultServoPositions()
	if cfg.Servo1Degs != nil {
		positions[0].Degrees = *cfg.Servo1Degs
	}
	if cfg.Servo2Degs != nil {
		positions[1].Degrees = *cfg.Servo2Degs
	}
	return positions
}
