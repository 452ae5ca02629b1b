package gopigo3

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"gopigo3/distance"
)

var DistanceSensorModel = resource.NewModel("devrel", "gopigo3", "distance")

// ReadingDistanceMM is the Readings key holding the distance in millimetres.
const ReadingDistanceMM = "distance_mm"

func init() {
	resource.RegisterComponent(sensor.API, DistanceSensorModel,
		resource.Registration[sensor.Sensor, *DistanceConfig]{
			Constructor: newDistanceSensor,
		},
	)
}

type distanceSensor struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	reader DistanceReader
	bus    io.Closer
}

func newDistanceSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*DistanceConfig](rawConf)
	if err != nil {
		return nil, err
	}
	bus, err := OpenI2C(conf.I2CBus)
	if err != nil {
		return nil, err
	}
	dev, err := distance.New(bus, uint16(conf.Address), time.Duration(conf.TimeoutMs)*time.Millisecond)
	if err != nil {
		if cerr := bus.Close(); cerr != nil {
			logger.Warnf("error closing I2C bus: %v", cerr)
		}
		return nil, fmt.Errorf("failed to initialize distance sensor: %w", err)
	}
	logger.Infof("distance sensor ready at 0x%02x", conf.Address)
	return NewDistanceSensor(rawConf.ResourceName(), dev, bus, logger), nil
}

// NewDistanceSensor exposes reader as a sensor. bus, if set, is closed with
// the sensor.
func NewDistanceSensor(name resource.Name, reader DistanceReader, bus io.Closer, logger logging.Logger) sensor.Sensor {
	return &distanceSensor{
		Named:  name.AsNamed(),
		logger: logger,
		reader: reader,
		bus:    bus,
	}
}

func (s *distanceSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	mm, err := s.reader.ReadMM(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{ReadingDistanceMM: mm}, nil
}

func (s *distanceSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("unknown command: %v", cmd["command"])
}

func (s *distanceSensor) Close(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}

// sensorDistance reads distance_mm from any sensor, so the avoidance
// service can run on a sensor from another module.
type sensorDistance struct {
	sensor sensor.Sensor
}

func (s sensorDistance) ReadMM(ctx context.Context) (int, error) {
	readings, err := s.sensor.Readings(ctx, nil)
	if err != nil {
		return 0, &SensorError{Err: err}
	}
	switch v := readings[ReadingDistanceMM].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, &SensorError{Err: fmt.Errorf("reading %q missing or not a number: %v", ReadingDistanceMM, readings[ReadingDistanceMM])}
	}
}
