// discovery.go
package gopigo3

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/components/servo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"

	"gopigo3/board"
	"gopigo3/distance"
)

var DiscoveryModel = resource.NewModel("devrel", "gopigo3", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newDiscovery,
		})
}

// DiscoveryConfig is the configuration for the discovery service
type DiscoveryConfig struct{}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

// prober looks for hardware. The default implementation goes through periph.
type prober interface {
	SPIDevices() []string
	I2CBuses() []string
	HasBoard(device string) bool
	HasDistanceSensor(bus string) bool
}

type gopigoDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	logger logging.Logger
	probe  prober
}

func newDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	if _, err := resource.NativeConfig[*DiscoveryConfig](conf); err != nil {
		return nil, err
	}
	return &gopigoDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
		probe:  periphProber{},
	}, nil
}

// DiscoverResources probes SPI devices for a GoPiGo3 and I2C buses for a
// distance sensor and returns the matching component configurations.
func (dis *gopigoDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting GoPiGo3 discovery")

	candidates := filterCandidateDevices(dis.probe.SPIDevices())
	dis.logger.Debugf("Found %d candidate SPI devices", len(candidates))

	var allConfigs []resource.Config
	for _, device := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if !dis.probe.HasBoard(device) {
			dis.logger.Debugf("No GoPiGo3 on %s", device)
			continue
		}
		dis.logger.Infof("Discovered GoPiGo3 on %s", device)

		bus, found := dis.findDistanceSensor(ctx)
		allConfigs = append(allConfigs, generateConfigs(device, bus, found)...)
		// one board per robot
		break
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No GoPiGo3 discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}
	return allConfigs, nil
}

func (dis *gopigoDiscovery) findDistanceSensor(ctx context.Context) (string, bool) {
	for _, bus := range dis.probe.I2CBuses() {
		if ctx.Err() != nil {
			return "", false
		}
		if dis.probe.HasDistanceSensor(bus) {
			dis.logger.Infof("Discovered distance sensor on I2C bus %s", bus)
			return bus, true
		}
	}
	return "", false
}

// generateConfigs creates the component configurations for one board.
func generateConfigs(device, i2cBus string, hasDistance bool) []resource.Config {
	suffix := extractDeviceSuffix(device)
	boardAttrs := func(extra map[string]interface{}) map[string]interface{} {
		attrs := map[string]interface{}{"spi_device": device}
		for k, v := range extra {
			attrs[k] = v
		}
		return attrs
	}

	configs := []resource.Config{
		{
			Name:       "gopigo3-base-" + suffix,
			API:        base.API,
			Model:      BaseModel,
			Attributes: boardAttrs(nil),
		},
		{
			Name:       "gopigo3-encoder-left-" + suffix,
			API:        encoder.API,
			Model:      EncoderModel,
			Attributes: boardAttrs(map[string]interface{}{"motor": "left"}),
		},
		{
			Name:       "gopigo3-encoder-right-" + suffix,
			API:        encoder.API,
			Model:      EncoderModel,
			Attributes: boardAttrs(map[string]interface{}{"motor": "right"}),
		},
		{
			Name:       "gopigo3-servo1-" + suffix,
			API:        servo.API,
			Model:      ServoModel,
			Attributes: boardAttrs(map[string]interface{}{"port": board.Servo1.String()}),
		},
		{
			Name:       "gopigo3-servo2-" + suffix,
			API:        servo.API,
			Model:      ServoModel,
			Attributes: boardAttrs(map[string]interface{}{"port": board.Servo2.String()}),
		},
	}

	if hasDistance {
		sensorName := "gopigo3-distance-" + suffix
		configs = append(configs,
			resource.Config{
				Name:       sensorName,
				API:        sensor.API,
				Model:      DistanceSensorModel,
				Attributes: map[string]interface{}{"i2c_bus": i2cBus},
			},
			resource.Config{
				Name:       "gopigo3-obstacle-avoidance-" + suffix,
				API:        generic.API,
				Model:      ObstacleAvoidanceModel,
				Attributes: boardAttrs(map[string]interface{}{"distance_sensor": sensorName}),
			},
		)
	}
	return configs
}

// filterCandidateDevices keeps SPI device nodes, deduplicated and sorted
// with chip select 1, where the GoPiGo3 sits, first.
func filterCandidateDevices(devices []string) []string {
	seen := map[string]bool{}
	candidates := []string{}
	for _, d := range devices {
		if !strings.HasPrefix(d, "/dev/spidev") || seen[d] {
			continue
		}
		seen[d] = true
		candidates = append(candidates, d)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := strings.HasSuffix(candidates[i], ".1"), strings.HasSuffix(candidates[j], ".1")
		if ci != cj {
			return ci
		}
		return candidates[i] < candidates[j]
	})
	return candidates
}

// extractDeviceSuffix turns a device path into a name friendly suffix
// /dev/spidev0.1 -> "spidev0-1"
func extractDeviceSuffix(device string) string {
	return strings.ReplaceAll(filepath.Base(device), ".", "-")
}

type periphProber struct{}

func (periphProber) SPIDevices() []string {
	if err := initHost(); err != nil {
		return nil
	}
	var names []string
	for _, ref := range spireg.All() {
		names = append(names, ref.Name)
	}
	return names
}

func (periphProber) I2CBuses() []string {
	if err := initHost(); err != nil {
		return nil
	}
	var names []string
	for _, ref := range i2creg.All() {
		names = append(names, ref.Name)
	}
	return names
}

func (periphProber) HasBoard(device string) bool {
	conn, closer, err := OpenSPI(device)
	if err != nil {
		return false
	}
	defer closer.Close()
	return board.New(conn).Detect() == nil
}

func (periphProber) HasDistanceSensor(bus string) bool {
	b, err := OpenI2C(bus)
	if err != nil {
		return false
	}
	defer b.Close()
	_, err = distance.New(b, distance.DefaultAddress, 0)
	return err == nil
}
