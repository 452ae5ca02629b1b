// Command gopigo3-cli drives a GoPiGo3 directly, without viam-server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"

	"gopigo3"
	"gopigo3/distance"
)

var (
	logger = logging.NewLogger("gopigo3-cli")

	spiDevice string
	speedDPS  float64
)

var rootCmd = &cobra.Command{
	Use:           "gopigo3-cli",
	Short:         "Drive a GoPiGo3 from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			logger.SetLevel(logging.DEBUG)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&spiDevice, "spi", gopigo3.DefaultSPIDevice, "SPI device of the GoPiGo3")
	rootCmd.PersistentFlags().Float64Var(&speedDPS, "speed", gopigo3.DefaultSpeedDPS, "wheel speed limit in degrees per second")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}

func main() {
	err := realMain()
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func realMain() error {
	// Ctrl+C and SIGTERM cancel the command, which runs its safe shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// openController opens the board and returns a release func.
func openController() (*gopigo3.Controller, func(), error) {
	cfg := gopigo3.ControllerConfig{SPIDevice: spiDevice, SpeedDPS: speedDPS, Logger: logger}
	controller, err := gopigo3.GetSharedController(cfg)
	if err != nil {
		return nil, nil, err
	}
	return controller, func() { gopigo3.ReleaseSharedController(controller.Device()) }, nil
}

// openDistanceSensor opens the distance sensor on the named I2C bus.
func openDistanceSensor(bus string) (*distance.Sensor, func(), error) {
	b, err := gopigo3.OpenI2C(bus)
	if err != nil {
		return nil, nil, err
	}
	sensor, err := distance.New(b, distance.DefaultAddress, 0)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return sensor, func() {
		if err := b.Close(); err != nil {
			logger.Warnf("error closing I2C bus: %v", err)
		}
	}, nil
}
