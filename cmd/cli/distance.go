package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/utils"
)

var distanceOpts struct {
	i2cBus   string
	interval time.Duration
	count    int
}

var distanceCmd = &cobra.Command{
	Use:   "distance",
	Short: "Print distance sensor readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sensor, closeSensor, err := openDistanceSensor(distanceOpts.i2cBus)
		if err != nil {
			return err
		}
		defer closeSensor()

		for i := 0; distanceOpts.count == 0 || i < distanceOpts.count; i++ {
			mm, err := sensor.ReadMM(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warnf("distance read failed: %v", err)
			} else {
				fmt.Printf("%d mm\n", mm)
			}
			if !utils.SelectContextOrWait(ctx, distanceOpts.interval) {
				return nil
			}
		}
		return nil
	},
}

func init() {
	f := distanceCmd.Flags()
	f.StringVar(&distanceOpts.i2cBus, "i2c", "", "I2C bus of the distance sensor")
	f.DurationVar(&distanceOpts.interval, "interval", 500*time.Millisecond, "time between readings")
	f.IntVar(&distanceOpts.count, "count", 0, "number of readings, 0 reads until interrupted")
	rootCmd.AddCommand(distanceCmd)
}
