package main

import (
	"github.com/spf13/cobra"

	"gopigo3"
)

var sweepOpts = gopigo3.DefaultSweepOptions()

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Swing both wheels back and forth by encoder position",
	Long: `sweep zeroes the encoders, ramps both wheels to +amplitude degrees and then
swings them between -amplitude and +amplitude until interrupted or until
--passes passes are done. The board is reset on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, release, err := openController()
		if err != nil {
			return err
		}
		defer release()
		return gopigo3.Sweep(cmd.Context(), controller.Robot, sweepOpts, logger)
	},
}

func init() {
	f := sweepCmd.Flags()
	f.IntVar(&sweepOpts.AmplitudeDeg, "amplitude", sweepOpts.AmplitudeDeg, "furthest wheel position in degrees")
	f.DurationVar(&sweepOpts.Interval, "interval", sweepOpts.Interval, "time per degree")
	f.IntVar(&sweepOpts.Passes, "passes", 0, "number of passes, 0 sweeps until interrupted")
	rootCmd.AddCommand(sweepCmd)
}
