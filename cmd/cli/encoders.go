package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/utils"

	"gopigo3"
	"gopigo3/board"
)

var encodersOpts struct {
	interval time.Duration
	zero     bool
	follow   bool
}

var encodersCmd = &cobra.Command{
	Use:   "encoders",
	Short: "Print the wheel encoders",
	Long: `encoders prints both wheel encoders in degrees. With --follow it keeps
printing so the wheels can be turned by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		controller, release, err := openController()
		if err != nil {
			return err
		}
		defer release()

		robot := controller.Robot
		if encodersOpts.zero {
			if err := gopigo3.ZeroEncoders(ctx, robot); err != nil {
				return err
			}
		}
		for {
			left, err := robot.MotorEncoder(ctx, board.MotorLeft)
			if err != nil {
				return err
			}
			right, err := robot.MotorEncoder(ctx, board.MotorRight)
			if err != nil {
				return err
			}
			fmt.Printf("Motor Encoder L: %d, Motor Encoder R: %d\n", left, right)

			if !encodersOpts.follow || !utils.SelectContextOrWait(ctx, encodersOpts.interval) {
				return nil
			}
		}
	},
}

func init() {
	f := encodersCmd.Flags()
	f.DurationVar(&encodersOpts.interval, "interval", time.Second, "time between readings with --follow")
	f.BoolVar(&encodersOpts.zero, "zero", false, "zero the encoders first")
	f.BoolVar(&encodersOpts.follow, "follow", false, "keep printing until interrupted")
	rootCmd.AddCommand(encodersCmd)
}
