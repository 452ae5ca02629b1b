package main

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.viam.com/utils"

	"gopigo3"
	"gopigo3/board"
)

var servoCmd = &cobra.Command{
	Use:   "servo PORT DEGREES",
	Short: "Move SERVO1 or SERVO2 to an angle between 0 and 180",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := board.ParseServoPort(args[0])
		if err != nil {
			return err
		}
		deg, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Wrapf(err, "invalid angle %q", args[1])
		}
		if deg < 0 || deg > 180 {
			return errors.Errorf("angle must be between 0 and 180, got %d", deg)
		}

		controller, release, err := openController()
		if err != nil {
			return err
		}
		// the board is reset on release, which lets the servo go
		defer release()

		if err := controller.Robot.SetServoAngle(cmd.Context(), port, deg); err != nil {
			return err
		}
		logger.Infof("%s at %d degrees (%d us), holding for %v", port, deg, gopigo3.ServoPulse(deg), servoHold)
		utils.SelectContextOrWait(cmd.Context(), servoHold)
		return nil
	},
}

var servoHold time.Duration

func init() {
	servoCmd.Flags().DurationVar(&servoHold, "hold", 5*time.Second, "how long to hold the angle before exiting")
	rootCmd.AddCommand(servoCmd)
}
