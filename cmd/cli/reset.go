package main

import (
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Float the motors, release the servos and turn the LEDs off",
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, release, err := openController()
		if err != nil {
			return err
		}
		defer release()

		if err := controller.Robot.ResetAll(cmd.Context()); err != nil {
			return err
		}
		info, err := controller.Board.Info()
		if err != nil {
			logger.Warnf("failed to read board info: %v", err)
			return nil
		}
		logger.Infof("%s reset (hardware %s, firmware %s, serial %s), battery at %.2f V, 5V rail at %.2f V",
			info.Name, info.HardwareVersion, info.FirmwareVersion, info.SerialNumber,
			info.VoltageBattery, info.Voltage5V)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
