package main

import (
	"context"

	"github.com/spf13/cobra"

	"gopigo3"
	"gopigo3/board"
	"gopigo3/pathlog"
)

var avoidOpts struct {
	loop        gopigo3.LoopConfig
	i2cBus      string
	servo1      int
	servo2      int
	zero        bool
	logFile     string
	noLog       bool
	nonBlocking bool
}

var avoidCmd = &cobra.Command{
	Use:   "avoid",
	Short: "Run the obstacle avoidance loop",
	Long: `avoid parks both servos, zeroes the wheel encoders and drives forward in
small steps until an obstacle comes within the threshold. It then turns around,
drives back the distance it travelled and turns once more. The run ends after
max-steps consecutive clear steps. Ctrl+C stops the wheels and resets the board.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		controller, release, err := openController()
		if err != nil {
			return err
		}
		defer release()

		sensor, closeSensor, err := openDistanceSensor(avoidOpts.i2cBus)
		if err != nil {
			return err
		}
		defer closeSensor()

		robot := controller.Robot
		servos := []gopigo3.ServoPosition{
			{Port: board.Servo1, Degrees: avoidOpts.servo1},
			{Port: board.Servo2, Degrees: avoidOpts.servo2},
		}
		if err := gopigo3.PositionServos(ctx, robot, servos); err != nil {
			return err
		}
		if avoidOpts.zero {
			if err := gopigo3.ZeroEncoders(ctx, robot); err != nil {
				return err
			}
		}

		var observers []gopigo3.StepObserver
		observers = append(observers, func(_ context.Context, step gopigo3.Step) {
			logger.Infof("#%d %d mm %s counter=%d %v", step.Index, step.DistanceMM, step.State, step.Counter, step.Commands)
		})
		if !avoidOpts.noLog {
			w, err := pathlog.Open(avoidOpts.logFile)
			if err != nil {
				logger.Warnf("path log disabled: %v", err)
			} else {
				defer w.Close()
				observers = append(observers, gopigo3.PathTracer(w, robot, logger))
			}
		}

		cfg := avoidOpts.loop
		cfg.Blocking = !avoidOpts.nonBlocking
		loop, err := gopigo3.NewLoop(cfg, sensor, robot, logger, observers...)
		if err != nil {
			return err
		}
		sum, err := loop.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("interrupted, robot reset")
				return nil
			}
			return err
		}
		logger.Infof("done: %d cycles, completed=%v", sum.Cycles, sum.Completed)
		return nil
	},
}

func init() {
	d := gopigo3.DefaultLoopConfig()
	f := avoidCmd.Flags()
	f.IntVar(&avoidOpts.loop.ThresholdMM, "threshold", d.ThresholdMM, "clearance threshold in mm")
	f.IntVar(&avoidOpts.loop.StepCm, "step", d.StepCm, "forward step in cm")
	f.IntVar(&avoidOpts.loop.MaxSteps, "max-steps", d.MaxSteps, "consecutive clear steps that end the run")
	f.Float64Var(&avoidOpts.loop.TurnDegrees, "turn", d.TurnDegrees, "turn when an obstacle is seen, in degrees")
	f.Float64Var(&avoidOpts.loop.ExitTurnDegrees, "exit-turn", d.ExitTurnDegrees, "turn after backing out, in degrees")
	f.IntVar(&avoidOpts.loop.MaxCycles, "max-cycles", d.MaxCycles, "upper bound on distance samples")
	f.IntVar(&avoidOpts.loop.SensorRetries, "sensor-retries", d.SensorRetries, "retries for a failed distance read")
	f.DurationVar(&avoidOpts.loop.RetryBackoff, "retry-backoff", d.RetryBackoff, "wait between distance read retries")
	f.BoolVar(&avoidOpts.nonBlocking, "non-blocking", false, "do not wait for moves to finish")
	f.StringVar(&avoidOpts.i2cBus, "i2c", "", "I2C bus of the distance sensor")
	f.IntVar(&avoidOpts.servo1, "servo1", 90, "SERVO1 angle")
	f.IntVar(&avoidOpts.servo2, "servo2", 90, "SERVO2 angle")
	f.BoolVar(&avoidOpts.zero, "zero-encoders", true, "zero the wheel encoders before starting")
	f.StringVar(&avoidOpts.logFile, "log", pathlog.DefaultFile, "path trace file")
	f.BoolVar(&avoidOpts.noLog, "no-log", false, "do not write the path trace")
	rootCmd.AddCommand(avoidCmd)
}
