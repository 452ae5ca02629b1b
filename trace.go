package gopigo3

import (
	"context"

	"go.viam.com/rdk/logging"

	"gopigo3/board"
	"gopigo3/pathlog"
)

// recordWriter is satisfied by *pathlog.Writer.
type recordWriter interface {
	Write(r pathlog.Record) error
}

// PathTracer returns an observer that appends one record per loop step,
// numbered from 1. Encoder and write failures are logged and do not stop the loop.
func PathTracer(w recordWriter, act Actuators, logger logging.Logger) StepObserver {
	return func(ctx context.Context, step Step) {
		rec := pathlog.Record{Index: step.Index + 1, DistanceMM: step.DistanceMM}

		var err error
		if rec.EncoderLeft, err = act.MotorEncoder(ctx, board.MotorLeft); err != nil {
			logger.Warnf("path trace: %v", err)
		}
		if rec.EncoderRight, err = act.MotorEncoder(ctx, board.MotorRight); err != nil {
			logger.Warnf("path trace: %v", err)
		}
		if err := w.Write(rec); err != nil {
			logger.Warnf("path trace: %v", err)
		}
	}
}
