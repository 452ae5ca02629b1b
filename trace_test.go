package gopigo3

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"

	"gopigo3/board"
	"gopigo3/pathlog"
)

type failingRecordWriter struct {
	calls int
}

func (w *failingRecordWriter) Write(r pathlog.Record) error {
	w.calls++
	return errors.New("disk full")
}

func TestPathTracerWritesOneLinePerStep(t *testing.T) {
	var buf bytes.Buffer
	act := newFakeActuators()
	act.encoders[board.MotorLeft] = 344
	act.encoders[board.MotorRight] = -12

	trace := PathTracer(pathlog.NewWriter(&buf), act, logging.NewTestLogger(t))
	trace(context.Background(), Step{Index: 0, DistanceMM: 812})
	trace(context.Background(), Step{Index: 1, DistanceMM: 240})

	assert.Equal(t,
		"Index : 1,Current distance : 812 mm, Motor Encoder L: 344, Motor Encoder R: -12\r\n"+
			"Index : 2,Current distance : 240 mm, Motor Encoder L: 344, Motor Encoder R: -12\r\n",
		buf.String())
}

func TestPathTracerKeepsGoingOnErrors(t *testing.T) {
	var buf bytes.Buffer
	act := newFakeActuators()
	act.failOn = "encoder"
	act.failErr = errors.New("spi transfer failed")

	trace := PathTracer(pathlog.NewWriter(&buf), act, logging.NewTestLogger(t))
	trace(context.Background(), Step{Index: 7, DistanceMM: 300})
	assert.Equal(t, "Index : 8,Current distance : 300 mm, Motor Encoder L: 0, Motor Encoder R: 0\r\n", buf.String())

	w := &failingRecordWriter{}
	trace = PathTracer(w, newFakeActuators(), logging.NewTestLogger(t))
	trace(context.Background(), Step{Index: 0, DistanceMM: 300})
	assert.Equal(t, 1, w.calls)
}

func TestPathTracerFollowsLoop(t *testing.T) {
	var buf bytes.Buffer
	act := newFakeActuators()
	cfg := testLoopConfig()
	cfg.MaxSteps = 2

	_, err := runLoop(t, context.Background(), cfg, &scriptedSensor{values: []int{400, 401}}, act,
		PathTracer(pathlog.NewWriter(&buf), act, logging.NewTestLogger(t)))
	assert.NoError(t, err)
	assert.Equal(t,
		"Index : 1,Current distance : 400 mm, Motor Encoder L: 0, Motor Encoder R: 0\r\n"+
			"Index : 2,Current distance : 401 mm, Motor Encoder L: 0, Motor Encoder R: 0\r\n",
		buf.String())
}
