package gopigo3

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
)

// blockingSensor never answers until its context ends.
type blockingSensor struct{}

func (blockingSensor) ReadMM(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func newTestAvoidance(t *testing.T, conf *AvoidanceConfig, act Actuators, reader DistanceReader) *obstacleAvoidance {
	t.Helper()
	_, _, err := conf.Validate("avoid")
	require.NoError(t, err)
	return newAvoidanceService(resource.NewName(generic.API, "avoid"), conf, act, reader, logging.NewTestLogger(t))
}

func waitForState(t *testing.T, s *obstacleAvoidance, state RunState) map[string]interface{} {
	t.Helper()
	var status map[string]interface{}
	require.Eventually(t, func() bool {
		status = s.statusMap()
		return status["state"] == state.String()
	}, 2*time.Second, 5*time.Millisecond)
	return status
}

func TestAvoidanceServiceRunsToCompletion(t *testing.T) {
	act := newFakeActuators()
	conf := &AvoidanceConfig{DistanceSensor: "tof", MaxSteps: 3, RetryBackoffMs: intPtr(0)}
	s := newTestAvoidance(t, conf, act, &scriptedSensor{values: []int{500}})

	status, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "status"})
	require.NoError(t, err)
	assert.Equal(t, "idle", status["state"])

	resp, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])

	status = waitForState(t, s, RunCompleted)
	assert.Equal(t, 3, status["counter"])
	assert.Equal(t, 3, status["cycles"])
	assert.Equal(t, 500, status["last_distance_mm"])
	assert.Equal(t, "advancing", status["loop_state"])
	assert.Equal(t, true, status["completed"])
	assert.NotContains(t, status, "error")
	assert.Contains(t, status, "started_at")

	assert.Equal(t, []string{
		"servo SERVO1 90", "servo SERVO2 90",
		"drive", "drive", "drive",
		"stop",
	}, act.Calls())

	require.NoError(t, s.Close(context.Background()))
}

func TestAvoidanceServiceCycleLimit(t *testing.T) {
	act := newFakeActuators()
	conf := &AvoidanceConfig{DistanceSensor: "tof", MaxSteps: 2, MaxCycles: 4, RetryBackoffMs: intPtr(0)}
	s := newTestAvoidance(t, conf, act, &scriptedSensor{values: []int{300, 100, 300, 100}})

	_, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)

	status := waitForState(t, s, RunCycleLimit)
	assert.Equal(t, "cycle_limit", status["state"])
	assert.Equal(t, false, status["completed"])
	assert.Equal(t, 0, status["counter"])
	assert.Equal(t, 4, status["cycles"])
	assert.NotContains(t, status, "error")
	assert.Equal(t, "stop", act.lastCalls(1)[0])
	assert.NotContains(t, act.Calls(), "reset")

	require.NoError(t, s.Close(context.Background()))
}

func TestAvoidanceServicePanicFailsRun(t *testing.T) {
	act := newFakeActuators()
	act.onCommand = func(Command) { panic("encoder table corrupted") }
	conf := &AvoidanceConfig{DistanceSensor: "tof", RetryBackoffMs: intPtr(0)}
	s := newTestAvoidance(t, conf, act, &scriptedSensor{values: []int{500}})

	_, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)

	status := waitForState(t, s, RunFailed)
	assert.Contains(t, status["error"], "encoder table corrupted")
	assert.Equal(t, false, status["completed"])
	assert.Equal(t, []string{"servo SERVO1 90", "servo SERVO2 90", "stop", "reset"}, act.Calls())

	// the run is not restarted
	assert.Never(t, func() bool { return len(act.Commands()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
}

func TestAvoidanceServiceStop(t *testing.T) {
	act := newFakeActuators()
	conf := &AvoidanceConfig{DistanceSensor: "tof", ZeroEncoders: true}
	s := newTestAvoidance(t, conf, act, blockingSensor{})

	_, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)
	_, err = s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	assert.Error(t, err, "only one run at a time")

	resp, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "stop"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])

	status := waitForState(t, s, RunStopped)
	assert.Contains(t, status["error"], context.Canceled.Error())
	assert.Equal(t, []string{"stop", "reset"}, act.lastCalls(2))
	assert.Contains(t, act.Calls(), "offset")

	// a stopped run can be started again
	_, err = s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))
	waitForState(t, s, RunStopped)
}

func TestAvoidanceServiceFailure(t *testing.T) {
	act := newFakeActuators()
	act.failOn = "servo"
	act.failErr = assert.AnError
	s := newTestAvoidance(t, &AvoidanceConfig{DistanceSensor: "tof"}, act, &scriptedSensor{values: []int{500}})

	_, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)

	status := waitForState(t, s, RunFailed)
	assert.Contains(t, status["error"], assert.AnError.Error())
	assert.Equal(t, []string{"servo", "stop", "reset"}, act.Calls())
	require.NoError(t, s.Close(context.Background()))
}

func TestAvoidanceServiceWritesPathLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	act := newFakeActuators()
	conf := &AvoidanceConfig{DistanceSensor: "tof", MaxSteps: 2, PathLog: path}
	s := newTestAvoidance(t, conf, act, &scriptedSensor{values: []int{700, 650}})

	_, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "start"})
	require.NoError(t, err)
	waitForState(t, s, RunCompleted)
	require.NoError(t, s.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	assert.Equal(t, []string{
		"Index : 1,Current distance : 700 mm, Motor Encoder L: 0, Motor Encoder R: 0",
		"Index : 2,Current distance : 650 mm, Motor Encoder L: 0, Motor Encoder R: 0",
	}, lines)
}

func TestAvoidanceServiceUnknownCommand(t *testing.T) {
	s := newTestAvoidance(t, &AvoidanceConfig{DistanceSensor: "tof"}, newFakeActuators(), &scriptedSensor{values: []int{500}})
	_, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "dance"})
	assert.Error(t, err)

	// stop without a run is a no-op
	resp, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "stop"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	require.NoError(t, s.Close(context.Background()))
}

func TestPathLogFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIAM_MODULE_DATA", dir)
	assert.Equal(t, filepath.Join(dir, "trace.csv"), pathLogFile("trace.csv"))
	assert.Equal(t, "/var/log/trace.csv", pathLogFile("/var/log/trace.csv"))

	t.Setenv("VIAM_MODULE_DATA", "")
	assert.Equal(t, "/tmp/trace.csv", pathLogFile("trace.csv"))
}
