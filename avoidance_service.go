package gopigo3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/utils"

	"gopigo3/pathlog"
)

var ObstacleAvoidanceModel = resource.NewModel("devrel", "gopigo3", "obstacle-avoidance")

func init() {
	resource.RegisterService(generic.API, ObstacleAvoidanceModel,
		resource.Registration[resource.Resource, *AvoidanceConfig]{
			Constructor: newObstacleAvoidance,
		},
	)
}

// RunState is the lifecycle of one avoidance run.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunCompleted
	RunCycleLimit
	RunStopped
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunCycleLimit:
		return "cycle_limit"
	case RunStopped:
		return "stopped"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type runStatus struct {
	state          RunState
	loopState      State
	counter        int
	cycles         int
	lastDistanceMM int
	lastErr        error
	startedAt      time.Time
}

// obstacleAvoidance runs the avoidance loop in the background on request.
type obstacleAvoidance struct {
	resource.Named
	resource.AlwaysRebuild

	logger  logging.Logger
	cfg     *AvoidanceConfig
	act     Actuators
	sensor  DistanceReader
	release func()

	mu      sync.Mutex
	status  runStatus
	cancel  context.CancelFunc
	done    chan struct{}
	workers sync.WaitGroup
}

func newObstacleAvoidance(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*AvoidanceConfig](rawConf)
	if err != nil {
		return nil, err
	}
	dist, err := sensor.FromDependencies(deps, conf.DistanceSensor)
	if err != nil {
		return nil, fmt.Errorf("failed to find distance sensor %q: %w", conf.DistanceSensor, err)
	}

	cc := conf.controllerConfig()
	cc.Logger = logger
	controller, err := GetSharedController(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GoPiGo3 controller: %w", err)
	}

	s := newAvoidanceService(rawConf.ResourceName(), conf, controller.Robot, sensorDistance{sensor: dist}, logger)
	s.release = func() { ReleaseSharedController(controller.Device()) }
	if conf.StartOnCreate {
		if err := s.start(); err != nil {
			s.release()
			return nil, err
		}
	}
	return s, nil
}

// newAvoidanceService builds the service around explicit actuators and a
// distance reader.
func newAvoidanceService(
	name resource.Name,
	conf *AvoidanceConfig,
	act Actuators,
	reader DistanceReader,
	logger logging.Logger,
) *obstacleAvoidance {
	return &obstacleAvoidance{
		Named:  name.AsNamed(),
		logger: logger,
		cfg:    conf,
		act:    act,
		sensor: reader,
	}
}

// pathLogFile resolves relative trace files against the module data dir.
func pathLogFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
	}
	return filepath.Join(moduleDataDir, name)
}

func (s *obstacleAvoidance) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.state == RunRunning {
		return fmt.Errorf("obstacle avoidance is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = runStatus{state: RunRunning, startedAt: time.Now()}

	done := s.done
	s.workers.Add(1)
	utils.PanicCapturingGo(func() {
		defer func() {
			close(done)
			s.workers.Done()
		}()
		s.run(ctx)
	})
	return nil
}

func (s *obstacleAvoidance) run(ctx context.Context) {
	sum, panicked, err := s.guardedRun(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !panicked {
		s.status.counter = sum.Counter
		s.status.cycles = sum.Cycles
	}
	s.status.lastErr = err
	switch {
	case panicked:
		s.status.state = RunFailed
	case err == nil && sum.Completed:
		s.status.state = RunCompleted
	case err == nil:
		s.status.state = RunCycleLimit
	case ctx.Err() != nil:
		s.status.state = RunStopped
	default:
		s.status.state = RunFailed
	}
	s.logger.Infof("obstacle avoidance %s after %d cycles", s.status.state, s.status.cycles)
}

// guardedRun turns a panic inside the run into a failure and still stops the robot.
func (s *obstacleAvoidance) guardedRun(ctx context.Context) (sum Summary, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("obstacle avoidance panicked: %v", r)
			panicked = true
			err = multierr.Combine(fmt.Errorf("obstacle avoidance panicked: %v", r), SafeShutdown(s.act))
		}
	}()
	sum, err = s.runOnce(ctx)
	return sum, false, err
}

func (s *obstacleAvoidance) runOnce(ctx context.Context) (Summary, error) {
	if err := PositionServos(ctx, s.act, s.cfg.ServoPositions()); err != nil {
		return Summary{}, multierr.Combine(err, SafeShutdown(s.act))
	}
	if s.cfg.ZeroEncoders {
		if err := ZeroEncoders(ctx, s.act); err != nil {
			return Summary{}, multierr.Combine(err, SafeShutdown(s.act))
		}
	}

	observers := []StepObserver{s.observe}
	if s.cfg.PathLog != "" {
		w, err := pathlog.Open(pathLogFile(s.cfg.PathLog))
		if err != nil {
			s.logger.Warnf("path log disabled: %v", err)
		} else {
			defer func() {
				if err := w.Close(); err != nil {
					s.logger.Warnf("closing path log: %v", err)
				}
			}()
			observers = append(observers, PathTracer(w, s.act, s.logger))
		}
	}

	loop, err := NewLoop(s.cfg.LoopConfig(), s.sensor, s.act, s.logger, observers...)
	if err != nil {
		return Summary{}, err
	}
	return loop.Run(ctx)
}

func (s *obstacleAvoidance) observe(ctx context.Context, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.loopState = step.State
	s.status.counter = step.Counter
	s.status.cycles = step.Index + 1
	s.status.lastDistanceMM = step.DistanceMM
}

// stop cancels a running loop and waits for its safe shutdown.
func (s *obstacleAvoidance) stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *obstacleAvoidance) statusMap() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	out := map[string]interface{}{
		"state":            st.state.String(),
		"loop_state":       st.loopState.String(),
		"counter":          st.counter,
		"cycles":           st.cycles,
		"last_distance_mm": st.lastDistanceMM,
		"completed":        st.state == RunCompleted,
	}
	if st.lastErr != nil {
		out["error"] = st.lastErr.Error()
	}
	if !st.startedAt.IsZero() {
		out["started_at"] = st.startedAt.Format(time.RFC3339)
	}
	return out
}

func (s *obstacleAvoidance) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "start":
		if err := s.start(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil

	case "stop":
		err := s.stop(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "status":
		return s.statusMap(), nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *obstacleAvoidance) Close(ctx context.Context) error {
	s.logger.Info("Closing obstacle avoidance")
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.workers.Wait()

	if s.release != nil {
		s.release()
	}
	return nil
}
