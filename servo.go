package gopigo3

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/servo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"

	"gopigo3/board"
)

var ServoModel = resource.NewModel("devrel", "gopigo3", "servo")

func init() {
	resource.RegisterComponent(servo.API, ServoModel,
		resource.Registration[servo.Servo, *ServoConfig]{
			Constructor: newServo,
		},
	)
}

// gopigoServo is one of the two PWM servo ports on the board. The board has
// no position feedback, Position reports the last commanded angle.
type gopigoServo struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	opMgr      *operation.SingleOperationManager
	controller *Controller
	port       board.ServoPort
}

func newServo(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (servo.Servo, error) {
	conf, err := resource.NativeConfig[*ServoConfig](rawConf)
	if err != nil {
		return nil, err
	}
	port, err := board.ParseServoPort(conf.Port)
	if err != nil {
		return nil, err
	}
	cc := conf.controllerConfig()
	cc.Logger = logger
	controller, err := GetSharedController(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GoPiGo3 controller: %w", err)
	}

	s := NewServo(rawConf.ResourceName(), controller, port, logger)
	if conf.StartingPositionDegs != nil {
		if err := s.Move(ctx, uint32(*conf.StartingPositionDegs), nil); err != nil {
			ReleaseSharedController(controller.Device())
			return nil, err
		}
	}
	return s, nil
}

// NewServo exposes a servo port of controller.
func NewServo(name resource.Name, controller *Controller, port board.ServoPort, logger logging.Logger) servo.Servo {
	return &gopigoServo{
		Named:      name.AsNamed(),
		logger:     logger,
		opMgr:      operation.NewSingleOperationManager(),
		controller: controller,
		port:       port,
	}
}

func (s *gopigoServo) Move(ctx context.Context, angleDeg uint32, extra map[string]interface{}) error {
	ctx, done := s.opMgr.New(ctx)
	defer done()

	if angleDeg > 180 {
		return fmt.Errorf("servo angle must be between 0 and 180, got %d", angleDeg)
	}
	s.logger.Debugf("moving %s to %d degrees", s.port, angleDeg)
	return s.controller.Robot.SetServoAngle(ctx, s.port, int(angleDeg))
}

func (s *gopigoServo) Position(ctx context.Context, extra map[string]interface{}) (uint32, error) {
	angle, ok := s.controller.Robot.ServoAngle(s.port)
	if !ok {
		return 0, fmt.Errorf("%s has not been moved yet", s.port)
	}
	return uint32(angle), nil
}

// Stop releases the servo so it no longer holds position.
func (s *gopigoServo) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.opMgr.CancelRunning(ctx)
	return s.controller.Robot.ReleaseServo(ctx, s.port)
}

func (s *gopigoServo) IsMoving(ctx context.Context) (bool, error) {
	return s.opMgr.OpRunning(), nil
}

func (s *gopigoServo) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_pulse_width":
		angle, ok := s.controller.Robot.ServoAngle(s.port)
		if !ok {
			return map[string]interface{}{"pulse_us": 0}, nil
		}
		return map[string]interface{}{"pulse_us": int(ServoPulse(angle))}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *gopigoServo) Close(ctx context.Context) error {
	ReleaseSharedController(s.controller.Device())
	return nil
}
