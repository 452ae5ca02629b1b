package gopigo3

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"gopigo3/board"
)

var EncoderModel = resource.NewModel("devrel", "gopigo3", "encoder")

func init() {
	resource.RegisterComponent(encoder.API, EncoderModel,
		resource.Registration[encoder.Encoder, *EncoderConfig]{
			Constructor: newEncoder,
		},
	)
}

type gopigoEncoder struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	controller *Controller
	motor      board.Motor
}

func newEncoder(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (encoder.Encoder, error) {
	conf, err := resource.NativeConfig[*EncoderConfig](rawConf)
	if err != nil {
		return nil, err
	}
	motor, err := board.ParseMotor(conf.Motor)
	if err != nil {
		return nil, err
	}
	cc := conf.controllerConfig()
	cc.Logger = logger
	controller, err := GetSharedController(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GoPiGo3 controller: %w", err)
	}
	return NewEncoder(rawConf.ResourceName(), controller, motor, logger), nil
}

// NewEncoder exposes the encoder of one wheel.
func NewEncoder(name resource.Name, controller *Controller, motor board.Motor, logger logging.Logger) encoder.Encoder {
	return &gopigoEncoder{
		Named:      name.AsNamed(),
		logger:     logger,
		controller: controller,
		motor:      motor,
	}
}

// Position reports degrees by default, ticks on request.
func (e *gopigoEncoder) Position(
	ctx context.Context,
	positionType encoder.PositionType,
	extra map[string]interface{},
) (float64, encoder.PositionType, error) {
	deg, err := e.controller.Robot.MotorEncoder(ctx, e.motor)
	if err != nil {
		return 0, positionType, err
	}
	if positionType == encoder.PositionTypeTicks {
		return float64(deg) * board.TicksPerDegree, encoder.PositionTypeTicks, nil
	}
	return float64(deg), encoder.PositionTypeDegrees, nil
}

// ResetPosition moves the encoder baseline to the current position.
func (e *gopigoEncoder) ResetPosition(ctx context.Context, extra map[string]interface{}) error {
	robot := e.controller.Robot
	deg, err := robot.MotorEncoder(ctx, e.motor)
	if err != nil {
		return err
	}
	return robot.OffsetMotorEncoder(ctx, e.motor, deg)
}

func (e *gopigoEncoder) Properties(ctx context.Context, extra map[string]interface{}) (encoder.Properties, error) {
	return encoder.Properties{
		TicksCountSupported:   true,
		AngleDegreesSupported: true,
	}, nil
}

func (e *gopigoEncoder) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_status":
		status, err := e.controller.Board.MotorStatus(e.motor)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"power":       int(status.Power),
			"encoder_deg": status.EncoderDeg,
			"dps":         status.DPS,
			"flags":       int(status.Flags),
		}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (e *gopigoEncoder) Close(ctx context.Context) error {
	ReleaseSharedController(e.controller.Device())
	return nil
}
