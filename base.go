package gopigo3

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"gopigo3/board"
)

var BaseModel = resource.NewModel("devrel", "gopigo3", "base")

func init() {
	resource.RegisterComponent(base.API, BaseModel,
		resource.Registration[base.Base, *BaseConfig]{
			Constructor: newBase,
		},
	)
}

// chassis footprint in millimetres
var chassisSize = r3.Vector{X: 140, Y: 210, Z: 105}

type gopigoBase struct {
	resource.Named
	resource.AlwaysRebuild

	logger     logging.Logger
	opMgr      *operation.SingleOperationManager
	controller *Controller
	geometries []spatialmath.Geometry
}

func newBase(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (base.Base, error) {
	conf, err := resource.NativeConfig[*BaseConfig](rawConf)
	if err != nil {
		return nil, err
	}
	cc := conf.controllerConfig()
	cc.Logger = logger
	controller, err := GetSharedController(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GoPiGo3 controller: %w", err)
	}
	b, err := NewBase(rawConf.ResourceName(), controller, logger)
	if err != nil {
		ReleaseSharedController(controller.Device())
		return nil, err
	}
	return b, nil
}

// NewBase exposes controller's drive train as a base.
func NewBase(name resource.Name, controller *Controller, logger logging.Logger) (base.Base, error) {
	body, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{Z: chassisSize.Z / 2}), chassisSize, "chassis")
	if err != nil {
		return nil, err
	}
	logger.Infof("GoPiGo3 base initialized on %s", controller.Device())
	return &gopigoBase{
		Named:      name.AsNamed(),
		logger:     logger,
		opMgr:      operation.NewSingleOperationManager(),
		controller: controller,
		geometries: []spatialmath.Geometry{body},
	}, nil
}

// withSpeed runs fn with the wheel speed limit set to dps and restores it after.
func (b *gopigoBase) withSpeed(dps float64, fn func() error) error {
	robot := b.controller.Robot
	prev := robot.Speed()
	if err := robot.SetSpeed(math.Min(dps, MaxSpeedDPS)); err != nil {
		return err
	}
	defer func() {
		if err := robot.SetSpeed(prev); err != nil {
			b.logger.Warnf("failed to restore speed limit: %v", err)
		}
	}()
	return fn()
}

func (b *gopigoBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	if distanceMm == 0 {
		return nil
	}
	if mmPerSec == 0 {
		return errors.New("mmPerSec cannot be zero")
	}
	cm := float64(distanceMm) / 10
	if mmPerSec < 0 {
		cm = -cm
	}
	dps := math.Abs(mmPerSec) / board.WheelCircumferenceMM * 360
	return b.withSpeed(dps, func() error {
		return b.controller.Robot.DriveCm(ctx, cm, true)
	})
}

// Spin turns counterclockwise for positive angles.
func (b *gopigoBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	if angleDeg == 0 {
		return nil
	}
	if degsPerSec == 0 {
		return errors.New("degsPerSec cannot be zero")
	}
	if degsPerSec < 0 {
		angleDeg = -angleDeg
	}
	dps := turnToWheelDegrees(math.Abs(degsPerSec))
	return b.withSpeed(dps, func() error {
		return b.controller.Robot.TurnDegrees(ctx, -angleDeg, true)
	})
}

func clampPower(v float64) int {
	return int(math.Round(math.Max(-100, math.Min(100, v*100))))
}

// SetPower takes linear.Y and angular.Z in -1..1.
func (b *gopigoBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	left := clampPower(linear.Y - angular.Z)
	right := clampPower(linear.Y + angular.Z)
	return b.controller.Robot.SetWheelPower(ctx, left, right)
}

// SetVelocity takes linear.Y in mm/s and angular.Z in deg/s.
func (b *gopigoBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	lin := linear.Y / board.WheelCircumferenceMM * 360
	ang := turnToWheelDegrees(angular.Z)
	return b.controller.Robot.SetWheelSpeeds(ctx, lin-ang, lin+ang)
}

func (b *gopigoBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	return b.controller.Robot.Stop(ctx)
}

func (b *gopigoBase) IsMoving(ctx context.Context) (bool, error) {
	return b.opMgr.OpRunning() || b.controller.Robot.IsMoving(), nil
}

func (b *gopigoBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		TurningRadiusMeters:      0,
		WidthMeters:              board.WheelBaseWidthMM / 1000,
		WheelCircumferenceMeters: board.WheelCircumferenceMM / 1000,
	}, nil
}

func (b *gopigoBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

func (b *gopigoBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	robot := b.controller.Robot

	switch cmd["command"] {
	case "reset_all":
		b.opMgr.CancelRunning(ctx)
		err := robot.ResetAll(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "zero_encoders":
		err := ZeroEncoders(ctx, robot)
		return map[string]interface{}{"success": err == nil}, err

	case "get_encoders":
		left, err := robot.MotorEncoder(ctx, board.MotorLeft)
		if err != nil {
			return nil, err
		}
		right, err := robot.MotorEncoder(ctx, board.MotorRight)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"left": left, "right": right}, nil

	case "drive_cm":
		cm, ok := cmd["cm"].(float64)
		if !ok {
			return nil, fmt.Errorf("drive_cm command requires 'cm' number parameter")
		}
		ctx, done := b.opMgr.New(ctx)
		defer done()
		err := robot.DriveCm(ctx, cm, blockingArg(cmd))
		return map[string]interface{}{"success": err == nil}, err

	case "turn_degrees":
		deg, ok := cmd["degrees"].(float64)
		if !ok {
			return nil, fmt.Errorf("turn_degrees command requires 'degrees' number parameter")
		}
		ctx, done := b.opMgr.New(ctx)
		defer done()
		err := robot.TurnDegrees(ctx, deg, blockingArg(cmd))
		return map[string]interface{}{"success": err == nil}, err

	case "set_speed":
		dps, ok := cmd["dps"].(float64)
		if !ok {
			return nil, fmt.Errorf("set_speed command requires 'dps' number parameter")
		}
		if err := robot.SetSpeed(dps); err != nil {
			return nil, err
		}
		return map[string]interface{}{"speed_dps": dps}, nil

	case "get_voltage":
		v, err := b.controller.Board.Voltage()
		if err != nil {
			return nil, err
		}
		v5, err := b.controller.Board.Voltage5V()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"volts": v, "volts_5v": v5}, nil

	case "get_board_info":
		info, err := b.controller.Board.Info()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"manufacturer":     info.Manufacturer,
			"name":             info.Name,
			"firmware_version": info.FirmwareVersion,
			"hardware_version": info.HardwareVersion,
			"serial_number":    info.SerialNumber,
			"volts_5v":         info.Voltage5V,
			"volts":            info.VoltageBattery,
		}, nil

	case "set_position_gains":
		kp, okP := cmd["kp"].(float64)
		kd, okD := cmd["kd"].(float64)
		if !okP || !okD {
			return nil, fmt.Errorf("set_position_gains command requires 'kp' and 'kd' number parameters")
		}
		if kp < 0 || kp > 255 || kd < 0 || kd > 255 {
			return nil, fmt.Errorf("position gains must be between 0 and 255, got kp=%v kd=%v", kp, kd)
		}
		err := multierr.Combine(
			b.controller.Board.SetMotorPositionKP(board.MotorBoth, uint8(kp)),
			b.controller.Board.SetMotorPositionKD(board.MotorBoth, uint8(kd)),
		)
		return map[string]interface{}{"success": err == nil}, err

	case "controller_status":
		refs, open, summary := GetControllerStatus(b.controller.Device())
		return map[string]interface{}{
			"device":    b.controller.Device(),
			"ref_count": refs,
			"open":      open,
			"summary":   summary,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func blockingArg(cmd map[string]interface{}) bool {
	if v, ok := cmd["blocking"].(bool); ok {
		return v
	}
	return true
}

func (b *gopigoBase) Close(ctx context.Context) error {
	b.logger.Info("Closing GoPiGo3 base")
	b.opMgr.CancelRunning(ctx)
	err := b.controller.Robot.Stop(ctx)
	ReleaseSharedController(b.controller.Device())
	return err
}
