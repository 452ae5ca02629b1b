package main

import (
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/components/servo"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"

	"gopigo3"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: base.API, Model: gopigo3.BaseModel},
		resource.APIModel{API: servo.API, Model: gopigo3.ServoModel},
		resource.APIModel{API: encoder.API, Model: gopigo3.EncoderModel},
		resource.APIModel{API: sensor.API, Model: gopigo3.DistanceSensorModel},
		resource.APIModel{API: generic.API, Model: gopigo3.ObstacleAvoidanceModel},
		resource.APIModel{API: discovery.API, Model: gopigo3.DiscoveryModel},
	)
}
