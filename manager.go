package gopigo3

// sharedControllers backs every resource in the module process.
var sharedControllers = NewControllerRegistry()

// GetSharedController returns the process wide controller for cfg.SPIDevice.
func GetSharedController(cfg ControllerConfig) (*Controller, error) {
	return sharedControllers.GetController(cfg)
}

// ReleaseSharedController releases a controller from GetSharedController.
func ReleaseSharedController(device string) {
	sharedControllers.ReleaseController(device)
}

// GetControllerStatus reports on the process wide controller for device.
func GetControllerStatus(device string) (int64, bool, string) {
	return sharedControllers.GetControllerStatus(device)
}
