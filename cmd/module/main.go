package main

import (
	urArm "ur_arm"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: urArm.URArmModel},
		resource.APIModel{API: gripper.API, Model: urArm.URGripperModel},
		resource.APIModel{API: discovery.API, Model: urArm.URDiscoveryModel},
	)
}
