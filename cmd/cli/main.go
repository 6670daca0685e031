package main

import (
	"context"
	"os"
	"time"

	urArm "ur_arm"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("ur-cli")

	// UR_HOST selects the controller; without it the stub session is used.
	cfg := &urArm.Config{
		Host:                  os.Getenv("UR_HOST"),
		Mode:                  urArm.ModeLive,
		Velocity:              0.05,
		Acceleration:          0.05,
		CompletionTimeoutSecs: 30,
	}
	if cfg.Host == "" {
		cfg.Host = "stub"
		cfg.Mode = urArm.ModeStub
	}
	if _, _, err := cfg.Validate("cli"); err != nil {
		return err
	}

	urarm, err := urArm.NewURArm(ctx, resource.NewName(arm.API, "ur-cli"), cfg, logger)
	if err != nil {
		return err
	}
	defer urarm.Close(ctx)

	health, err := urarm.DoCommand(ctx, map[string]interface{}{"command": "health"})
	if err != nil {
		return err
	}
	logger.Infof("Controller health: %v", health)

	config, err := urarm.DoCommand(ctx, map[string]interface{}{"command": "get_config"})
	if err != nil {
		return err
	}
	logger.Infof("Motion defaults: %v", config)

	pose, err := urarm.EndPosition(ctx, nil)
	if err != nil {
		return err
	}
	logger.Infof("Start pose: %v", pose)

	// Small nudges that return to the start pose.
	for _, step := range []string{"up", "down", "left", "right"} {
		logger.Infof("Nudging %s...", step)
		res, err := urarm.DoCommand(ctx, map[string]interface{}{
			"command":   "move",
			"direction": step,
			"delta":     0.02,
		})
		if err != nil {
			logger.Errorf("Failed to move %s: %v", step, err)
			continue
		}
		logger.Infof("Pose after %s: %v", step, res["pose"])
		time.Sleep(500 * time.Millisecond)
	}

	joints, err := urarm.JointPositions(ctx, nil)
	if err != nil {
		return err
	}
	logger.Infof("Final joints: %v", joints)
	return nil
}
