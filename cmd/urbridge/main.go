package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config  string `long:"config" description:"YAML config file; environment variables override it"`
	LogFile string `long:"log-file" description:"Also write logs to this file, rotated by size"`
	Debug   bool   `long:"debug" description:"Enable debug logging"`

	Relay     RelayCommand     `command:"relay" alias:"proxy" description:"Relay a client to the controller and mirror traffic to telemetry"`
	Tail      TailCommand      `command:"tail" description:"Log everything the controller sends"`
	Telemetry TelemetryCommand `command:"telemetry" description:"Run the websocket telemetry server"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "urbridge - relay and telemetry tools for UR controllers"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
