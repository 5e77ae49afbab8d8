package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config string `short:"c" long:"config" default:"keyforce.json" description:"Configuration file"`

	Setup       SetupCommand       `command:"setup" description:"Choose a transport and write the configuration file"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Drive force commands from the keyboard"`
	Echo        EchoCommand        `command:"echo" description:"Print force commands seen on the configured transport"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "KeyForce - keyboard teleoperation for surge, sway and yaw force commands"

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
