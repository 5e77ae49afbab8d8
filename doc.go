// Package keyforce relays keyboard teleoperation as generalized force
// commands for a vessel's motion controller.
//
// Key presses add fixed steps to surge (x), sway (y) and yaw (n). A
// background publish loop clamps the accumulated command to [-100, 100]
// per axis and publishes it on change or at a fixed repeat rate. When the
// loop stops it always publishes one final all-zero command.
//
// # Installation
//
//	go install github.com/gwillem/keyforce/cmd/keyforce@latest
//
// # Usage
//
// Choose a transport and write keyforce.json:
//
//	keyforce setup
//
// Then start teleoperation:
//
//	keyforce teleoperate
//
// Watch what a consumer receives:
//
//	keyforce echo
//
// # Key bindings
//
//	8 / 2   surge + / -
//	6 / 4   sway + / -
//	w / q   yaw + / -
//	ctrl+c  stop and publish zero
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/keyforce: CLI with setup, teleoperate and echo commands
//   - pkg/force: Commands, key bindings, thruster calibration and configuration
//   - pkg/teleop: Publish loop and teleoperation session
//   - pkg/keyboard: Raw terminal and queued key readers
//   - pkg/transport: Log, MQTT, websocket and servo publishers
//   - pkg/logging: zap logger construction
package keyforce
