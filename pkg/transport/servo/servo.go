// Package servo drives feetech servos in velocity mode as thrusters, one
// per commanded axis.
package servo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/gwillem/keyforce/pkg/force"
)

const (
	baudRate     = 1_000_000
	busTimeout   = 100 * time.Millisecond
	writeTimeout = 200 * time.Millisecond
)

// wheelServo is the subset of a feetech servo a thruster needs.
type wheelServo interface {
	SetVelocityMode(ctx context.Context) error
	Enable(ctx context.Context) error
	SetVelocity(ctx context.Context, velocity int) error
	Disable(ctx context.Context) error
}

type feetechServo struct {
	*feetech.Servo
}

func (s feetechServo) SetVelocityMode(ctx context.Context) error {
	return s.SetOperatingMode(ctx, feetech.ModeVelocity)
}

type thruster struct {
	name  force.ThrusterName
	cal   force.ThrusterCalibration
	servo wheelServo
}

// Thrusters publishes force commands as servo velocities.
type Thrusters struct {
	port      string
	thrusters []thruster
	close     func() error
}

func openBus(port string) (*feetech.Bus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  busTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", port, err)
	}
	return bus, nil
}

// Open connects to the bus on port, switches every calibrated thruster
// that answers the scan into velocity mode and enables torque. Thrusters
// missing from the bus are skipped; Subscribers reports how many were found.
func Open(ctx context.Context, port string, cal force.Calibration) (*Thrusters, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, err
	}

	lo, hi := idRange(cal)
	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan %s: %w", port, err)
	}

	var thrusters []thruster
	for _, fs := range found {
		name, tc, ok := cal.ByID(fs.ID)
		if !ok {
			continue
		}
		s := feetechServo{feetech.NewServo(bus, fs.ID, fs.Model)}
		thrusters = append(thrusters, thruster{name: name, cal: tc, servo: s})
	}

	if err := startThrusters(ctx, thrusters); err != nil {
		bus.Close()
		return nil, err
	}
	return newThrusters(port, thrusters, bus.Close), nil
}

// startThrusters switches each servo into velocity mode with torque on.
// If one fails, every servo touched so far is disabled again.
func startThrusters(ctx context.Context, thrusters []thruster) error {
	for i, th := range thrusters {
		if err := startThruster(ctx, th.servo); err != nil {
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			for _, started := range thrusters[:i+1] {
				started.servo.Disable(cleanup)
			}
			cancel()
			return fmt.Errorf("start %s thruster: %w", th.name, err)
		}
	}
	return nil
}

func startThruster(ctx context.Context, s wheelServo) error {
	if err := s.Disable(ctx); err != nil {
		return fmt.Errorf("disable: %w", err)
	}
	if err := s.SetVelocityMode(ctx); err != nil {
		return fmt.Errorf("set velocity mode: %w", err)
	}
	if err := s.Enable(ctx); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	return nil
}

func newThrusters(port string, thrusters []thruster, closeBus func() error) *Thrusters {
	return &Thrusters{port: port, thrusters: thrusters, close: closeBus}
}

func idRange(cal force.Calibration) (lo, hi int) {
	ids := cal.ThrusterIDs()
	if len(ids) == 0 {
		return 1, 1
	}
	lo, hi = ids[0], ids[0]
	for _, id := range ids[1:] {
		lo = min(lo, id)
		hi = max(hi, id)
	}
	return lo, hi
}

func (t *Thrusters) Name() string {
	return "servo:" + t.port
}

// Subscribers returns the number of thrusters found on the bus.
func (t *Thrusters) Subscribers() int {
	return len(t.thrusters)
}

// Publish sets every thruster's velocity from its axis of cmd. All
// thrusters are written even when one fails.
func (t *Thrusters) Publish(cmd force.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var errs error
	for _, th := range t.thrusters {
		v := th.cal.Denormalize(cmd.Axis(th.name))
		if err := th.servo.SetVelocity(ctx, v); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s velocity %d: %w", th.name, v, err))
		}
	}
	return errs
}

// Close stops every thruster, disables torque and closes the bus.
func (t *Thrusters) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var errs error
	for _, th := range t.thrusters {
		errs = multierr.Append(errs, th.servo.SetVelocity(ctx, 0))
		errs = multierr.Append(errs, th.servo.Disable(ctx))
	}
	if t.close != nil {
		errs = multierr.Append(errs, t.close())
	}
	return errs
}

// Ports lists serial ports, skipping macOS Bluetooth ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}

	var out []string
	for _, port := range ports {
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		out = append(out, port)
	}
	return out, nil
}

// Scan returns the IDs of the servos answering on port within the ID
// range covered by cal.
func Scan(ctx context.Context, port string, cal force.Calibration) ([]int, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	lo, hi := idRange(cal)
	found, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", port, err)
	}

	ids := make([]int, 0, len(found))
	for _, fs := range found {
		ids = append(ids, fs.ID)
	}
	return ids, nil
}
