package force

// ThrusterName identifies the thruster that realizes one commanded axis.
type ThrusterName string

// Thruster names for the three-axis bench rig.
const (
	Surge ThrusterName = "surge"
	Sway  ThrusterName = "sway"
	Yaw   ThrusterName = "yaw"
)

// AllThrusters returns all thruster names in order (matching servo IDs 1-3).
func AllThrusters() []ThrusterName {
	return []ThrusterName{
		Surge,
		Sway,
		Yaw,
	}
}

// Axis returns the component of c that thruster name realizes.
func (c Command) Axis(name ThrusterName) float64 {
	switch name {
	case Surge:
		return c.X
	case Sway:
		return c.Y
	case Yaw:
		return c.N
	}
	return 0
}

// AxisCommand returns a command with only the axis of thruster name set.
func AxisCommand(name ThrusterName, v float64) Command {
	switch name {
	case Surge:
		return Command{X: v}
	case Sway:
		return Command{Y: v}
	case Yaw:
		return Command{N: v}
	}
	return Command{}
}
