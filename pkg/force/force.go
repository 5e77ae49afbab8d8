// Package force provides the generalized force types used for keyboard teleoperation.
package force

// Limit is the saturation bound applied to every emitted axis.
const Limit = 100.0

// Deltas is one input's contribution to the six accumulator channels.
// Positive and negative contributions are kept apart per axis.
type Deltas struct {
	XPos float64
	XNeg float64
	YPos float64
	YNeg float64
	NPos float64
	NNeg float64
}

// Accumulator holds the running sums of all deltas received so far.
// It is not safe for concurrent use; the owner serializes access.
type Accumulator struct {
	XPos float64
	XNeg float64
	YPos float64
	YNeg float64
	NPos float64
	NNeg float64
}

// Add adds d into the running sums. Individual channels are unbounded.
func (a *Accumulator) Add(d Deltas) {
	a.XPos += d.XPos
	a.XNeg += d.XNeg
	a.YPos += d.YPos
	a.YNeg += d.YNeg
	a.NPos += d.NPos
	a.NNeg += d.NNeg
}

// Sums returns the unclamped per-axis sums.
func (a *Accumulator) Sums() (x, y, n float64) {
	return a.XPos + a.XNeg, a.YPos + a.YNeg, a.NPos + a.NNeg
}

// Command returns the clamped command for the current sums.
func (a *Accumulator) Command() Command {
	x, y, n := a.Sums()
	return Command{
		X: Clamp(x),
		Y: Clamp(y),
		N: Clamp(n),
	}
}

// Command is a generalized force in the vessel body frame.
// Only surge (X), sway (Y) and yaw (N) are ever commanded.
type Command struct {
	X float64 `json:"x"` // surge force
	Y float64 `json:"y"` // sway force
	Z float64 `json:"z"`
	K float64 `json:"k"`
	M float64 `json:"m"`
	N float64 `json:"n"` // yaw moment
}

// IsZero reports whether all six components are zero.
func (c Command) IsZero() bool {
	return c == Command{}
}

// Clamp saturates v to [-Limit, Limit].
func Clamp(v float64) float64 {
	if v > Limit {
		return Limit
	}
	if v < -Limit {
		return -Limit
	}
	return v
}
