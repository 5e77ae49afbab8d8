package force

// ThrusterCalibration maps normalized force onto a servo's velocity range.
type ThrusterCalibration struct {
	ID       int  `json:"id"`
	Reverse  bool `json:"reverse,omitempty"`
	RangeMin int  `json:"range_min"`
	RangeMax int  `json:"range_max"`
}

// Calibration holds calibration data for all thrusters, keyed by thruster name.
type Calibration map[ThrusterName]ThrusterCalibration

// DefaultCalibration returns servo IDs 1-3 with a symmetric ±1000 velocity range.
func DefaultCalibration() Calibration {
	cal := make(Calibration, 3)
	for i, name := range AllThrusters() {
		cal[name] = ThrusterCalibration{ID: i + 1, RangeMin: -1000, RangeMax: 1000}
	}
	return cal
}

// Denormalize converts a force in [-100, 100] to a raw servo velocity.
// Out-of-range input saturates at the calibration limits.
func (c ThrusterCalibration) Denormalize(norm float64) int {
	norm = Clamp(norm)
	if c.Reverse {
		norm = -norm
	}
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*rangeSize) + c.RangeMin
}

// ThrusterIDs returns the servo IDs for all thrusters in the calibration.
func (c Calibration) ThrusterIDs() []int {
	ids := make([]int, 0, len(c))
	// AllThrusters gives a stable order
	for _, name := range AllThrusters() {
		if tc, ok := c[name]; ok {
			ids = append(ids, tc.ID)
		}
	}
	return ids
}

// ByID returns thruster name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (ThrusterName, ThrusterCalibration, bool) {
	for name, tc := range c {
		if tc.ID == id {
			return name, tc, true
		}
	}
	return "", ThrusterCalibration{}, false
}
