package vedirect

// Reading is a single point-in-time sample of the five scalar measurements
// the VE.Direct protocol exposes for this node, in SI units (volts, amperes,
// watts).
type Reading struct {
	BatteryVoltage float64 // V
	BatteryCurrent float64 // I
	PanelVoltage   float64 // VPV
	PanelPower     float64 // PPV
	LoadCurrent    float64 // IL
}

// Averaging accumulates Readings component-wise and reports their mean.
// The zero value is ready to use.
type Averaging struct {
	sum   Reading
	count int
}

// Add folds r into the running sum.
func (a *Averaging) Add(r Reading) {
	a.sum.BatteryVoltage += r.BatteryVoltage
	a.sum.BatteryCurrent += r.BatteryCurrent
	a.sum.PanelVoltage += r.PanelVoltage
	a.sum.PanelPower += r.PanelPower
	a.sum.LoadCurrent += r.LoadCurrent
	a.count++
}

// Average returns the component-wise mean of every Reading added since the
// last Average call, and the sample count it was computed over. ok is false
// when no sample was ever added, in which case the average is undefined and
// the accumulator is left untouched. A successful call resets the
// accumulator (sum and count) atomically with respect to the caller, who is
// expected to hold whatever lock protects concurrent access.
func (a *Averaging) Average() (avg Reading, count int, ok bool) {
	if a.count == 0 {
		return Reading{}, 0, false
	}
	n := float64(a.count)
	avg = Reading{
		BatteryVoltage: a.sum.BatteryVoltage / n,
		BatteryCurrent: a.sum.BatteryCurrent / n,
		PanelVoltage:   a.sum.PanelVoltage / n,
		PanelPower:     a.sum.PanelPower / n,
		LoadCurrent:    a.sum.LoadCurrent / n,
	}
	count = a.count
	*a = Averaging{}
	return avg, count, true
}
