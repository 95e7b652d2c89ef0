package control

import "github.com/team3128/robot/utils"

// GravityFunc scales kG for the current mechanism pose. It receives the latest measurement
// and the controller's target.
type GravityFunc func(measurement, setpoint float64) float64

// ConstantGravity applies kG unscaled, as for an elevator.
func ConstantGravity(_, _ float64) float64 {
	return 1
}

// feedforward returns kS*sign(direction) + kV*velocity + kG*gravity(measurement, setpoint).
func feedforward(gains Gains, gravity GravityFunc, measurement, setpoint, direction, velocity float64) float64 {
	out := gains.KS.Get()*utils.Sign(direction) + gains.KV.Get()*velocity
	if kG := gains.KG.Get(); kG != 0 {
		out += kG * gravity(measurement, setpoint)
	}
	return out
}
