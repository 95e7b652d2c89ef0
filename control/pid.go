package control

import (
	"math"
	"time"

	"github.com/team3128/robot/utils"
)

// defaultIntegratorRange bounds the integral term, in output units (volts).
const defaultIntegratorRange = 12.0

// pid is the feedback half of a controller. It is not safe for concurrent use; the owning
// controller serializes access.
type pid struct {
	accumulated float64
	prevError   float64
	hasPrev     bool
	iMin        float64
	iMax        float64
}

func newPID() pid {
	return pid{iMin: -defaultIntegratorRange, iMax: defaultIntegratorRange}
}

// next returns kP*e + kI*∫e + kD*de/dt for one step of length dt.
func (p *pid) next(gains Gains, measurement, target float64, dt time.Duration) float64 {
	dtS := dt.Seconds()
	err := target - measurement

	kI := gains.KI.Get()
	if kI != 0 && dtS > 0 {
		p.accumulated = utils.Clamp(p.accumulated+err*dtS, p.iMin/kI, p.iMax/kI)
	} else {
		p.accumulated = 0
	}

	deriv := 0.0
	if p.hasPrev && dtS > 0 {
		deriv = (err - p.prevError) / dtS
	}
	p.prevError = err
	p.hasPrev = true

	out := gains.KP.Get()*err + kI*p.accumulated + gains.KD.Get()*deriv
	if math.IsNaN(out) {
		return 0
	}
	return out
}

func (p *pid) reset() {
	p.accumulated = 0
	p.prevError = 0
	p.hasPrev = false
}
