package control

import (
	"math"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Constraints bound the motion a TrapezoidProfile may command.
type Constraints struct {
	MaxVelocity     float64 `json:"max_vel"`
	MaxAcceleration float64 `json:"max_acc"`
}

// Validate ensures both limits are positive.
func (c Constraints) Validate(path string) error {
	if c.MaxVelocity <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_vel must be positive"))
	}
	if c.MaxAcceleration <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_acc must be positive"))
	}
	return nil
}

// State is a position and velocity pair along a profile.
type State struct {
	Position float64
	Velocity float64
}

// TrapezoidProfile generates motion that accelerates at MaxAcceleration up to MaxVelocity,
// cruises, then decelerates to arrive at the goal.
type TrapezoidProfile struct {
	constraints Constraints
}

// NewTrapezoidProfile returns a profile bounded by c.
func NewTrapezoidProfile(c Constraints) (*TrapezoidProfile, error) {
	if err := c.Validate("constraints"); err != nil {
		return nil, err
	}
	return &TrapezoidProfile{constraints: c}, nil
}

// Constraints returns the limits of the profile.
func (p *TrapezoidProfile) Constraints() Constraints {
	return p.constraints
}

// Calculate returns where the profile starting at current should be after dt when heading to goal.
func (p *TrapezoidProfile) Calculate(dt time.Duration, current, goal State) State {
	t := dt.Seconds()
	segs, dir, current, goal := p.plan(current, goal)

	maxAcc := p.constraints.MaxAcceleration
	result := current
	switch {
	case t < segs.endAccel:
		result.Velocity += t * maxAcc
		result.Position += (current.Velocity + t*maxAcc/2.0) * t
	case t < segs.endFullSpeed:
		result.Velocity = p.constraints.MaxVelocity
		result.Position += (current.Velocity+segs.endAccel*maxAcc/2.0)*segs.endAccel +
			p.constraints.MaxVelocity*(t-segs.endAccel)
	case t <= segs.endDecel:
		timeLeft := segs.endDecel - t
		result.Velocity = goal.Velocity + timeLeft*maxAcc
		result.Position = goal.Position - (goal.Velocity+timeLeft*maxAcc/2.0)*timeLeft
	default:
		result = goal
	}
	return State{Position: result.Position * dir, Velocity: result.Velocity * dir}
}

// TotalTime is how long the move from current to goal takes.
func (p *TrapezoidProfile) TotalTime(current, goal State) time.Duration {
	segs, _, _, _ := p.plan(current, goal)
	return time.Duration(segs.endDecel * float64(time.Second))
}

type profileSegments struct {
	endAccel     float64
	endFullSpeed float64
	endDecel     float64
}

// plan computes segment end times in a frame where the move is always in the positive
// direction. It returns the flip factor and the states expressed in that frame.
func (p *TrapezoidProfile) plan(current, goal State) (profileSegments, float64, State, State) {
	dir := 1.0
	if current.Position > goal.Position {
		dir = -1.0
	}
	current = State{Position: current.Position * dir, Velocity: current.Velocity * dir}
	goal = State{Position: goal.Position * dir, Velocity: goal.Velocity * dir}

	maxVel := p.constraints.MaxVelocity
	maxAcc := p.constraints.MaxAcceleration
	if current.Velocity > maxVel {
		current.Velocity = maxVel
	}

	cutoffBegin := current.Velocity / maxAcc
	cutoffDistBegin := cutoffBegin * cutoffBegin * maxAcc / 2.0
	cutoffEnd := goal.Velocity / maxAcc
	cutoffDistEnd := cutoffEnd * cutoffEnd * maxAcc / 2.0

	fullTrapezoidDist := cutoffDistBegin + (goal.Position - current.Position) + cutoffDistEnd
	accelerationTime := maxVel / maxAcc
	fullSpeedDist := fullTrapezoidDist - accelerationTime*accelerationTime*maxAcc
	if fullSpeedDist < 0 {
		// Triangle profile: never reaches cruise velocity.
		accelerationTime = math.Sqrt(fullTrapezoidDist / maxAcc)
		fullSpeedDist = 0
	}

	var segs profileSegments
	segs.endAccel = accelerationTime - cutoffBegin
	segs.endFullSpeed = segs.endAccel + fullSpeedDist/maxVel
	segs.endDecel = segs.endFullSpeed + accelerationTime - cutoffEnd
	return segs, dir, current, goal
}
