package control

import "go.uber.org/atomic"

// Tunable is a number that can be changed while the robot is running. Control code reads it
// every cycle, so a write from the dashboard takes effect on the next cycle.
type Tunable struct {
	v *atomic.Float64
}

// NewTunable returns a Tunable holding initial.
func NewTunable(initial float64) *Tunable {
	return &Tunable{v: atomic.NewFloat64(initial)}
}

// Get returns the current value.
func (t *Tunable) Get() float64 {
	return t.v.Load()
}

// Set replaces the current value.
func (t *Tunable) Set(v float64) {
	t.v.Store(v)
}
