package control

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// PIDConstants are the gains of a feedback controller plus its feedforward model.
type PIDConstants struct {
	KP float64 `json:"kp"`
	KI float64 `json:"ki"`
	KD float64 `json:"kd"`
	KS float64 `json:"ks"`
	KV float64 `json:"kv"`
	KG float64 `json:"kg"`
}

// Validate ensures the feedback gains are usable.
func (c PIDConstants) Validate(path string) error {
	if c.KP < 0 || c.KI < 0 || c.KD < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("feedback gains must be non-negative, got kp=%v ki=%v kd=%v", c.KP, c.KI, c.KD))
	}
	return nil
}

// Gains holds the tunable cells a controller reads on every cycle. Two controllers may share
// cells so that a single dashboard edit retunes both.
type Gains struct {
	KP *Tunable
	KI *Tunable
	KD *Tunable
	KS *Tunable
	KV *Tunable
	KG *Tunable
}

// NewGains creates fresh cells initialised from c.
func NewGains(c PIDConstants) Gains {
	return Gains{
		KP: NewTunable(c.KP),
		KI: NewTunable(c.KI),
		KD: NewTunable(c.KD),
		KS: NewTunable(c.KS),
		KV: NewTunable(c.KV),
		KG: NewTunable(c.KG),
	}
}
