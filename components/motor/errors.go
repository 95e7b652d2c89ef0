package motor

import "github.com/pkg/errors"

// ErrDisconnected is returned by drivers that cannot reach their motor.
var ErrDisconnected = errors.New("motor disconnected")

// NewUnknownModelError is returned when a config names a model nobody registered.
func NewUnknownModelError(model string) error {
	return errors.Errorf("unknown motor model %q", model)
}

// NewInvalidOutputError is returned for NaN or infinite commands.
func NewInvalidOutputError(motorName string, value float64) error {
	return errors.Errorf("motor %s cannot be commanded to %v", motorName, value)
}

// NewUnsupportedError is returned when a driver cannot provide a reading.
func NewUnsupportedError(motorName, feature string) error {
	return errors.Errorf("motor %s does not support %s", motorName, feature)
}
