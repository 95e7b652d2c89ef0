// Package register registers all relevant motors
package register

import (
	// for motors.
	_ "github.com/team3128/robot/components/motor/fake"
	_ "github.com/team3128/robot/components/motor/feetech"
)
