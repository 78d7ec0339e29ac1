package motion

import "errors"

var (
	ErrNotHomed      = errors.New("gantry not homed")
	ErrHomingTimeout = errors.New("homing timeout: limit switch never triggered")
)
