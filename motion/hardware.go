package motion

// Hardware is the set of electrical inputs and outputs the motion core drives.
// Implementations are only ever called from the single control goroutine.
type Hardware interface {
	// SetDirection latches the direction line of one motor.
	SetDirection(m Motor, forward bool)
	// StepPulse emits one step pulse on one motor.
	StepPulse(m Motor)
	// LimitTriggered reads the homing limit switch.
	LimitTriggered() bool
	// SetMagnet switches one electromagnet channel (0-based index).
	SetMagnet(index int, on bool) error
	// SetFanDuty sets the PWM duty of one fan channel (0-based index).
	SetFanDuty(index int, duty uint8) error
}
