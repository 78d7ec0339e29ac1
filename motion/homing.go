package motion

import "time"

type homingPhase uint8

const (
	phaseInactive homingPhase = iota
	phaseSeeking
	phaseBackingOff
)

// Homing establishes the coordinate origin against the limit switch. It is a
// tick-driven state machine shaped like the Engine's stepping so the control
// loop keeps servicing commands while the gantry seeks the switch: both
// motors run backwards until the switch triggers, then back off a fixed
// number of steps before the origin is zeroed.
type Homing struct {
	hw      Hardware
	now     func() time.Time
	backoff int
	timeout time.Duration

	stepDelay time.Duration
	phase     homingPhase
	deadline  time.Time
	lastStep  time.Time
	backed    int
}

// NewHoming builds a homing sequencer pulsing at the given rate. A timeout of
// zero disables the liveness guard.
func NewHoming(hw Hardware, now func() time.Time, speed, backoffSteps int, timeout time.Duration) *Homing {
	return &Homing{
		hw:        hw,
		now:       now,
		backoff:   backoffSteps,
		timeout:   timeout,
		stepDelay: StepDelay(speed),
	}
}

// Start arms the sequence. Not re-entrant: a Start while active restarts the
// seek from scratch.
func (h *Homing) Start() {
	h.phase = phaseSeeking
	h.backed = 0
	h.lastStep = time.Time{}
	h.deadline = h.now().Add(h.timeout)
	h.hw.SetDirection(MotorA, false)
	h.hw.SetDirection(MotorB, false)
}

func (h *Homing) Active() bool {
	return h.phase != phaseInactive
}

// Abort cancels an in-progress sequence, leaving the gantry not homed.
func (h *Homing) Abort() {
	h.phase = phaseInactive
}

// Tick advances the sequence by at most one step pair. It reports done once
// the back-off completes; ErrHomingTimeout deactivates the sequence when the
// switch never triggers before the deadline.
func (h *Homing) Tick() (done bool, err error) {
	switch h.phase {
	case phaseSeeking:
		if h.timeout > 0 && h.now().After(h.deadline) {
			h.phase = phaseInactive
			return false, ErrHomingTimeout
		}
		if h.hw.LimitTriggered() {
			h.phase = phaseBackingOff
			h.hw.SetDirection(MotorA, true)
			h.hw.SetDirection(MotorB, true)
			return false, nil
		}
		h.stepBoth()
	case phaseBackingOff:
		if h.backed >= h.backoff {
			h.phase = phaseInactive
			return true, nil
		}
		if h.stepBoth() {
			h.backed++
		}
	}
	return false, nil
}

// NextPulseIn returns how long the control loop may sleep before the next
// homing pulse is due.
func (h *Homing) NextPulseIn() time.Duration {
	if h.phase == phaseInactive {
		return 0
	}
	return max(h.stepDelay-h.now().Sub(h.lastStep), 0)
}

func (h *Homing) stepBoth() bool {
	now := h.now()
	if now.Sub(h.lastStep) < h.stepDelay {
		return false
	}
	h.hw.StepPulse(MotorA)
	h.hw.StepPulse(MotorB)
	h.lastStep = now
	return true
}
