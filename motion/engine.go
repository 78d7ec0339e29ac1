package motion

import "time"

// Limits holds the physical and electrical bounds of the gantry.
type Limits struct {
	MaxX       float64 // mm
	MaxY       float64 // mm
	StepsPerMM int64
	MinSpeed   int // steps/s
	MaxSpeed   int // steps/s
}

// Engine executes one coordinated move at a constant step rate. It never
// blocks: Tick emits at most one step pulse per motor and returns, so the
// control loop stays responsive between pulses.
type Engine struct {
	hw     Hardware
	now    func() time.Time
	limits Limits

	currentX, currentY int64
	targetX, targetY   int64
	moving             bool
	homed              bool

	speed     int // steps/s
	stepDelay time.Duration
	lastStep  time.Time
}

func NewEngine(hw Hardware, now func() time.Time, limits Limits, speed int) *Engine {
	e := &Engine{
		hw:     hw,
		now:    now,
		limits: limits,
	}
	e.SetSpeed(speed)
	return e
}

// BeginMove accepts a new absolute target in mm. The target is clamped to the
// workspace; a move before homing is rejected without touching any state.
func (e *Engine) BeginMove(x, y float64) error {
	if !e.homed {
		return ErrNotHomed
	}

	x = min(max(x, 0), e.limits.MaxX)
	y = min(max(y, 0), e.limits.MaxY)

	e.targetX = int64(x * float64(e.limits.StepsPerMM))
	e.targetY = int64(y * float64(e.limits.StepsPerMM))
	e.moving = true
	return nil
}

// Tick advances the move by at most one step per motor once the inter-step
// delay has elapsed. It returns true exactly once, when the target is reached;
// further calls are no-ops until the next BeginMove.
func (e *Engine) Tick() (arrived bool) {
	if !e.moving {
		return false
	}

	remainingX := e.targetX - e.currentX
	remainingY := e.targetY - e.currentY
	if remainingX == 0 && remainingY == 0 {
		e.moving = false
		return true
	}

	stepsA, stepsB := MotorSteps(remainingX, remainingY)
	e.hw.SetDirection(MotorA, stepsA > 0)
	e.hw.SetDirection(MotorB, stepsB > 0)

	now := e.now()
	if now.Sub(e.lastStep) < e.stepDelay {
		return false
	}

	if stepsA != 0 {
		e.hw.StepPulse(MotorA)
		e.currentX += sign(stepsA)
	}
	if stepsB != 0 {
		e.hw.StepPulse(MotorB)
		// The Y contribution cannot be read off motor B alone: when motor A
		// is idle it is the inverse of B's direction, otherwise it follows
		// the sign of the requested Y delta.
		if stepsA == 0 {
			e.currentY -= sign(stepsB)
		} else {
			e.currentY += sign(remainingY)
		}
	}
	e.lastStep = now
	return false
}

// Stop freezes the gantry where it is. Always succeeds.
func (e *Engine) Stop() {
	e.targetX = e.currentX
	e.targetY = e.currentY
	e.moving = false
}

// SetSpeed recomputes the inter-step delay, clamping the requested rate to
// the configured range. It returns the applied rate.
func (e *Engine) SetSpeed(stepsPerSecond int) int {
	stepsPerSecond = min(max(stepsPerSecond, e.limits.MinSpeed), e.limits.MaxSpeed)
	e.speed = stepsPerSecond
	e.stepDelay = StepDelay(stepsPerSecond)
	return stepsPerSecond
}

func (e *Engine) Speed() int {
	return e.speed
}

// NextPulseIn returns how long the control loop may sleep before the next
// step pulse is due. Zero when a pulse is already due or nothing moves.
func (e *Engine) NextPulseIn() time.Duration {
	if !e.moving {
		return 0
	}
	return max(e.stepDelay-e.now().Sub(e.lastStep), 0)
}

// Position returns the tracked Cartesian position in mm, always derived from
// the step counters.
func (e *Engine) Position() (x, y float64) {
	return float64(e.currentX) / float64(e.limits.StepsPerMM),
		float64(e.currentY) / float64(e.limits.StepsPerMM)
}

func (e *Engine) Steps() (x, y int64) {
	return e.currentX, e.currentY
}

func (e *Engine) TargetSteps() (x, y int64) {
	return e.targetX, e.targetY
}

func (e *Engine) Moving() bool {
	return e.moving
}

func (e *Engine) Homed() bool {
	return e.homed
}

// InvalidateHome marks the coordinate frame untrusted, e.g. when a homing
// sequence starts.
func (e *Engine) InvalidateHome() {
	e.homed = false
}

// ResetOrigin declares the current physical position to be (0, 0) and marks
// the frame trusted. Only the homing sequence calls this.
func (e *Engine) ResetOrigin() {
	e.currentX, e.currentY = 0, 0
	e.targetX, e.targetY = 0, 0
	e.moving = false
	e.homed = true
}

// StepDelay converts a step rate into the microsecond inter-step delay.
func StepDelay(stepsPerSecond int) time.Duration {
	return time.Duration(1_000_000/stepsPerSecond) * time.Microsecond
}
