package motion

import (
	"errors"
	"testing"
	"time"
)

// recorderHW records direction and pulse activity, and simulates the limit
// switch the same way the daemon's dummy hardware does: backward pulses on
// motor A close in on the switch, forward pulses move away from it.
type recorderHW struct {
	forward [Motors]bool
	pulses  [Motors]int64
	seek    int64
	trigger int64 // 0 means the switch never triggers
}

func (r *recorderHW) SetDirection(m Motor, forward bool) {
	r.forward[m] = forward
}

func (r *recorderHW) StepPulse(m Motor) {
	r.pulses[m]++
	if m != MotorA {
		return
	}

	if r.forward[m] {
		if r.seek > 0 {
			r.seek--
		}
	} else {
		r.seek++
	}
}

func (r *recorderHW) LimitTriggered() bool {
	return r.trigger > 0 && r.seek >= r.trigger
}

func (r *recorderHW) SetMagnet(int, bool) error   { return nil }
func (r *recorderHW) SetFanDuty(int, uint8) error { return nil }

type clock struct {
	t time.Time
}

func newClock() *clock {
	return &clock{t: time.Unix(1700000000, 0)}
}

func (c *clock) now() time.Time {
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func testLimits() Limits {
	return Limits{
		MaxX:       400,
		MaxY:       400,
		StepsPerMM: 80,
		MinSpeed:   100,
		MaxSpeed:   4000,
	}
}

// runMove ticks the engine with the clock advancing one inter-step delay per
// pass, until the move completes.
func runMove(t *testing.T, e *Engine, clk *clock, maxTicks int) {
	t.Helper()

	for range maxTicks {
		if e.Tick() {
			return
		}
		clk.advance(e.stepDelay)
	}
	t.Fatalf("move still running after %d ticks", maxTicks)
}

func TestEngine_BeginMoveBeforeHoming(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, testLimits(), 2000)

	err := e.BeginMove(100, 100)
	if !errors.Is(err, ErrNotHomed) {
		t.Fatalf("BeginMove before homing: got %v, want ErrNotHomed", err)
	}

	if e.Moving() {
		t.Error("rejected move must not start")
	}
	if x, y := e.Steps(); x != 0 || y != 0 {
		t.Errorf("rejected move changed current steps to (%d, %d)", x, y)
	}
	if x, y := e.TargetSteps(); x != 0 || y != 0 {
		t.Errorf("rejected move changed target steps to (%d, %d)", x, y)
	}
	if hw.pulses[MotorA] != 0 || hw.pulses[MotorB] != 0 {
		t.Errorf("rejected move pulsed the motors: A=%d B=%d", hw.pulses[MotorA], hw.pulses[MotorB])
	}
}

func TestEngine_PureXMove(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, testLimits(), 2000)
	e.ResetOrigin()

	// 100 mm at 80 steps/mm: both motors run forward in lockstep on an H-Bot.
	if err := e.BeginMove(100, 0); err != nil {
		t.Fatal(err)
	}
	runMove(t, e, clk, 10000)

	if hw.pulses[MotorA] != 8000 || hw.pulses[MotorB] != 8000 {
		t.Errorf("pulses: A=%d B=%d, want 8000 each", hw.pulses[MotorA], hw.pulses[MotorB])
	}
	if !hw.forward[MotorA] || !hw.forward[MotorB] {
		t.Error("a pure +X move drives both motors forward")
	}
	if x, y := e.Position(); x != 100 || y != 0 {
		t.Errorf("final position (%g, %g), want (100, 0)", x, y)
	}
	if e.Moving() {
		t.Error("engine still moving after arrival")
	}
}

func TestEngine_ArrivalIsReportedOnce(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, testLimits(), 2000)
	e.ResetOrigin()

	if err := e.BeginMove(1, 0); err != nil {
		t.Fatal(err)
	}
	runMove(t, e, clk, 1000)

	pulses := hw.pulses
	for range 5 {
		clk.advance(e.stepDelay)
		if e.Tick() {
			t.Fatal("Tick reported arrival twice")
		}
	}
	if hw.pulses != pulses {
		t.Error("Tick pulsed the motors after arrival")
	}
}

func TestEngine_ClampsTarget(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, testLimits(), 2000)
	e.ResetOrigin()

	if err := e.BeginMove(-10, 500); err != nil {
		t.Fatal(err)
	}

	x, y := e.TargetSteps()
	if x != 0 || y != 400*80 {
		t.Errorf("target steps (%d, %d), want (0, %d)", x, y, 400*80)
	}
	e.Stop()
}

func TestEngine_ClampedMoveCompletes(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, Limits{MaxX: 10, MaxY: 10, StepsPerMM: 1, MinSpeed: 100, MaxSpeed: 4000}, 1000)
	e.ResetOrigin()

	if err := e.BeginMove(-5, 20); err != nil {
		t.Fatal(err)
	}
	runMove(t, e, clk, 1000)

	if x, y := e.Position(); x != 0 || y != 10 {
		t.Errorf("final position (%g, %g), want (0, 10)", x, y)
	}
}

func TestEngine_Stop(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, testLimits(), 2000)
	e.ResetOrigin()

	if err := e.BeginMove(100, 0); err != nil {
		t.Fatal(err)
	}
	for range 10 {
		e.Tick()
		clk.advance(e.stepDelay)
	}

	e.Stop()
	if e.Moving() {
		t.Error("engine still moving after Stop")
	}
	cx, cy := e.Steps()
	tx, ty := e.TargetSteps()
	if cx != tx || cy != ty {
		t.Errorf("Stop must freeze the target on the current steps: current (%d, %d), target (%d, %d)", cx, cy, tx, ty)
	}
	if e.Tick() {
		t.Error("Tick reported arrival for a stopped move")
	}
}

func TestEngine_SetSpeedClamps(t *testing.T) {
	hw := &recorderHW{}
	clk := newClock()
	e := NewEngine(hw, clk.now, testLimits(), 2000)

	tests := []struct {
		requested, want int
	}{
		{50, 100},
		{100, 100},
		{2000, 2000},
		{999999, 4000},
	}
	for _, tt := range tests {
		if got := e.SetSpeed(tt.requested); got != tt.want {
			t.Errorf("SetSpeed(%d) = %d, want %d", tt.requested, got, tt.want)
		}
		if e.Speed() != tt.want {
			t.Errorf("Speed() = %d after SetSpeed(%d), want %d", e.Speed(), tt.requested, tt.want)
		}
	}
}

func TestStepDelay(t *testing.T) {
	if d := StepDelay(2000); d != 500*time.Microsecond {
		t.Errorf("StepDelay(2000) = %v, want 500µs", d)
	}
	if d := StepDelay(100); d != 10*time.Millisecond {
		t.Errorf("StepDelay(100) = %v, want 10ms", d)
	}
}
