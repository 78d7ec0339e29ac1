package motion

import (
	"errors"
	"testing"
	"time"
)

// runHoming ticks the sequence with the clock advancing one inter-step delay
// per pass, until it completes or fails.
func runHoming(t *testing.T, h *Homing, clk *clock, maxTicks int) error {
	t.Helper()

	for range maxTicks {
		done, err := h.Tick()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		clk.advance(h.stepDelay)
	}
	t.Fatalf("homing still running after %d ticks", maxTicks)
	return nil
}

func TestHoming_SeekAndBackOff(t *testing.T) {
	hw := &recorderHW{trigger: 50}
	clk := newClock()
	h := NewHoming(hw, clk.now, 1000, 10, time.Minute)

	h.Start()
	if hw.forward[MotorA] || hw.forward[MotorB] {
		t.Error("seeking must drive both motors backwards")
	}
	if err := runHoming(t, h, clk, 10000); err != nil {
		t.Fatal(err)
	}

	// 50 pulses to reach the switch, then the 10-step back-off.
	if hw.pulses[MotorA] != 60 || hw.pulses[MotorB] != 60 {
		t.Errorf("pulses: A=%d B=%d, want 60 each", hw.pulses[MotorA], hw.pulses[MotorB])
	}
	if !hw.forward[MotorA] || !hw.forward[MotorB] {
		t.Error("back-off must drive both motors forward")
	}
	if h.Active() {
		t.Error("sequence still active after completion")
	}
}

func TestHoming_Timeout(t *testing.T) {
	hw := &recorderHW{} // the switch never triggers
	clk := newClock()
	h := NewHoming(hw, clk.now, 1000, 10, 50*time.Millisecond)

	h.Start()

	var err error
	for range 10000 {
		if _, err = h.Tick(); err != nil {
			break
		}
		clk.advance(h.stepDelay)
	}
	if !errors.Is(err, ErrHomingTimeout) {
		t.Fatalf("got %v, want ErrHomingTimeout", err)
	}
	if h.Active() {
		t.Error("sequence still active after timeout")
	}
}

func TestHoming_Abort(t *testing.T) {
	hw := &recorderHW{trigger: 1 << 40}
	clk := newClock()
	h := NewHoming(hw, clk.now, 1000, 10, time.Minute)

	h.Start()
	for range 5 {
		if _, err := h.Tick(); err != nil {
			t.Fatal(err)
		}
		clk.advance(h.stepDelay)
	}

	h.Abort()
	if h.Active() {
		t.Error("sequence still active after Abort")
	}

	pulses := hw.pulses
	done, err := h.Tick()
	if done || err != nil {
		t.Errorf("Tick after Abort: done=%t err=%v", done, err)
	}
	if hw.pulses != pulses {
		t.Error("Tick pulsed the motors after Abort")
	}
}

func TestHoming_Restart(t *testing.T) {
	hw := &recorderHW{trigger: 20}
	clk := newClock()
	h := NewHoming(hw, clk.now, 1000, 5, time.Minute)

	h.Start()
	h.Abort()
	h.Start()
	if err := runHoming(t, h, clk, 1000); err != nil {
		t.Fatal(err)
	}
	if h.Active() {
		t.Error("sequence still active after completion")
	}
}
