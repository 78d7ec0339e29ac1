package gantryd

import (
	"fmt"
	"sync"

	"github.com/mdouchement/gantryd/motion"
	"github.com/mdouchement/logger"
)

// A DummyHardware should only be used for dev & tests. It records every pulse
// and simulates the limit switch: seeking backwards long enough triggers it,
// backing off releases it.
type DummyHardware struct {
	sync sync.Mutex
	log  logger.Logger

	forward [motion.Motors]bool
	pulses  [motion.Motors]int64
	seek    int64
	trigger int64
	magnets map[int]bool
	fans    map[int]uint8
}

func NewDummyHardware() *DummyHardware {
	h := &DummyHardware{
		trigger: 200,
		magnets: make(map[int]bool, MagnetChannels),
		fans:    make(map[int]uint8, FanChannels),
	}
	for i := range MagnetChannels {
		h.magnets[i] = false
	}
	for i := range FanChannels {
		h.fans[i] = 0
	}

	return h
}

func (h *DummyHardware) SetLogger(l logger.Logger) {
	h.log = l
}

// SetLimitAfter overrides how many backward pulses on motor A it takes to
// trigger the simulated limit switch.
func (h *DummyHardware) SetLimitAfter(pulses int64) {
	h.sync.Lock()
	defer h.sync.Unlock()

	h.trigger = pulses
}

func (h *DummyHardware) SetDirection(m motion.Motor, forward bool) {
	h.sync.Lock()
	defer h.sync.Unlock()

	h.forward[m] = forward
}

func (h *DummyHardware) StepPulse(m motion.Motor) {
	h.sync.Lock()
	defer h.sync.Unlock()

	h.pulses[m]++
	if m != motion.MotorA {
		return
	}

	if h.forward[m] {
		if h.seek > 0 {
			h.seek--
		}
	} else {
		h.seek++
	}
}

func (h *DummyHardware) LimitTriggered() bool {
	h.sync.Lock()
	defer h.sync.Unlock()

	return h.seek >= h.trigger
}

func (h *DummyHardware) SetMagnet(index int, on bool) error {
	h.sync.Lock()
	defer h.sync.Unlock()

	if index < 0 || index >= MagnetChannels {
		return fmt.Errorf("magnet %d: no such channel", index)
	}

	h.magnets[index] = on
	if h.log != nil {
		h.log.Debugf("Magnet %d: %t", index+1, on)
	}
	return nil
}

func (h *DummyHardware) SetFanDuty(index int, duty uint8) error {
	h.sync.Lock()
	defer h.sync.Unlock()

	if index < 0 || index >= FanChannels {
		return fmt.Errorf("fan %d: no such channel", index)
	}

	h.fans[index] = duty
	if h.log != nil {
		h.log.Debugf("Fan %d duty: %d", index+1, duty)
	}
	return nil
}

func (h *DummyHardware) Pulses(m motion.Motor) int64 {
	h.sync.Lock()
	defer h.sync.Unlock()

	return h.pulses[m]
}

func (h *DummyHardware) Magnet(index int) bool {
	h.sync.Lock()
	defer h.sync.Unlock()

	return h.magnets[index]
}

func (h *DummyHardware) FanDuty(index int) uint8 {
	h.sync.Lock()
	defer h.sync.Unlock()

	return h.fans[index]
}
