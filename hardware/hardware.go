// Package hardware holds the real collaborators of the motion core: the GPIO
// pins driving the steppers, magnets and fans, and the TMC2226 driver
// configuration UART.
package hardware

import (
	"fmt"
	"time"

	"github.com/mdouchement/gantryd/motion"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// pulseWidth keeps the step line high long enough for the TMC2226 to
	// register the edge.
	pulseWidth = 5 * time.Microsecond

	// fanPWMFrequency is the usual 4-pin PC fan control frequency.
	fanPWMFrequency = 25 * physic.KiloHertz
)

// Pins names the GPIO lines by their periph identifiers (e.g. "GPIO17").
type Pins struct {
	StepA, DirA, EnableA string
	StepB, DirB, EnableB string
	Limit                string
	Magnets              []string
	Fans                 []string
}

// GPIO implements motion.Hardware on top of periph.io pins.
type GPIO struct {
	step    [motion.Motors]gpio.PinOut
	dir     [motion.Motors]gpio.PinOut
	enable  [motion.Motors]gpio.PinOut
	limit   gpio.PinIn
	magnets []gpio.PinOut
	fans    []gpio.PinOut
}

func NewGPIO(pins Pins) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host: %w", err)
	}

	g := &GPIO{}

	var err error
	if g.step[motion.MotorA], err = out(pins.StepA); err != nil {
		return nil, err
	}
	if g.dir[motion.MotorA], err = out(pins.DirA); err != nil {
		return nil, err
	}
	if g.enable[motion.MotorA], err = out(pins.EnableA); err != nil {
		return nil, err
	}
	if g.step[motion.MotorB], err = out(pins.StepB); err != nil {
		return nil, err
	}
	if g.dir[motion.MotorB], err = out(pins.DirB); err != nil {
		return nil, err
	}
	if g.enable[motion.MotorB], err = out(pins.EnableB); err != nil {
		return nil, err
	}

	limit := gpioreg.ByName(pins.Limit)
	if limit == nil {
		return nil, fmt.Errorf("pin %s: not found", pins.Limit)
	}
	// The switch shorts to ground when hit.
	if err := limit.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("pin %s: %w", pins.Limit, err)
	}
	g.limit = limit

	for _, name := range pins.Magnets {
		p, err := out(name)
		if err != nil {
			return nil, err
		}
		g.magnets = append(g.magnets, p)
	}
	for _, name := range pins.Fans {
		p, err := out(name)
		if err != nil {
			return nil, err
		}
		g.fans = append(g.fans, p)
	}

	// Driver enable lines are active low.
	for _, p := range g.enable {
		if err := p.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("pin %s: %w", p.Name(), err)
		}
	}

	return g, nil
}

func out(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %s: not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("pin %s: %w", name, err)
	}
	return p, nil
}

func (g *GPIO) SetDirection(m motion.Motor, forward bool) {
	g.dir[m].Out(gpio.Level(forward))
}

func (g *GPIO) StepPulse(m motion.Motor) {
	g.step[m].Out(gpio.High)
	time.Sleep(pulseWidth)
	g.step[m].Out(gpio.Low)
}

func (g *GPIO) LimitTriggered() bool {
	return g.limit.Read() == gpio.Low
}

func (g *GPIO) SetMagnet(index int, on bool) error {
	if index < 0 || index >= len(g.magnets) {
		return fmt.Errorf("magnet %d: no such channel", index)
	}
	return g.magnets[index].Out(gpio.Level(on))
}

func (g *GPIO) SetFanDuty(index int, duty uint8) error {
	if index < 0 || index >= len(g.fans) {
		return fmt.Errorf("fan %d: no such channel", index)
	}

	d := gpio.Duty(int64(duty) * int64(gpio.DutyMax) / 255)
	return g.fans[index].PWM(d, fanPWMFrequency)
}
