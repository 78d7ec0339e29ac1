package hardware

import (
	"fmt"
	"math"
	"time"

	"go.bug.st/serial"
)

// TMC2226 register addresses.
const (
	regGCONF     = 0x00
	regIHOLDIRUN = 0x10
	regCHOPCONF  = 0x6C
	regPWMCONF   = 0x70
)

// rsense is the sense resistor of the usual TMC2226 breakout boards, in ohms.
const rsense = 0.11

// DriverSettings is the electrical configuration applied to one driver.
type DriverSettings struct {
	RunCurrentMA  int
	HoldCurrentMA int
	Microsteps    int // power of two, 1 to 256
	StealthChop   bool
}

// TMC2226 configures the stepper drivers over their shared single-wire UART.
// Both drivers hang off the same bus and are told apart by the address set on
// their MS pins. Write-only: step/dir control stays on the GPIO lines.
type TMC2226 struct {
	port serial.Port
}

func OpenTMC2226(port string) (*TMC2226, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	return &TMC2226{port: p}, nil
}

func (t *TMC2226) Close() error {
	return t.port.Close()
}

// Configure applies current limits, microstepping and chopper mode to the
// driver at the given UART address.
func (t *TMC2226) Configure(address uint8, s DriverSettings) error {
	// pdn_disable: keep UART mode active. mstep_reg_select: microstep
	// resolution comes from CHOPCONF, not the MS pins.
	gconf := uint32(1<<6 | 1<<7)
	if !s.StealthChop {
		gconf |= 1 << 2 // en_spreadcycle
	}
	if err := t.writeRegister(address, regGCONF, gconf); err != nil {
		return fmt.Errorf("gconf: %w", err)
	}

	mres, err := microstepResolution(s.Microsteps)
	if err != nil {
		return err
	}
	chopconf := uint32(5)  // toff, enables the driver
	chopconf |= 2 << 15    // tbl blanking time
	chopconf |= mres << 24
	chopconf |= 1 << 28 // intpol: interpolate to 256 microsteps
	if err := t.writeRegister(address, regCHOPCONF, chopconf); err != nil {
		return fmt.Errorf("chopconf: %w", err)
	}

	irun := currentScale(s.RunCurrentMA)
	ihold := currentScale(s.HoldCurrentMA)
	iholdirun := uint32(ihold) | uint32(irun)<<8 | 8<<16 // iholddelay=8
	if err := t.writeRegister(address, regIHOLDIRUN, iholdirun); err != nil {
		return fmt.Errorf("ihold_irun: %w", err)
	}

	if s.StealthChop {
		// pwm_autoscale + pwm_autograd on top of the reset defaults.
		pwmconf := uint32(0xC10D0024) | 1<<18 | 1<<19
		if err := t.writeRegister(address, regPWMCONF, pwmconf); err != nil {
			return fmt.Errorf("pwmconf: %w", err)
		}
	}

	return nil
}

// writeRegister sends one 8-byte write datagram: sync, address, register with
// the write flag, 32-bit value MSB first, CRC.
func (t *TMC2226) writeRegister(address, register uint8, value uint32) error {
	datagram := []byte{
		0x05,
		address,
		register | 0x80,
		byte(value >> 24),
		byte(value >> 16),
		byte(value >> 8),
		byte(value),
		0,
	}
	datagram[7] = crc8(datagram[:7])

	if _, err := t.port.Write(datagram); err != nil {
		return err
	}

	// The one-wire bus needs a pause between datagrams.
	time.Sleep(2 * time.Millisecond)
	return nil
}

// crc8 is the CRC of the TMC UART datagrams: x^8 + x^2 + x + 1, bits
// processed LSB first.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for range 8 {
			if (crc>>7)^(b&1) != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}

// microstepResolution maps a microstep count to the CHOPCONF MRES field
// (0 is 256 microsteps, 8 is full steps).
func microstepResolution(microsteps int) (uint32, error) {
	if microsteps < 1 || microsteps > 256 || microsteps&(microsteps-1) != 0 {
		return 0, fmt.Errorf("microsteps: want a power of two in [1, 256], got %d", microsteps)
	}
	return uint32(8 - int(math.Log2(float64(microsteps)))), nil
}

// currentScale converts an RMS current to the 5-bit vsense=0 scale.
func currentScale(currentMA int) uint8 {
	cs := 32*math.Sqrt2*float64(currentMA)/1000*(rsense+0.02)/0.325 - 1
	return uint8(min(max(math.Round(cs), 0), 31))
}
