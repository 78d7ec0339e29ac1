package gantryd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const configFixture = `
debug: true
socket: /run/gantryd/gantryd.sock
serial:
  port: /dev/ttyAMA0
workspace:
  max_x: 400
  max_y: 400
steps_per_mm: 80
speed:
  default: 2000
  min: 100
  max: 4000
homing:
  speed: 1000
  backoff_steps: 200
  timeout: 45s
driver:
  port: /dev/ttyAMA2
  addresses: [0, 1]
  run_current_ma: 800
  hold_current_ma: 400
  microsteps: 16
  stealthchop: true
pins:
  step_a: GPIO17
  dir_a: GPIO27
  enable_a: GPIO22
  step_b: GPIO23
  dir_b: GPIO24
  enable_b: GPIO25
  limit: GPIO5
  magnets: [GPIO6, GPIO13, GPIO19, GPIO26]
  fans: [GPIO12, GPIO16, GPIO20, GPIO21]
initial_fan_duty: 128
`

func loadConfig(t *testing.T, document string) (Config, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gantryd.yml")
	if err := os.WriteFile(path, []byte(document), 0o600); err != nil {
		t.Fatal(err)
	}
	return Load(path)
}

func TestLoad(t *testing.T) {
	c, err := loadConfig(t, configFixture)
	if err != nil {
		t.Fatal(err)
	}

	if c.Serial.Port != "/dev/ttyAMA0" {
		t.Errorf("serial port %q", c.Serial.Port)
	}
	if c.Serial.Baud != 115200 {
		t.Errorf("baud %d, want the 115200 default", c.Serial.Baud)
	}
	if c.Workspace.MaxX != 400 || c.Workspace.MaxY != 400 {
		t.Errorf("workspace (%g, %g)", c.Workspace.MaxX, c.Workspace.MaxY)
	}
	if c.StepsPerMM != 80 {
		t.Errorf("steps_per_mm %d", c.StepsPerMM)
	}
	if c.Speed.Default != 2000 || c.Speed.Min != 100 || c.Speed.Max != 4000 {
		t.Errorf("speed %+v", c.Speed)
	}
	if c.Homing.Timeout.Duration != 45*time.Second {
		t.Errorf("homing timeout %v", c.Homing.Timeout)
	}
	if c.TelemetryInterval.Duration != 500*time.Millisecond {
		t.Errorf("telemetry interval %v, want the 500ms default", c.TelemetryInterval)
	}
	if c.Driver.Addresses != [2]uint8{0, 1} {
		t.Errorf("driver addresses %v", c.Driver.Addresses)
	}
	if len(c.Pins.Magnets) != 4 || len(c.Pins.Fans) != 4 {
		t.Errorf("pins %+v", c.Pins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	base := func() Config {
		c, err := loadConfig(t, configFixture)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero workspace", func(c *Config) { c.Workspace.MaxX = 0 }},
		{"negative workspace", func(c *Config) { c.Workspace.MaxY = -10 }},
		{"zero steps_per_mm", func(c *Config) { c.StepsPerMM = 0 }},
		{"min above default", func(c *Config) { c.Speed.Min = 3000 }},
		{"max below default", func(c *Config) { c.Speed.Max = 1000 }},
		{"homing faster than default", func(c *Config) { c.Homing.Speed = 2500 }},
		{"zero backoff", func(c *Config) { c.Homing.BackoffSteps = 0 }},
		{"fan duty above 255", func(c *Config) { c.InitialFanDuty = 300 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected an error")
	}
}
