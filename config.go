package gantryd

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Debug  bool   `yaml:"debug"`
	Socket string `yaml:"socket"`

	Serial    Serial    `yaml:"serial"`
	Workspace Workspace `yaml:"workspace"`

	StepsPerMM int64  `yaml:"steps_per_mm"`
	Speed      Speed  `yaml:"speed"`
	Homing     Homing `yaml:"homing"`
	Driver     Driver `yaml:"driver"`
	Pins       Pins   `yaml:"pins"`

	InitialFanDuty    int      `yaml:"initial_fan_duty"`
	TelemetryInterval Duration `yaml:"telemetry_interval"`
}

// Serial describes the host-facing UART carrying the JSON protocol.
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Workspace struct {
	MaxX float64 `yaml:"max_x"` // mm
	MaxY float64 `yaml:"max_y"` // mm
}

type Speed struct {
	Default int `yaml:"default"` // steps/s
	Min     int `yaml:"min"`
	Max     int `yaml:"max"`
}

type Homing struct {
	Speed        int      `yaml:"speed"` // steps/s, slower than the default rate
	BackoffSteps int      `yaml:"backoff_steps"`
	Timeout      Duration `yaml:"timeout"`
}

// Driver describes the TMC2226 electrical configuration applied at startup.
type Driver struct {
	Port          string   `yaml:"port"` // single-wire UART shared by both drivers
	Addresses     [2]uint8 `yaml:"addresses"`
	RunCurrentMA  int      `yaml:"run_current_ma"`
	HoldCurrentMA int      `yaml:"hold_current_ma"`
	Microsteps    int      `yaml:"microsteps"`
	StealthChop   bool     `yaml:"stealthchop"`
}

type Pins struct {
	StepA   string   `yaml:"step_a"`
	DirA    string   `yaml:"dir_a"`
	EnableA string   `yaml:"enable_a"`
	StepB   string   `yaml:"step_b"`
	DirB    string   `yaml:"dir_b"`
	EnableB string   `yaml:"enable_b"`
	Limit   string   `yaml:"limit"`
	Magnets []string `yaml:"magnets"`
	Fans    []string `yaml:"fans"`
}

func Load(path string) (Config, error) {
	var c Config

	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()

	codec := yaml.NewDecoder(f)
	err = codec.Decode(&c)
	if err != nil {
		return c, err
	}

	return c, c.validate()
}

func (c *Config) validate() error {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}

	if c.Workspace.MaxX <= 0 || c.Workspace.MaxY <= 0 {
		return fmt.Errorf("workspace: bounds must be positive, got (%g, %g)", c.Workspace.MaxX, c.Workspace.MaxY)
	}

	if c.StepsPerMM <= 0 {
		return fmt.Errorf("steps_per_mm: must be positive, got %d", c.StepsPerMM)
	}

	if c.Speed.Min <= 0 || c.Speed.Default < c.Speed.Min || c.Speed.Max < c.Speed.Default {
		return fmt.Errorf("speed: want 0 < min <= default <= max, got %d/%d/%d", c.Speed.Min, c.Speed.Default, c.Speed.Max)
	}

	if c.Homing.Speed <= 0 || c.Homing.Speed > c.Speed.Default {
		return fmt.Errorf("homing: speed must be in (0, %d], got %d", c.Speed.Default, c.Homing.Speed)
	}
	if c.Homing.BackoffSteps <= 0 {
		return fmt.Errorf("homing: backoff_steps must be positive, got %d", c.Homing.BackoffSteps)
	}
	if c.Homing.Timeout.Duration == 0 {
		c.Homing.Timeout = Duration{30 * time.Second}
	}

	if c.InitialFanDuty < 0 || c.InitialFanDuty > 255 {
		return fmt.Errorf("initial_fan_duty: must be in [0, 255], got %d", c.InitialFanDuty)
	}

	if c.TelemetryInterval.Duration == 0 {
		c.TelemetryInterval = Duration{500 * time.Millisecond}
	}

	return nil
}
