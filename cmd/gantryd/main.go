package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"runtime"

	"github.com/mdouchement/gantryd"
	"github.com/mdouchement/gantryd/hardware"
	"github.com/mdouchement/gantryd/motion"
	"github.com/mdouchement/logger"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	cpath string
	dummy bool
)

func main() {
	cmd := &cobra.Command{
		Use:     "gantryd",
		Short:   "Motion controller for a two-motor H-Bot gantry",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.NoArgs,
		RunE:    daemon,
	}
	cmd.Flags().StringVarP(&cpath, "config", "c", "/etc/gantryd/gantryd.yml", "Configfile path")
	cmd.Flags().BoolVarP(&dummy, "dummy", "", false, "Start gantryd with dummy hardware and the protocol on stdio")
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for gantryd",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(cmd.Version)
		},
	})

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func daemon(_ *cobra.Command, _ []string) error {
	cfg, err := gantryd.Load(cpath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	h := logger.NewSlogTextHandler(os.Stderr, &logger.SlogTextOption{
		Level:            level,
		ForceColors:      true,
		ForceFormatting:  true,
		PrefixRE:         regexp.MustCompile(`^(\[.*?\])\s`),
		DisableTimestamp: true, // Provided by journalctl
	})
	log := logger.WrapSlogHandler(h)
	ctx := logger.WithLogger(context.Background(), log)

	log.Infof("gantryd version %s", version)

	var hw motion.Hardware
	var link io.ReadWriter
	if dummy {
		d := gantryd.NewDummyHardware()
		if cfg.Debug {
			d.SetLogger(log)
		}
		hw = d
		link = stdio{}
		log.Info("Dummy hardware, protocol on stdio")
	} else {
		gpio, err := hardware.NewGPIO(hardware.Pins{
			StepA: cfg.Pins.StepA, DirA: cfg.Pins.DirA, EnableA: cfg.Pins.EnableA,
			StepB: cfg.Pins.StepB, DirB: cfg.Pins.DirB, EnableB: cfg.Pins.EnableB,
			Limit:   cfg.Pins.Limit,
			Magnets: cfg.Pins.Magnets,
			Fans:    cfg.Pins.Fans,
		})
		if err != nil {
			return fmt.Errorf("gpio: %w", err)
		}
		hw = gpio

		if cfg.Driver.Port != "" {
			if err = configureDrivers(log, cfg); err != nil {
				return err
			}
		}

		port, err := serial.Open(cfg.Serial.Port, &serial.Mode{
			BaudRate: cfg.Serial.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return fmt.Errorf("host link: %w", err)
		}
		defer port.Close()
		link = port

		log.Infof("Host link on %s @ %d", cfg.Serial.Port, cfg.Serial.Baud)
	}

	ctx, cancel := context.WithCancel(ctx)

	controller, err := gantryd.New(cfg, hw, link)
	if err != nil {
		cancel()
		return err
	}
	controller.Launch(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	<-ctx.Done()
	cancel()

	log.Info("Gracefully shutdown")
	return nil
}

// configureDrivers applies the electrical configuration once at startup, the
// UART is not needed afterwards.
func configureDrivers(log logger.Logger, cfg gantryd.Config) error {
	tmc, err := hardware.OpenTMC2226(cfg.Driver.Port)
	if err != nil {
		return fmt.Errorf("driver uart: %w", err)
	}
	defer tmc.Close()

	settings := hardware.DriverSettings{
		RunCurrentMA:  cfg.Driver.RunCurrentMA,
		HoldCurrentMA: cfg.Driver.HoldCurrentMA,
		Microsteps:    cfg.Driver.Microsteps,
		StealthChop:   cfg.Driver.StealthChop,
	}
	for i, address := range cfg.Driver.Addresses {
		if err = tmc.Configure(address, settings); err != nil {
			return fmt.Errorf("driver %c: %w", 'A'+i, err)
		}
	}

	log.Info("TMC2226 drivers configured")
	return nil
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
