package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mdouchement/gantryd/cmd/gantryctl/monitor"
	"github.com/mdouchement/gantryd/protocol"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.yaml.in/yaml/v4"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	port string
	baud int
)

func main() {
	client := &http.Client{}

	cmd := &cobra.Command{
		Use:     "gantryctl",
		Short:   "A ctl used to drive gantryd over its serial link",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.NoArgs,
	}
	cmd.PersistentFlags().StringVarP(&port, "port", "p", "", "Serial port (default: first USB serial port)")
	cmd.PersistentFlags().IntVar(&baud, "baud", 115200, "Serial baud rate")

	cmd.AddCommand(homeCommand())
	cmd.AddCommand(moveCommand())
	cmd.AddCommand(relCommand())
	cmd.AddCommand(stopCommand())
	cmd.AddCommand(positionCommand())
	cmd.AddCommand(magnetCommand())
	cmd.AddCommand(fanCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for gantryctl",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(cmd.Version)
		},
	})

	mcmd := monitor.Command(client)
	mcmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		socket, err := findSocket()
		if err != nil {
			return err
		}

		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
			DisableCompression: false,
		}
		return nil
	}
	cmd.AddCommand(mcmd)

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func homeCommand() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "home",
		Short: "Run the homing sequence and wait for the homed status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(protocol.Request{Cmd: protocol.CmdHome}, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 60*time.Second, "How long to await the homed status")
	return cmd
}

func moveCommand() *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "move X Y",
		Short: "Move to an absolute position in mm",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return err
			}
			y, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}

			req := protocol.Request{Cmd: protocol.CmdMoveAbsolute, X: &x, Y: &y}
			if speed > 0 {
				req.Speed = &speed
			}
			return request(req, 0)
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 0, "Step rate in steps/s (persists until changed)")
	return cmd
}

func relCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rel DX DY",
		Short: "Move relative to the current position in mm",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			dx, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return err
			}
			dy, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}

			return request(protocol.Request{Cmd: protocol.CmdMoveRelative, DX: &dx, DY: &dy}, 0)
		},
	}
}

func stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop any in-progress movement",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(protocol.Request{Cmd: protocol.CmdStop}, 2*time.Second)
		},
	}
}

func positionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "position",
		Short: "Print the current position",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return request(protocol.Request{Cmd: protocol.CmdGetPosition}, 2*time.Second)
		},
	}
}

func magnetCommand() *cobra.Command {
	var magnet int
	cmd := &cobra.Command{
		Use:       "magnet on|off",
		Short:     "Switch one electromagnet, or all of them",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(_ *cobra.Command, args []string) error {
			req := protocol.Request{Cmd: protocol.CmdMagnetOff}
			if args[0] == "on" {
				req.Cmd = protocol.CmdMagnetOn
			}
			if magnet > 0 {
				req.Magnet = &magnet
			}
			return request(req, 0)
		},
	}
	cmd.Flags().IntVarP(&magnet, "magnet", "m", 0, "Magnet channel 1-4 (default: all)")
	return cmd
}

func fanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fan FAN DUTY",
		Short: "Set one fan PWM duty (0-255)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			fan, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			duty, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return err
			}

			return request(protocol.Request{Cmd: protocol.CmdSetFan, Fan: &fan, Speed: &duty}, 0)
		},
	}
}

// request writes one command on the serial link and, when wait is positive,
// prints the first reply line.
func request(req protocol.Request, wait time.Duration) error {
	name, err := portName()
	if err != nil {
		return err
	}

	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	p.SetReadTimeout(200 * time.Millisecond)

	line, err := protocol.EncodeLine(req)
	if err != nil {
		return err
	}
	if _, err = p.Write(line); err != nil {
		return err
	}

	if wait <= 0 {
		return nil
	}

	var acc []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if err != nil {
			return err
		}

		acc = append(acc, buf[:n]...)
		if i := bytes.IndexByte(acc, '\n'); i >= 0 {
			fmt.Println(string(bytes.TrimSpace(acc[:i])))
			return nil
		}
	}

	return errors.New("timeout awaiting reply")
}

func portName() (string, error) {
	if port != "" {
		return port, nil
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("Using %s - PID: %s - VID: %s\n", p.Name, p.PID, p.VID)
			return p.Name, nil
		}
	}

	return "", errors.New("no serial port found, use --port")
}

//
//
//

type config struct {
	Socket string `yaml:"socket"`
}

func findSocket() (string, error) {
	socket := "/run/gantryd/gantryd.sock"
	if _, err := os.Stat(socket); err == nil {
		return socket, nil
	}

	u, err := user.Current()
	if err != nil {
		return "", err
	}

	var cfg config
	cpath := filepath.Join(u.HomeDir, ".config", "gantryctl", "gantryctl.yml") // Does not follow XDG..
	if fi, err := os.Stat(cpath); err == nil || fi != nil {
		p, err := os.ReadFile(cpath)
		if err != nil {
			return "", err
		}

		err = yaml.Unmarshal(p, &cfg)
		if err != nil {
			return "", err
		}

		if fi, err = os.Stat(cfg.Socket); err == nil || fi != nil {
			return cfg.Socket, nil
		}

		fmt.Println("Invalid socket path:", cfg.Socket)
	}

	fmt.Print("Enter a socket path: ")
	r := bufio.NewReader(os.Stdin)
	socket, err = r.ReadString('\n')
	if err != nil {
		return "", err
	}

	socket = strings.TrimSpace(socket)

	if err = os.MkdirAll(filepath.Dir(cpath), 0o755); err != nil {
		return "", err
	}

	cfg.Socket = socket
	p, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	return socket, os.WriteFile(cpath, p, 0o600)
}
