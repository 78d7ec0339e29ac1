package gantryd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mdouchement/gantryd/motion"
	"github.com/mdouchement/gantryd/protocol"
	"github.com/mdouchement/logger"
)

// Controller routes host commands to the motion engine, the homing sequencer
// and the actuator channels. All mutable state (position, controller state,
// actuator shadow state) is owned by the single control goroutine started by
// Launch; the serial reader and the telemetry fan-out run on the side and
// only exchange data through channels.
type Controller struct {
	engine   *motion.Engine
	homing   *motion.Homing
	hw       motion.Hardware
	link     io.ReadWriter
	lines    chan []byte
	events   chan event
	listener net.Listener

	telemetryEvery time.Duration
	magnets        [MagnetChannels]bool
	fans           [FanChannels]uint8
}

func New(cfg Config, hw motion.Hardware, link io.ReadWriter) (*Controller, error) {
	c := &Controller{
		engine: motion.NewEngine(hw, time.Now, motion.Limits{
			MaxX:       cfg.Workspace.MaxX,
			MaxY:       cfg.Workspace.MaxY,
			StepsPerMM: cfg.StepsPerMM,
			MinSpeed:   cfg.Speed.Min,
			MaxSpeed:   cfg.Speed.Max,
		}, cfg.Speed.Default),
		homing: motion.NewHoming(hw, time.Now,
			cfg.Homing.Speed, cfg.Homing.BackoffSteps, cfg.Homing.Timeout.Duration),
		hw:             hw,
		link:           link,
		lines:          make(chan []byte, 32),
		events:         make(chan event, 10),
		telemetryEvery: cfg.TelemetryInterval.Duration,
	}

	// Startup actuator state: all magnets off, fans at the configured duty.
	for i := range MagnetChannels {
		if err := hw.SetMagnet(i, false); err != nil {
			return nil, fmt.Errorf("magnet %d: %w", i+1, err)
		}
	}
	for i := range FanChannels {
		duty := uint8(cfg.InitialFanDuty)
		if err := hw.SetFanDuty(i, duty); err != nil {
			return nil, fmt.Errorf("fan %d: %w", i+1, err)
		}
		c.fans[i] = duty
	}

	if cfg.Socket == "" {
		return c, nil
	}

	err := os.MkdirAll(filepath.Dir(cfg.Socket), 0o755)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if _, err := os.Stat(cfg.Socket); err == nil {
		fmt.Printf("Removing existing %s\n", cfg.Socket)
		os.Remove(cfg.Socket)
	}
	c.listener, err = net.Listen("unix", cfg.Socket)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	return c, nil
}

func (c *Controller) Launch(ctx context.Context) {
	log := logger.LogWith(ctx)

	go c.eventLoop(ctx)

	if c.listener != nil {
		http.HandleFunc("/monitor", c.monitor(log))
		go func() {
			for {
				log.Info("Starting HTTP server on ", c.listener.Addr().String())
				err := http.Serve(c.listener, nil)
				if err != nil {
					log.WithError(err).Error("Could not serve HTTP")
				}
				time.Sleep(2 * time.Second)
			}
		}()
	}

	go c.readLines(ctx, log)
	go c.run(ctx, log)
}

// readLines feeds newline-delimited commands from the host link into the
// control loop. The link's own buffer absorbs bursts; anything beyond the
// channel capacity simply waits here.
func (c *Controller) readLines(ctx context.Context, log logger.Logger) {
	scanner := bufio.NewScanner(c.link)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		buf := make([]byte, len(line))
		copy(buf, line)

		select {
		case c.lines <- buf:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.WithError(err).Error("Could not read host link")
	}
}

// run is the control loop: cooperative, run-to-completion. While the gantry
// moves or homes it alternates between draining one pending command and
// issuing one motion tick, sleeping only until the next pulse is due. At
// rest it blocks until a command or the telemetry interval arrives.
func (c *Controller) run(ctx context.Context, log logger.Logger) {
	c.reply(log, protocol.NewStatus(protocol.StatusReady, "motor controller initialized"))
	c.publish()

	ticker := time.NewTicker(c.telemetryEvery)

	for {
		for c.engine.Moving() || c.homing.Active() {
			select {
			case <-ctx.Done():
				c.shutdown(ticker, log)
				return
			case line := <-c.lines:
				c.handle(log, line)
			default:
				c.tick(log)
				if wait := c.pulseWait(); wait > 0 {
					time.Sleep(wait)
				}
			}
		}

		select {
		case <-ctx.Done():
			c.shutdown(ticker, log)
			return
		case line := <-c.lines:
			c.handle(log, line)
		case <-ticker.C:
			c.publish()
		}
	}
}

func (c *Controller) shutdown(ticker *time.Ticker, log logger.Logger) {
	ticker.Stop()
	if c.listener != nil {
		if err := c.listener.Close(); err != nil {
			log.WithError(err).Error("Could not close socket listener")
		}
		if err := os.Remove(c.listener.Addr().String()); err != nil && !errors.Is(err, os.ErrNotExist) {
			// listener.Close() should remove the socket but ceinture et bretelles!
			log.WithError(err).Errorf("Could not remove socket %s", c.listener.Addr().String())
		}
	}
	close(c.events)
}

// tick advances whichever sequence is active by at most one step pair.
func (c *Controller) tick(log logger.Logger) {
	if c.homing.Active() {
		done, err := c.homing.Tick()
		if err != nil {
			log.WithError(err).Error("Homing failed")
			c.reply(log, protocol.NewStatus(protocol.StatusError, "homing timeout"))
			c.publish()
			return
		}
		if done {
			c.engine.ResetOrigin()
			log.Info("Homing complete")
			c.reply(log, protocol.NewStatus(protocol.StatusHomed, "gantry homed to (0, 0)"))
			c.publish()
		}
		return
	}

	if c.engine.Tick() {
		x, y := c.engine.Position()
		log.Infof("Movement complete at (%.2f, %.2f)", x, y)
		c.reply(log, protocol.NewPosition(x, y, c.engine.Homed()))
		c.publish()
	}
}

func (c *Controller) pulseWait() time.Duration {
	if c.homing.Active() {
		return c.homing.NextPulseIn()
	}
	return c.engine.NextPulseIn()
}

// handle dispatches one decoded request. Malformed input and unknown command
// names are logged and dropped without a reply.
func (c *Controller) handle(log logger.Logger, line []byte) {
	req, err := protocol.ParseCommand(line)
	if err != nil {
		log.WithError(err).Warnf("Dropping malformed command %q", line)
		return
	}

	switch req.Cmd {
	case protocol.CmdHome:
		log.Info("Starting homing sequence")
		c.engine.InvalidateHome()
		c.engine.Stop()
		c.homing.Start()
	case protocol.CmdMoveAbsolute:
		if req.Speed != nil {
			c.engine.SetSpeed(int(*req.Speed))
		}
		c.beginMove(log, value(req.X), value(req.Y))
	case protocol.CmdMoveRelative:
		x, y := c.engine.Position()
		c.beginMove(log, x+value(req.DX), y+value(req.DY))
	case protocol.CmdMagnetOn:
		c.setMagnets(log, req.Magnet, true)
	case protocol.CmdMagnetOff:
		c.setMagnets(log, req.Magnet, false)
	case protocol.CmdSetFan:
		fan, duty := 1, 128
		if req.Fan != nil {
			fan = *req.Fan
		}
		if req.Speed != nil {
			duty = int(*req.Speed)
		}
		c.setFan(log, fan, duty)
	case protocol.CmdStop:
		c.homing.Abort()
		c.engine.Stop()
		c.reply(log, protocol.NewStatus(protocol.StatusStopped, "movement stopped"))
	case protocol.CmdGetPosition:
		x, y := c.engine.Position()
		c.reply(log, protocol.NewPosition(x, y, c.engine.Homed()))
	default:
		log.Warnf("Unknown command: %s", req.Cmd)
	}

	c.publish()
}

func (c *Controller) beginMove(log logger.Logger, x, y float64) {
	err := c.engine.BeginMove(x, y)
	if errors.Is(err, motion.ErrNotHomed) {
		log.Error("Cannot move: gantry not homed")
		c.reply(log, protocol.NewStatus(protocol.StatusError, "gantry not homed"))
		return
	}

	log.Infof("Moving to (%.2f, %.2f) at %d steps/s", x, y, c.engine.Speed())
}

// setMagnets switches one channel, or all of them when index is absent.
// The wire protocol numbers magnets 1 to 4; invalid indices are dropped.
func (c *Controller) setMagnets(log logger.Logger, index *int, on bool) {
	if index == nil {
		for i := range MagnetChannels {
			c.setMagnet(log, i+1, on)
		}
		return
	}

	c.setMagnet(log, *index, on)
}

func (c *Controller) setMagnet(log logger.Logger, index int, on bool) {
	if index < 1 || index > MagnetChannels {
		log.Warnf("Magnet %d: no such channel", index)
		return
	}

	if err := c.hw.SetMagnet(index-1, on); err != nil {
		log.WithError(err).Errorf("Could not switch magnet %d", index)
		return
	}

	c.magnets[index-1] = on
	log.Infof("Magnet %d: %s", index, onoff(on))
}

// setFan applies one PWM duty, clamped to [0, 255]. Fans are numbered 1 to 4
// on the wire; invalid indices are dropped.
func (c *Controller) setFan(log logger.Logger, index, duty int) {
	if index < 1 || index > FanChannels {
		log.Warnf("Fan %d: no such channel", index)
		return
	}

	duty = min(max(duty, 0), 255)

	if err := c.hw.SetFanDuty(index-1, uint8(duty)); err != nil {
		log.WithError(err).Errorf("Could not set fan %d", index)
		return
	}

	c.fans[index-1] = uint8(duty)
	log.Infof("Fan %d duty: %d", index, duty)
}

func (c *Controller) reply(log logger.Logger, v any) {
	p, err := protocol.EncodeLine(v)
	if err != nil {
		log.WithError(err).Error("Could not encode reply") // Should never happen
		return
	}

	if _, err = c.link.Write(p); err != nil {
		log.WithError(err).Error("Could not write reply")
	}
}

func (c *Controller) state() motion.State {
	switch {
	case c.homing.Active():
		return motion.StateHoming
	case c.engine.Moving():
		return motion.StateMoving
	case !c.engine.Homed():
		return motion.StateNotHomed
	}
	return motion.StateIdle
}

func (c *Controller) telemetry() Telemetry {
	x, y := c.engine.Position()
	return Telemetry{
		State:   c.state().String(),
		X:       x,
		Y:       y,
		Homed:   c.engine.Homed(),
		Speed:   c.engine.Speed(),
		Magnets: c.magnets,
		Fans:    c.fans,
	}
}

func (c *Controller) publish() {
	select {
	case c.events <- event{name: eventUpdateTelemetry, telemetry: c.telemetry()}:
	default: // The fan-out lags behind, drop rather than stall the control loop.
	}
}

func (c *Controller) eventLoop(ctx context.Context) {
	log := logger.LogWith(ctx)
	watchers := map[int64]chan<- []byte{}

	var payload []byte
	for e := range c.events {
		switch e.name {
		case eventUpdateTelemetry:
			var err error
			payload, err = json.Marshal(e.telemetry)
			if err != nil {
				log.WithError(err).Error("Could not serialize telemetry") // Should never happen
				continue
			}

			for _, watcher := range watchers {
				watcher <- payload
			}
		case eventWatch:
			watchers[e.monitorID] = e.monitor
			if payload != nil {
				e.monitor <- payload
			}
		case eventUnwatch:
			close(watchers[e.monitorID])
			delete(watchers, e.monitorID)
		}
	}
}

func (c *Controller) monitor(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Info("Monitor client connected")

		// Set http headers required for SSE.
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		disconnected := r.Context().Done()

		id := genID()
		ch := make(chan []byte, 20)
		c.events <- event{name: eventWatch, monitorID: id, monitor: ch}

		rc := http.NewResponseController(w)
		for {
			select {
			case <-disconnected:
				log.Info("Monitor client disconnected")
				c.events <- event{name: eventUnwatch, monitorID: id}
				return
			case payload := <-ch:
				_, err := w.Write(append(payload, '\n', '\n'))
				if err != nil {
					log.WithError(err).Error("Could not write monitor SSE payload")
					return
				}

				err = rc.Flush()
				if err != nil {
					log.WithError(err).Error("Could not flush monitor SSE payload")
					return
				}
			}
		}
	}
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func onoff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
