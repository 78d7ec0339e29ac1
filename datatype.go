package gantryd

import "time"

const (
	MagnetChannels = 4
	FanChannels    = 4
)

// Telemetry is the monitor payload streamed over the SSE socket. It mirrors
// what the wire protocol exposes plus the actuator shadow state.
type Telemetry struct {
	State   string               `json:"state"`
	X       float64              `json:"x"`
	Y       float64              `json:"y"`
	Homed   bool                 `json:"homed"`
	Speed   int                  `json:"speed"` // steps/s
	Magnets [MagnetChannels]bool `json:"magnets"`
	Fans    [FanChannels]uint8   `json:"fans"`
}

const (
	eventUpdateTelemetry = "update-telemetry"
	eventWatch           = "watch"
	eventUnwatch         = "unwatch"
)

type event struct {
	name      string
	telemetry Telemetry
	monitorID int64
	monitor   chan<- []byte
}

func genID() int64 {
	time.Sleep(time.Nanosecond)
	return time.Now().UnixNano()
}
