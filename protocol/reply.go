package protocol

// Reply type discriminators.
const (
	TypeStatus   = "status"
	TypePosition = "position"
)

// ControllerMotor tags every status reply so a host multiplexing several
// boards on one link can tell them apart.
const ControllerMotor = "motor"

// Status values emitted by the controller.
const (
	StatusReady   = "ready"
	StatusHomed   = "homed"
	StatusStopped = "stopped"
	StatusError   = "error"
)

type Status struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Controller string `json:"controller"`
	Message    string `json:"message,omitempty"`
}

type Position struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Homed bool    `json:"homed"`
}

func NewStatus(status, message string) Status {
	return Status{
		Type:       TypeStatus,
		Status:     status,
		Controller: ControllerMotor,
		Message:    message,
	}
}

func NewPosition(x, y float64, homed bool) Position {
	return Position{
		Type:  TypePosition,
		X:     x,
		Y:     y,
		Homed: homed,
	}
}
