package motion

type (
	Motor uint8
	State uint8
)

const (
	MotorA Motor = iota // drives the X+Y diagonal
	MotorB              // drives the X-Y diagonal

	Motors = 2
)

const (
	StateNotHomed State = iota
	StateIdle
	StateHoming
	StateMoving
)

func (s State) String() string {
	switch s {
	case StateNotHomed:
		return "not_homed"
	case StateIdle:
		return "idle"
	case StateHoming:
		return "homing"
	case StateMoving:
		return "moving"
	}
	return "unknown"
}
