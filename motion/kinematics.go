package motion

// MotorSteps maps a remaining Cartesian step delta to the differential step
// pair of the H-Bot drive. Motor A spans the X+Y diagonal and motor B the
// X-Y diagonal, so a pure +X move needs both motors forward while a pure +Y
// move needs A forward and B backward.
func MotorSteps(remainingX, remainingY int64) (stepsA, stepsB int64) {
	return remainingX + remainingY, remainingX - remainingY
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
