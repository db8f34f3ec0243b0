package teleop

import (
	"fmt"
	"strings"
)

// Direction is a discrete drive command.
type Direction int

const (
	None Direction = iota
	Stop
	Forward
	Back
	Left
	Right
	ForwardLeft
	ForwardRight
	BackLeft
	BackRight
)

const (
	// StraightSpeed is the axis magnitude for keyboard straight moves.
	StraightSpeed = 100
	// DiagonalSpeed keeps diagonal keyboard moves near StraightSpeed in magnitude (100*sin 45°).
	DiagonalSpeed = 71
	// PadDiagonalSpeed is the per-axis magnitude of the button pad's diagonal buttons.
	PadDiagonalSpeed = 60
)

var directionNames = map[Direction]string{
	None:         "none",
	Stop:         "stop",
	Forward:      "forward",
	Back:         "back",
	Left:         "left",
	Right:        "right",
	ForwardLeft:  "forward_left",
	ForwardRight: "forward_right",
	BackLeft:     "back_left",
	BackRight:    "back_right",
}

// String returns the snake_case name used on the HTTP surface.
func (d Direction) String() string {
	if s, ok := directionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection accepts a direction name or a pad button label
// (F, B, L, R, FL, FR, BL, BR, S).
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "f":
		return Forward, nil
	case "b":
		return Back, nil
	case "l":
		return Left, nil
	case "r":
		return Right, nil
	case "fl":
		return ForwardLeft, nil
	case "fr":
		return ForwardRight, nil
	case "bl":
		return BackLeft, nil
	case "br":
		return BackRight, nil
	case "s":
		return Stop, nil
	}
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return None, fmt.Errorf("unknown direction %q", s)
}

// unit returns the sign of each axis for d.
func (d Direction) unit() (x, y int) {
	switch d {
	case Forward:
		return 0, 1
	case Back:
		return 0, -1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	case ForwardLeft:
		return -1, 1
	case ForwardRight:
		return 1, 1
	case BackLeft:
		return -1, -1
	case BackRight:
		return 1, -1
	}
	return 0, 0
}

// IsDiagonal reports whether d moves on both axes.
func (d Direction) IsDiagonal() bool {
	x, y := d.unit()
	return x != 0 && y != 0
}

// Vector returns the keyboard drive vector for d.
func (d Direction) Vector() Vector {
	return d.scaled(StraightSpeed, DiagonalSpeed)
}

// PadVector returns the drive vector for a held pad button.
func (d Direction) PadVector() Vector {
	return d.scaled(StraightSpeed, PadDiagonalSpeed)
}

func (d Direction) scaled(straight, diagonal int) Vector {
	x, y := d.unit()
	m := straight
	if x != 0 && y != 0 {
		m = diagonal
	}
	return Vector{X: x * m, Y: y * m}
}

// Legacy returns the single-character command for d, or "" when the legacy
// protocol has no letter for it.
func (d Direction) Legacy() string {
	switch d {
	case Forward:
		return "F"
	case Back:
		return "B"
	case Left:
		return "L"
	case Right:
		return "R"
	case Stop:
		return "S"
	}
	return ""
}

// movementKey normalizes a keyboard key to one of "up", "down", "left",
// "right". The second result is false for keys that do not drive.
func movementKey(key string) (string, bool) {
	switch strings.ToLower(key) {
	case "w", "arrowup":
		return "up", true
	case "s", "arrowdown":
		return "down", true
	case "a", "arrowleft":
		return "left", true
	case "d", "arrowright":
		return "right", true
	}
	return "", false
}

// resolveKeys picks one direction from a set of held movement keys.
// Diagonals win over single axes, which win over Stop.
func resolveKeys(held map[string]bool) Direction {
	up, down, left, right := held["up"], held["down"], held["left"], held["right"]
	switch {
	case up && left:
		return ForwardLeft
	case up && right:
		return ForwardRight
	case down && left:
		return BackLeft
	case down && right:
		return BackRight
	case up:
		return Forward
	case down:
		return Back
	case left:
		return Left
	case right:
		return Right
	}
	return Stop
}
