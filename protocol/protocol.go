// Package protocol implements the line-oriented JSON command/reply protocol
// spoken between the gantry controller and its host: one UTF-8 JSON document
// per line, newline-terminated, human-diagnosable with a serial terminal.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command names accepted on the wire.
const (
	CmdHome         = "home"
	CmdMoveAbsolute = "move_absolute"
	CmdMoveRelative = "move_relative"
	CmdMagnetOn     = "magnet_on"
	CmdMagnetOff    = "magnet_off"
	CmdSetFan       = "set_fan"
	CmdStop         = "stop"
	CmdGetPosition  = "get_position"
)

var ErrMissingCommand = errors.New("missing cmd field")

// Request is one decoded host command. Optional fields are pointers so the
// router can tell an absent field from a zero value.
type Request struct {
	Cmd    string   `json:"cmd"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	DX     *float64 `json:"dx,omitempty"`
	DY     *float64 `json:"dy,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Magnet *int     `json:"magnet,omitempty"`
	Fan    *int     `json:"fan,omitempty"`
}

// ParseCommand decodes one line into a Request. Malformed JSON and documents
// without a cmd field are errors; the caller logs and drops them.
func ParseCommand(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return req, fmt.Errorf("parse command: %w", err)
	}
	if req.Cmd == "" {
		return req, ErrMissingCommand
	}
	return req, nil
}

// EncodeLine serializes any protocol message as a single newline-terminated
// record.
func EncodeLine(v any) ([]byte, error) {
	p, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode line: %w", err)
	}
	return append(p, '\n'), nil
}
