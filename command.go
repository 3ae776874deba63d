package waveviewer

import (
	"errors"
	"fmt"
)

type CommandType string

const (
	CommandAddLine    CommandType = "add_line"
	CommandRemoveLine CommandType = "remove_line"
	CommandClear      CommandType = "clear"
	CommandAutoscale  CommandType = "autoscale"
)

// ErrUnknownCommand is returned when a command tag is not one of the four
// known types. Seeing it inside the renderer means the two processes
// disagree on the wire format.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one instruction from the controller to the renderer. Only the
// fields relevant to Type are set.
type Command struct {
	Type   CommandType `json:"type"`
	Name   string      `json:"name,omitempty"`
	T      []float64   `json:"t,omitempty"`
	Ys     [][]float64 `json:"ys,omitempty"`
	Offset float64     `json:"offset,omitempty"`
}

func AddLineCommand(line Line) Command {
	return Command{
		Type:   CommandAddLine,
		Name:   line.Name,
		T:      line.T,
		Ys:     line.Ys,
		Offset: line.Offset,
	}
}

func RemoveLineCommand(name string) Command {
	return Command{Type: CommandRemoveLine, Name: name}
}

func ClearCommand() Command {
	return Command{Type: CommandClear}
}

func AutoscaleCommand() Command {
	return Command{Type: CommandAutoscale}
}

// Line returns the line carried by an add_line command.
func (c Command) Line() Line {
	return Line{
		Name:   c.Name,
		T:      c.T,
		Ys:     c.Ys,
		Offset: c.Offset,
	}
}

func (c Command) String() string {
	switch c.Type {
	case CommandAddLine:
		return fmt.Sprintf("add_line(%q, %d samples x %d series, offset=%g)", c.Name, len(c.T), len(c.Ys), c.Offset)
	case CommandRemoveLine:
		return fmt.Sprintf("remove_line(%q)", c.Name)
	default:
		return string(c.Type) + "()"
	}
}
