package entity

import "reflect"

// ParsedFrame is C2's output (spec §4.2): the accumulated state of one
// in-flight response as observed so far. Body/Reason are the full
// concatenation of deltas seen to date, not just the newest delta — C5
// computes deltas by diffing successive frames (P6).
type ParsedFrame struct {
	Body     string
	Reason   string
	Function []ToolCallFrame
	Done     bool
	Error    *FrameError
}

// ToolCallFrame is one accumulated tool invocation as decoded from the
// provider's 11-slot payload.
type ToolCallFrame struct {
	Name   string
	Params map[string]interface{}
}

// FrameError carries an upstream error surfaced inline on the stream
// bus rather than via a Go error return, matching the wire protocol
// where an error arrives as just another frame.
type FrameError struct {
	Status  int
	Message string
}

// Equal reports whether two frames carry the same observable state.
// C3 only republishes a frame to the bus when this is false, avoiding
// redundant bus traffic for an unchanged buffer.
func (f ParsedFrame) Equal(o ParsedFrame) bool {
	if f.Body != o.Body || f.Reason != o.Reason || f.Done != o.Done {
		return false
	}
	if (f.Error == nil) != (o.Error == nil) {
		return false
	}
	if f.Error != nil && (*f.Error != *o.Error) {
		return false
	}
	if len(f.Function) != len(o.Function) {
		return false
	}
	for i := range f.Function {
		if f.Function[i].Name != o.Function[i].Name || !reflect.DeepEqual(f.Function[i].Params, o.Function[i].Params) {
			return false
		}
	}
	return true
}
