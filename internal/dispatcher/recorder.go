package dispatcher

import (
	"context"
	"sync"
)

// Call is one recorded sink or pixel invocation.
type Call struct {
	Target  string         `json:"target" yaml:"target"`
	Command string         `json:"command" yaml:"command"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Call targets.
const (
	TargetSink  = "sink"
	TargetPixel = "pixel"
)

// Recorder is an in-memory Sink and Pixel that records every call. It backs
// trace replays and tests.
type Recorder struct {
	mu          sync.Mutex
	calls       []Call
	unavailable bool
	err         error
}

// NewRecorder returns an available Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SetAvailable toggles whether the recorder reports itself as available.
func (r *Recorder) SetAvailable(available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = !available
}

// FailWith makes every later call record and then return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Available implements Availability.
func (r *Recorder) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.unavailable
}

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, cmd Command, name string, params map[string]any) error {
	return r.record(Call{Target: TargetSink, Command: string(cmd), Name: name, Params: params})
}

// Grant implements Pixel.
func (r *Recorder) Grant(context.Context) error {
	return r.record(Call{Target: TargetPixel, Command: "grant"})
}

// Revoke implements Pixel.
func (r *Recorder) Revoke(context.Context) error {
	return r.record(Call{Target: TargetPixel, Command: "revoke"})
}

// Track implements Pixel.
func (r *Recorder) Track(_ context.Context, name string, params map[string]any) error {
	return r.record(Call{Target: TargetPixel, Command: "track", Name: name, Params: params})
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.err
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Events returns the recorded sink events named name.
func (r *Recorder) Events(name string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Target == TargetSink && c.Command == string(CommandEvent) && c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
