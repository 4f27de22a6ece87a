// Package motortest provides an in-memory motor.Actuator for tests.
package motortest

import (
	"sync"

	"codeberg.org/mutker/picarctl/internal/motor"
)

// Call is one SetPower invocation.
type Call struct {
	Wheel motor.Wheel
	Power int
}

// Recorder records every SetPower call and the latest power per wheel.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	powers map[motor.Wheel]int
	// Fail, when set, makes SetPower return it for the given wheel.
	Fail map[motor.Wheel]error
}

func NewRecorder() *Recorder {
	return &Recorder{powers: make(map[motor.Wheel]int)}
}

func (r *Recorder) SetPower(w motor.Wheel, power int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.Fail[w]; err != nil {
		return err
	}
	r.calls = append(r.calls, Call{Wheel: w, Power: power})
	r.powers[w] = power

	return nil
}

// Powers returns a copy of the latest power per wheel.
func (r *Recorder) Powers() map[motor.Wheel]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[motor.Wheel]int, len(r.powers))
	for w, p := range r.powers {
		out[w] = p
	}

	return out
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Call(nil), r.calls...)
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = nil
}
