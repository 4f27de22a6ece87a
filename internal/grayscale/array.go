package grayscale

import (
	"sync/atomic"

	"codeberg.org/mutker/picarctl/internal/errors"
)

// Reading is one sample of the array: left, center, right.
type Reading [3]int

func (r Reading) Left() int   { return r[0] }
func (r Reading) Center() int { return r[1] }
func (r Reading) Right() int  { return r[2] }

// Array is the left/center/right sensor triple.
type Array struct {
	channels [3]*Channel
}

// NewArray builds the three channels named in order left, center, right.
func NewArray(b Transactor, names []string, candidates []uint16) (*Array, error) {
	errFactory := errors.New()

	if len(names) != len(Reading{}) {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
			Channels []string
		}{
			Channels: names,
		})
	}

	a := &Array{}
	for i, name := range names {
		index, err := ParseChannel(name)
		if err != nil {
			return nil, err
		}
		if a.channels[i], err = NewChannel(b, index, candidates); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Read samples all three channels in order. A failure on any channel fails
// the whole reading.
func (a *Array) Read() (Reading, error) {
	var r Reading
	for i, c := range a.channels {
		v, err := c.Read()
		if err != nil {
			return Reading{}, err
		}
		r[i] = v
	}

	return r, nil
}

// Latest holds the most recent successful Reading so readers other than the
// control loop never sample the bus themselves.
type Latest struct {
	v atomic.Pointer[Reading]
}

func (l *Latest) Store(r Reading) {
	l.v.Store(&r)
}

// Load returns the last stored reading, or false if none was stored yet.
func (l *Latest) Load() (Reading, bool) {
	r := l.v.Load()
	if r == nil {
		return Reading{}, false
	}

	return *r, true
}
