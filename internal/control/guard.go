package control

import "sync"

// Guard owns access to the wheels for the loop and the ingest task. A
// maneuver holds the wheels for its whole length; operator actuation that
// arrives meanwhile is skipped while the command itself is still merged.
type Guard struct {
	driver Driver
	mu     sync.Mutex
	busy   bool
}

func NewGuard(d Driver) *Guard {
	return &Guard{driver: d}
}

// Maneuver runs fn with exclusive use of the wheels. It waits for an
// in-flight Do to finish first.
func (g *Guard) Maneuver(fn func(d Driver) error) error {
	g.mu.Lock()
	g.busy = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.busy = false
		g.mu.Unlock()
	}()

	return fn(g.driver)
}

// Do runs fn against the wheels unless a maneuver holds them. It reports
// whether fn ran.
func (g *Guard) Do(fn func(d Driver) error) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return false, nil
	}

	return true, fn(g.driver)
}

// Busy reports whether a maneuver holds the wheels.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.busy
}
