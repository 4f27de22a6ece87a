package diagnostics

import (
	"time"

	"golang.org/x/sys/unix"
)

func (s *Sampler) SetStatfs(fn func(path string, st *unix.Statfs_t) error) {
	s.statfs = fn
}

func (s *Sampler) SetClock(fn func() time.Time) {
	s.now = fn
}
