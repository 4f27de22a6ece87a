// Package metrics keeps a sqlite history of telemetry frames, one session
// per process run.
package metrics

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/telemetry"
)

type service struct {
	repo   Repository
	cfg    Config
	mu     sync.Mutex
	last   time.Time
	closed bool
}

// No-op implementation
type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If history is disabled, return a no-op recorder
	if !cfg.Enabled {
		log.Debug().Msg("Telemetry history disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create telemetry history repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("session_id", repo.SessionID()).
		Dur("sample_interval", cfg.SampleInterval).
		Msg("Telemetry history initialized")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (*service) Name() string {
	return "history"
}

// Publish stores frame unless one was stored less than SampleInterval ago.
func (s *service) Publish(ctx context.Context, frame *telemetry.Frame) error {
	errFactory := errors.New()

	if frame == nil {
		return errFactory.New(ErrInvalidFrame)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errFactory.New(ErrServiceClosed)
	}
	at := frame.Time()
	if !s.last.IsZero() && at.Sub(s.last) < s.cfg.SampleInterval {
		s.mu.Unlock()
		return nil
	}
	s.last = at
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(ctx, frame); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.repo.Close()
}

func (*noopRecorder) Name() string {
	return "history"
}

func (*noopRecorder) Publish(_ context.Context, _ *telemetry.Frame) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}
