package metrics

import (
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm        = 0o755
	defaultDBPath         = "/var/lib/picarctl/telemetry.db"
	defaultBackupDir      = "/var/lib/picarctl/backups"
	defaultBatchSize      = 50
	defaultBatchTimeout   = 5 * time.Second
	defaultSampleInterval = time.Second
)

type Config struct {
	DBPath       string
	BackupDir    string
	Enabled      bool
	BatchSize    int
	BatchTimeout time.Duration
	// SampleInterval is the minimum spacing of stored frames; the
	// publisher's cadence is far finer than history needs.
	SampleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:         defaultDBPath,
		BackupDir:      defaultBackupDir,
		Enabled:        false, // Disabled by default
		BatchSize:      defaultBatchSize,
		BatchTimeout:   defaultBatchTimeout,
		SampleInterval: defaultSampleInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if history is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize <= 0 || c.BatchTimeout <= 0 || c.SampleInterval < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize      int
			BatchTimeout   string
			SampleInterval string
		}{
			BatchSize:      c.BatchSize,
			BatchTimeout:   c.BatchTimeout.String(),
			SampleInterval: c.SampleInterval.String(),
		})
	}
	return nil
}
