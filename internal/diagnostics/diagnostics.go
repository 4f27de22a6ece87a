// Package diagnostics samples host health for the telemetry stream: CPU
// temperature and load, memory and root filesystem usage.
package diagnostics

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

const (
	defaultRoot     = "/"
	defaultDisk     = "/"
	defaultInterval = time.Second

	thermalZone = "sys/class/thermal/thermal_zone0/temp"
	procStat    = "proc/stat"
	procMeminfo = "proc/meminfo"
)

// Usage is a capacity figure in bytes.
type Usage struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Percent float64 `json:"percent"`
}

func newUsage(total, free uint64) Usage {
	u := Usage{Total: total}
	if total == 0 {
		return u
	}
	if free > total {
		free = total
	}
	u.Used = total - free
	u.Percent = round1(float64(u.Used) * 100 / float64(total))

	return u
}

func (u Usage) String() string {
	return humanize.Bytes(u.Used) + "/" + humanize.Bytes(u.Total)
}

// Report is one diagnostics sample.
type Report struct {
	CPUTemperature float64 `json:"cpu_temperature"`
	CPUUsage       float64 `json:"cpu_usage"`
	RAM            Usage   `json:"ram"`
	Disk           Usage   `json:"disk"`
}

type Config struct {
	// Root is prepended to the /proc and /sys paths.
	Root string
	// Disk is the mount point whose usage is reported.
	Disk string
	// Interval is how long a sample is reused before the host is read again.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Root:     defaultRoot,
		Disk:     defaultDisk,
		Interval: defaultInterval,
	}
}

type cpuTimes struct {
	idle, total uint64
}

// Sampler collects Reports. It is safe for concurrent use.
type Sampler struct {
	cfg    Config
	statfs func(path string, st *unix.Statfs_t) error
	now    func() time.Time

	mu      sync.Mutex
	prev    cpuTimes
	last    Report
	sampled time.Time
}

func NewSampler(cfg Config) *Sampler {
	if cfg.Root == "" {
		cfg.Root = defaultRoot
	}
	if cfg.Disk == "" {
		cfg.Disk = defaultDisk
	}

	return &Sampler{
		cfg:    cfg,
		statfs: unix.Statfs,
		now:    time.Now,
	}
}

// Report returns the current sample, reading the host at most once per
// Interval. A failed source leaves its fields zero and is reported in the
// returned error; the rest of the Report is still filled in.
func (s *Sampler) Report() (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.sampled.IsZero() && now.Sub(s.sampled) < s.cfg.Interval {
		return s.last, nil
	}

	var (
		r    Report
		errs []error
		err  error
	)
	if r.CPUTemperature, err = s.temperature(); err != nil {
		errs = append(errs, err)
	}
	if r.CPUUsage, err = s.cpuUsage(); err != nil {
		errs = append(errs, err)
	}
	if r.RAM, err = s.memory(); err != nil {
		errs = append(errs, err)
	}
	if r.Disk, err = s.disk(); err != nil {
		errs = append(errs, err)
	}

	s.last = r
	s.sampled = now

	return r, errors.Join(errs...)
}

func (s *Sampler) path(rel string) string {
	return filepath.Join(s.cfg.Root, rel)
}

func (s *Sampler) temperature() (float64, error) {
	data, err := os.ReadFile(s.path(thermalZone))
	if err != nil {
		return 0, sourceError(thermalZone, err)
	}

	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, sourceError(thermalZone, err)
	}

	return round1(float64(milli) / 1000), nil
}

// cpuUsage is the busy share since the previous sample, or since boot on
// the first call.
func (s *Sampler) cpuUsage() (float64, error) {
	data, err := os.ReadFile(s.path(procStat))
	if err != nil {
		return 0, sourceError(procStat, err)
	}

	cur, err := parseCPUTimes(data)
	if err != nil {
		return 0, sourceError(procStat, err)
	}

	idle := cur.idle - s.prev.idle
	total := cur.total - s.prev.total
	s.prev = cur
	if total == 0 {
		return 0, nil
	}

	return round1(float64(total-idle) * 100 / float64(total)), nil
}

func parseCPUTimes(data []byte) (cpuTimes, error) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, errors.New().WithMessage(errors.ErrOperationFailed, "unexpected cpu line")
	}

	var t cpuTimes
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return cpuTimes{}, err
		}
		t.total += v
		// idle and iowait
		if i == 3 || i == 4 {
			t.idle += v
		}
	}

	return t, nil
}

func (s *Sampler) memory() (Usage, error) {
	f, err := os.Open(s.path(procMeminfo))
	if err != nil {
		return Usage{}, sourceError(procMeminfo, err)
	}
	defer f.Close()

	values := make(map[string]uint64, 2)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok || (key != "MemTotal" && key != "MemAvailable") {
			continue
		}
		kb, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimSpace(rest), " kB"), 10, 64)
		if err != nil {
			return Usage{}, sourceError(procMeminfo, err)
		}
		values[key] = kb * 1024
	}
	if err := scanner.Err(); err != nil {
		return Usage{}, sourceError(procMeminfo, err)
	}

	return newUsage(values["MemTotal"], values["MemAvailable"]), nil
}

func (s *Sampler) disk() (Usage, error) {
	var st unix.Statfs_t
	if err := s.statfs(s.cfg.Disk, &st); err != nil {
		return Usage{}, sourceError(s.cfg.Disk, err)
	}

	bsize := uint64(st.Bsize)

	return newUsage(st.Blocks*bsize, st.Bavail*bsize), nil
}

func sourceError(source string, err error) error {
	return errors.New().WithData(errors.ErrOperationFailed, struct {
		Source string
		Error  string
	}{
		Source: source,
		Error:  err.Error(),
	})
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
