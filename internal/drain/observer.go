package drain

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Outcome of one graceful-drain observation.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed-out"
)

// Defaults for the observation loop.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxWait      = 60 * time.Second
	DefaultWarnEvery    = 15 * time.Second
	DefaultTailLines    = 5
	tailWindowBytes     = 4096
)

// DefaultMarkers are the trailing-log substrings taken as evidence that
// the backend finished persisting state. They match the lines the
// backend writes when its save-then-exit path runs.
func DefaultMarkers() []string {
	return []string{"data saved", "save-then-exit", "stop signal"}
}

// Config parameterizes an Observer. Zero values select the defaults.
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	WarnEvery    time.Duration
	Markers      []string
	TailLines    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.WarnEvery <= 0 {
		c.WarnEvery = DefaultWarnEvery
	}
	if len(c.Markers) == 0 {
		c.Markers = DefaultMarkers()
	}
	if c.TailLines <= 0 {
		c.TailLines = DefaultTailLines
	}
	return c
}

// Result summarizes one observation loop.
type Result struct {
	Outcome  Outcome
	Elapsed  time.Duration
	Ticks    int
	LastSize int64
	LastLine string
}

// Observer infers drain completion from the backend's append-only log,
// without any completion callback: a log that stopped growing since the
// previous tick and whose trailing lines contain a completion marker
// means the backend finished persisting. Quiescence alone is not proof
// of completion; an idle backend between work units looks the same as a
// finished one, so a quiet log without markers keeps the loop waiting
// until the bound expires.
type Observer struct {
	cfg    Config
	logger *slog.Logger
}

// New returns an Observer with cfg's zero values filled from defaults.
func New(cfg Config, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{cfg: cfg.withDefaults(), logger: logger}
}

// Observe polls logPath until a completion marker shows on a quiescent
// tick or MaxWait elapses. A missing log file is treated as "waiting"
// on every tick; absence is never promoted to completed. The log is
// read-only from here: whatever bytes are currently flushed are what we
// see, and a writer mid-append just registers as activity next tick.
// Context cancellation ends the loop on the timed-out path so the
// caller still converges to termination.
func (o *Observer) Observe(ctx context.Context, logPath string) Result {
	cfg := o.cfg
	start := time.Now()
	res := Result{Outcome: OutcomePending, LastSize: fileSize(logPath)}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(cfg.MaxWait)
	defer deadline.Stop()
	nextWarn := cfg.WarnEvery

	for {
		select {
		case <-ctx.Done():
			res.Outcome = OutcomeTimedOut
			res.Elapsed = time.Since(start)
			return res
		case <-deadline.C:
			res.Outcome = OutcomeTimedOut
			res.Elapsed = time.Since(start)
			o.logger.Warn("drain wait timed out",
				"elapsed", res.Elapsed.Round(time.Second), "ticks", res.Ticks)
			return res
		case <-ticker.C:
			res.Ticks++
			size := fileSize(logPath)
			switch {
			case size < 0:
				// No log sink yet; keep waiting.
			case size != res.LastSize:
				// Log is active; the backend is still working through
				// its current unit of work.
				res.LastSize = size
				o.logger.Debug("log active", "size", size)
			default:
				// Quiescent tick: check trailing content for markers.
				tail := tailLines(logPath, size, cfg.TailLines)
				if len(tail) > 0 {
					res.LastLine = tail[len(tail)-1]
				}
				if matchesAny(tail, cfg.Markers) {
					res.Outcome = OutcomeCompleted
					res.Elapsed = time.Since(start)
					return res
				}
			}
			if elapsed := time.Since(start); elapsed >= nextWarn {
				o.logger.Warn("still waiting for drain to finish",
					"elapsed", elapsed.Round(time.Second),
					"max_wait", cfg.MaxWait)
				nextWarn += cfg.WarnEvery
			}
		}
	}
}

// fileSize returns the log size, or -1 when the file does not exist.
func fileSize(path string) int64 {
	if path == "" {
		return -1
	}
	fi, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return fi.Size()
}

// tailLines reads up to n trailing lines from the file. Partial reads
// are fine; the log is being written concurrently and we only need the
// flushed suffix.
func tailLines(path string, size int64, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	off := size - tailWindowBytes
	if off < 0 {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return nil
	}
	b, err := io.ReadAll(f)
	if err != nil && len(b) == 0 {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func matchesAny(lines []string, markers []string) bool {
	for _, ln := range lines {
		for _, m := range markers {
			if m != "" && strings.Contains(ln, m) {
				return true
			}
		}
	}
	return false
}
