// Package env holds the scan-wide configuration and shared mutable state
// every worker reads from or coordinates through: the console lock, the
// emergency-stop signal and the probe budget counters.
package env

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbrandt/sagescan/internal/prober"
)

// Config is populated directly from CLI flags (see cmd/sagescan), mirroring
// the teacher's flat root-command Config struct.
type Config struct {
	Protocol           prober.Protocol
	Timeout            time.Duration
	RetryDelay         time.Duration
	MaxRetries         int
	ProbingThreadDelay time.Duration
	StartTTL           uint8
	MaxTTLAllowed      uint8
	FixedFlow          bool
	Concurrency        int
	AttentionMessage   string
	Debug              bool
}

// DefaultConfig matches the original tool's defaults: two retries (three
// attempts in all), a quarter-second pause between targets in each worker,
// TTL search starting at 1 and capped at 48.
func DefaultConfig() Config {
	return Config{
		Protocol:           prober.ICMP,
		Timeout:            2 * time.Second,
		RetryDelay:         250 * time.Millisecond,
		MaxRetries:         2,
		ProbingThreadDelay: 250 * time.Millisecond,
		StartTTL:           1,
		MaxTTLAllowed:      48,
		Concurrency:        256,
		AttentionMessage:   "sagescan probe - see README for contact info",
	}
}

// Validate reports whether the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return errConfig("concurrency must be positive")
	}
	if c.MaxTTLAllowed == 0 {
		return errConfig("max TTL must be positive")
	}
	if c.StartTTL == 0 || c.StartTTL > c.MaxTTLAllowed {
		return errConfig("start TTL must be in [1, max TTL]")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

// Environment is the scan-wide handle passed to every worker: the resolved
// configuration, a shared logger, the console flush lock, and the
// cooperative emergency-stop signal that any worker can trigger on an
// unrecoverable socket failure to make every other worker wind down.
//
// Where the original tool polls a mutex-guarded boolean, Environment uses a
// context.Context/cancel pair, the idiomatic Go replacement for the same
// cooperative-cancellation pattern.
type Environment struct {
	Config Config
	Logger *slog.Logger

	consoleMu sync.Mutex

	stopCtx context.Context
	stop    context.CancelFunc
	stopped atomic.Bool

	probesSent  atomic.Int64
	targetsDone atomic.Int64
}

// New builds an Environment from cfg, writing log output to w (stdout when
// w is nil).
func New(cfg Config, w io.Writer) *Environment {
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	return &Environment{
		Config:  cfg,
		Logger:  logger,
		stopCtx: ctx,
		stop:    cancel,
	}
}

// Done returns the context that every worker should select on; it is
// cancelled once TriggerStop is called.
func (e *Environment) Done() <-chan struct{} {
	return e.stopCtx.Done()
}

// Context returns the emergency-stop context directly, for passing to
// Prober.Probe calls.
func (e *Environment) Context() context.Context {
	return e.stopCtx
}

// TriggerStop signals every worker to stop at its next opportunity. Safe to
// call concurrently and more than once; only the first call has effect.
func (e *Environment) TriggerStop() {
	if e.stopped.CompareAndSwap(false, true) {
		e.stop()
	}
}

// Stopped reports whether TriggerStop has been called.
func (e *Environment) Stopped() bool {
	return e.stopped.Load()
}

// FlushLog writes buf to the environment's logger atomically with respect
// to other FlushLog callers, mirroring the original tool's console mutex
// used to keep concurrent worker output from interleaving mid-line.
func (e *Environment) FlushLog(buf string) {
	if buf == "" {
		return
	}
	e.consoleMu.Lock()
	defer e.consoleMu.Unlock()
	e.Logger.Debug(buf)
}

// RecordProbe increments the total probe counter, used for progress
// reporting.
func (e *Environment) RecordProbe() {
	e.probesSent.Add(1)
}

// ProbesSent returns the running total of probes issued across all workers.
func (e *Environment) ProbesSent() int64 {
	return e.probesSent.Load()
}

// RecordTargetDone increments the completed-target counter.
func (e *Environment) RecordTargetDone() {
	e.targetsDone.Add(1)
}

// TargetsDone returns the running total of targets fully processed.
func (e *Environment) TargetsDone() int64 {
	return e.targetsDone.Load()
}
