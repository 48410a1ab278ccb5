package env

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate_RejectsZeroConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for zero concurrency")
	}
}

func TestConfig_Validate_RejectsStartTTLAboveMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartTTL = cfg.MaxTTLAllowed + 1
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when start TTL exceeds max TTL")
	}
}

func TestConfig_Validate_RejectsZeroStartTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a zero start TTL")
	}
}

func TestEnvironment_TriggerStop_CancelsDoneChannel(t *testing.T) {
	e := New(DefaultConfig(), nil)

	select {
	case <-e.Done():
		t.Fatal("did not expect Done to be closed before TriggerStop")
	default:
	}

	e.TriggerStop()

	select {
	case <-e.Done():
	default:
		t.Fatal("expected Done to be closed after TriggerStop")
	}
	if !e.Stopped() {
		t.Error("expected Stopped to report true after TriggerStop")
	}
}

func TestEnvironment_TriggerStop_IsIdempotent(t *testing.T) {
	e := New(DefaultConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.TriggerStop()
		}()
	}
	wg.Wait()

	if !e.Stopped() {
		t.Error("expected Stopped to be true")
	}
}

func TestEnvironment_FlushLog_WritesNonEmptyBuffer(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Debug = true
	e := New(cfg, &buf)

	e.FlushLog("hello from a worker")

	if !bytes.Contains(buf.Bytes(), []byte("hello from a worker")) {
		t.Errorf("expected log output to contain flushed text, got %q", buf.String())
	}
}

func TestEnvironment_FlushLog_SkipsEmptyBuffer(t *testing.T) {
	var buf bytes.Buffer
	e := New(DefaultConfig(), &buf)

	e.FlushLog("")

	if buf.Len() != 0 {
		t.Errorf("expected no log output for an empty buffer, got %q", buf.String())
	}
}

func TestEnvironment_Counters_AccumulateAcrossGoroutines(t *testing.T) {
	e := New(DefaultConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.RecordProbe()
			e.RecordTargetDone()
		}()
	}
	wg.Wait()

	if e.ProbesSent() != 50 {
		t.Errorf("expected 50 probes recorded, got %d", e.ProbesSent())
	}
	if e.TargetsDone() != 50 {
		t.Errorf("expected 50 targets recorded done, got %d", e.TargetsDone())
	}
}

func TestEnvironment_Context_CancelledAfterTriggerStop(t *testing.T) {
	e := New(DefaultConfig(), nil)
	ctx := e.Context()

	e.TriggerStop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled")
	}
}
