package main

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kbrandt/sagescan/internal/display"
	"github.com/kbrandt/sagescan/internal/env"
	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/internal/scan"
	"github.com/kbrandt/sagescan/pkg/target"
)

// Config holds the parsed CLI configuration.
type Config struct {
	TargetsFile string
	Protocol    string
	Timeout     string
	RetryDelay  string
	MaxRetries  int
	StartTTL    int
	MaxTTL      int
	FixedFlow   bool
	Concurrency int
	Simple      bool
	TUI         bool
	Debug       bool
}

var validProtocols = map[string]bool{
	"icmp": true,
	"udp":  true,
	"tcp":  true,
}

// NewRootCmd creates and returns the root cobra command.
func NewRootCmd() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "sagescan <targets-file>",
		Short: "TTL-minimal route discovery and trail-resolution scanner",
		Long: `sagescan discovers, for a list of already-responsive IPv4 targets, the
minimum TTL that reaches each one, the intermediate router route along the
way, a trail fingerprint usable for later alias resolution, and a
port-unreachable alias hint.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !validProtocols[cfg.Protocol] {
				return fmt.Errorf("invalid protocol %q: must be icmp, udp, or tcp", cfg.Protocol)
			}
			if cfg.TUI && cfg.Simple {
				return fmt.Errorf("--tui and --simple are mutually exclusive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.TargetsFile = args[0]
			return runScan(cmd, &cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Protocol, "protocol", "icmp", "Probe protocol: icmp|udp|tcp")
	cmd.Flags().StringVar(&cfg.Timeout, "timeout", "2s", "Per-probe timeout")
	cmd.Flags().StringVar(&cfg.RetryDelay, "retry-delay", "250ms", "Delay between retries of an unanswered probe")
	cmd.Flags().IntVar(&cfg.MaxRetries, "max-retries", 2, "Retries for an unanswered probe before accepting a timeout")
	cmd.Flags().IntVar(&cfg.StartTTL, "start-ttl", 1, "Initial TTL for forward probing")
	cmd.Flags().IntVar(&cfg.MaxTTL, "max-ttl", 48, "Maximum TTL before giving up on a target")
	cmd.Flags().BoolVar(&cfg.FixedFlow, "fixed-flow", false, "Send every UDP probe to one destination port (source port still chosen per probe)")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 256, "Number of concurrent workers")
	cmd.Flags().BoolVar(&cfg.Simple, "simple", false, "Plain text output only, no live display")
	cmd.Flags().BoolVar(&cfg.TUI, "tui", false, "Live progress TUI")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Verbose per-probe logging")

	return cmd
}

func protocolFromFlag(s string) prober.Protocol {
	switch s {
	case "udp":
		return prober.UDP
	case "tcp":
		return prober.TCP
	default:
		return prober.ICMP
	}
}

func loadTargets(path string) ([]*target.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()

	var entries []*target.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", line, err)
		}
		if !addr.Is4() {
			return nil, fmt.Errorf("target %q: only IPv4 is supported", line)
		}
		entries = append(entries, target.NewEntry(addr))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return entries, nil
}

func runScan(cmd *cobra.Command, cliCfg *Config) error {
	if err := prober.CheckPrivileges(); err != nil {
		return err
	}

	targets, err := loadTargets(cliCfg.TargetsFile)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("targets file %q has no targets", cliCfg.TargetsFile)
	}

	timeout, err := time.ParseDuration(cliCfg.Timeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout: %w", err)
	}
	retryDelay, err := time.ParseDuration(cliCfg.RetryDelay)
	if err != nil {
		return fmt.Errorf("invalid --retry-delay: %w", err)
	}

	envCfg := env.DefaultConfig()
	envCfg.Protocol = protocolFromFlag(cliCfg.Protocol)
	envCfg.Timeout = timeout
	envCfg.RetryDelay = retryDelay
	envCfg.MaxRetries = cliCfg.MaxRetries
	envCfg.StartTTL = uint8(cliCfg.StartTTL)
	envCfg.MaxTTLAllowed = uint8(cliCfg.MaxTTL)
	envCfg.FixedFlow = cliCfg.FixedFlow
	envCfg.Concurrency = cliCfg.Concurrency
	envCfg.Debug = cliCfg.Debug

	if err := envCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	e := env.New(envCfg, cmd.OutOrStdout())
	scanner := scan.NewScanner(e)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cliCfg.TUI {
		return runWithTUI(ctx, e, scanner, targets)
	}
	return runPlain(ctx, cmd, e, scanner, targets)
}

func runPlain(ctx context.Context, cmd *cobra.Command, e *env.Environment, scanner *scan.Scanner, targets []*target.Entry) error {
	scanErr := scanner.Scan(ctx, targets)

	renderer := display.NewSimpleRenderer()
	renderer.RenderResults(cmd.OutOrStdout(), targets)

	if scanErr != nil {
		return scanErr
	}
	return nil
}

func runWithTUI(ctx context.Context, e *env.Environment, scanner *scan.Scanner, targets []*target.Entry) error {
	model := display.NewProgressModel(fmt.Sprintf("%d targets", len(targets)), len(targets))
	program := tea.NewProgram(model)

	scanDone := make(chan error, 1)
	go func() {
		scanDone <- scanner.Scan(ctx, targets)
	}()

	go func() {
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case err := <-scanDone:
				model.Finish(err)
				return
			case <-ticker.C:
				model.SetTotals(int(e.TargetsDone()), e.ProbesSent())
			}
		}
	}()

	_, err := program.Run()
	return err
}
