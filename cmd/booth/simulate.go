package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/charbooth/internal/audio"
	"github.com/antoniostano/charbooth/internal/booth"
	"github.com/antoniostano/charbooth/internal/lighting"
	"github.com/antoniostano/charbooth/internal/protocol"
)

type simOptions struct {
	booths        int
	turns         int
	concurrency   int
	texts         []string
	personalities []string
	speak         bool
}

var defaultUtterances = []string{
	"Hello there, who are you?",
	"Tell me something surprising.",
	"How do I look today?",
	"What should I do this evening?",
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		opts          simOptions
		textsRaw      string
		personalities string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run many synthetic booths against the backend",
		Long: `Run synthetic booths concurrently. Each booth picks up, runs its turns
and hangs up, then per-turn generation latency is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if opts.texts, err = parseList(textsRaw, "|", defaultUtterances); err != nil {
				return fmt.Errorf("texts: %w", err)
			}
			if opts.personalities, err = parseList(personalities, ",", []string{cfg.DefaultPersonality}); err != nil {
				return fmt.Errorf("personalities: %w", err)
			}
			if err := opts.validate(); err != nil {
				return err
			}
			backend := booth.NewHTTPBackend(cfg.BackendURL, cfg.RequestTimeout, cfg.RetryPolicy())
			report, err := simulate(cmd.Context(), backend, cfg.BoothID, opts, logger)
			if err != nil {
				return err
			}
			report.write(cmd.OutOrStdout())
			if report.failures > 0 {
				return fmt.Errorf("%d of %d turns failed", report.failures, report.turns)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.booths, "booths", 4, "Number of simulated booths")
	cmd.Flags().IntVar(&opts.turns, "turns", 3, "Turns per booth")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Maximum booths running at once (0 means all)")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "Utterances separated by '|' (optional)")
	cmd.Flags().StringVar(&personalities, "personalities", "", "Comma-separated personalities assigned round-robin (default: config default)")
	cmd.Flags().BoolVar(&opts.speak, "speak", false, "Wait out synthesized playback between turns")
	return cmd
}

func (o simOptions) validate() error {
	if o.booths <= 0 {
		return fmt.Errorf("booths must be > 0")
	}
	if o.turns <= 0 {
		return fmt.Errorf("turns must be > 0")
	}
	if o.concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	return nil
}

func parseList(raw, sep string, fallback []string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no non-empty entries in %q", raw)
	}
	return out, nil
}

type simReport struct {
	booths    int
	turns     int
	failures  int
	latencies []time.Duration
	elapsed   time.Duration
}

func (r simReport) write(w io.Writer) {
	p50, p95, maxLatency := summarize(r.latencies)
	fmt.Fprintf(w, "simulate: booths=%d turns=%d failures=%d elapsed=%s\n", r.booths, r.turns, r.failures, r.elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "generate latency: p50=%s p95=%s max=%s\n", p50.Round(time.Millisecond), p95.Round(time.Millisecond), maxLatency.Round(time.Millisecond))
}

func summarize(latencies []time.Duration) (p50, p95, maxLatency time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), sorted[len(sorted)-1]
}

// percentile uses nearest rank on an ascending slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q*float64(len(sorted))+0.5) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// timedBackend records generation latency for every call that returns.
type timedBackend struct {
	booth.Backend
	mu        sync.Mutex
	latencies []time.Duration
}

func (b *timedBackend) Generate(ctx context.Context, req protocol.GenerateRequest) (protocol.GenerateResponse, error) {
	start := time.Now()
	res, err := b.Backend.Generate(ctx, req)
	if err == nil {
		b.mu.Lock()
		b.latencies = append(b.latencies, time.Since(start))
		b.mu.Unlock()
	}
	return res, err
}

type nopPlayer struct{}

func (nopPlayer) Play(context.Context, audio.Clip) error { return nil }

type nopDisplay struct{}

func (nopDisplay) Show(booth.Phase, string) {}

func simulate(ctx context.Context, backend booth.Backend, boothPrefix string, opts simOptions, logger *slog.Logger) (simReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timed := &timedBackend{Backend: backend}
	var player booth.Player = nopPlayer{}
	if opts.speak {
		player = booth.SleepPlayer{}
	}

	var (
		mu     sync.Mutex
		report = simReport{booths: opts.booths}
	)
	record := func(failed bool) {
		mu.Lock()
		defer mu.Unlock()
		report.turns++
		if failed {
			report.failures++
		}
	}

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if opts.concurrency > 0 {
		g.SetLimit(opts.concurrency)
	}
	for i := 0; i < opts.booths; i++ {
		id := fmt.Sprintf("%s-sim-%02d", boothPrefix, i+1)
		m := booth.NewMachine(booth.Deps{
			Backend: timed,
			Synth:   booth.ToneSynthesizer{SampleRate: 8000, PerChar: 5 * time.Millisecond, MaxLength: 2 * time.Second},
			Player:  player,
			Lights:  lighting.NullDriver{},
			Display: nopDisplay{},
		}, booth.MachineOptions{
			BoothID:     id,
			Personality: opts.personalities[i%len(opts.personalities)],
			Logger:      logger.With("booth_id", id),
		})
		g.Go(func() error {
			defer m.Hangup(gctx)
			if err := m.Pickup(gctx); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				for range opts.turns {
					record(true)
				}
				return nil
			}
			for t := range opts.turns {
				err := m.Turn(gctx, opts.texts[(i+t)%len(opts.texts)])
				if gctx.Err() != nil {
					return gctx.Err()
				}
				record(err != nil)
				if m.Phase() == booth.PhaseError {
					_ = m.Recover()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return simReport{}, err
	}
	report.elapsed = time.Since(started)
	report.latencies = timed.latencies
	return report, nil
}
