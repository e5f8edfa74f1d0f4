package booth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type EventKind int

const (
	EventPickup EventKind = iota
	EventUtterance
	EventHangup
)

func (k EventKind) String() string {
	switch k {
	case EventPickup:
		return "pickup"
	case EventUtterance:
		return "utterance"
	case EventHangup:
		return "hangup"
	default:
		return "unknown"
	}
}

// Event is a handset or capture signal delivered to a Runner.
type Event struct {
	Kind EventKind
	Text string
}

// Runner owns one Machine and feeds it events from a single loop. Network and
// playback work runs off the loop so a hangup can cancel it.
type Runner struct {
	machine  *Machine
	events   chan Event
	cooldown time.Duration
	logger   *slog.Logger

	// OnIdle, if set, is called each time a unit of work finishes.
	OnIdle func(Phase)
}

func NewRunner(m *Machine, errorCooldown time.Duration, logger *slog.Logger) *Runner {
	if errorCooldown <= 0 {
		errorCooldown = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		machine:  m,
		events:   make(chan Event, 16),
		cooldown: errorCooldown,
		logger:   logger,
	}
}

func (r *Runner) Machine() *Machine { return r.machine }

// Send queues an event for the loop.
func (r *Runner) Send(ctx context.Context, ev Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx ends, then hangs up.
func (r *Runner) Run(ctx context.Context) error {
	lights := r.machine.deps.Lights
	if err := lights.Start(ctx); err != nil {
		r.logger.Warn("lighting start failed", "booth_id", r.machine.opts.BoothID, "error", err)
	}
	defer func() {
		if err := lights.Stop(); err != nil {
			r.logger.Warn("lighting stop failed", "booth_id", r.machine.opts.BoothID, "error", err)
		}
	}()
	r.machine.deps.Display.Show(PhaseIdle, MessageIdle)

	var (
		done       chan struct{}
		cancelWork context.CancelFunc
		cooldown   *time.Timer
		cooldownC  <-chan time.Time
	)
	stopCooldown := func() {
		if cooldown != nil {
			cooldown.Stop()
			cooldown, cooldownC = nil, nil
		}
	}
	start := func(work func(context.Context)) {
		workCtx, cancel := context.WithCancel(ctx)
		cancelWork = cancel
		done = make(chan struct{})
		go func(ch chan struct{}) {
			defer close(ch)
			work(workCtx)
		}(done)
	}
	interrupt := func() {
		if done == nil {
			return
		}
		cancelWork()
		<-done
		done = nil
	}

	for {
		select {
		case <-ctx.Done():
			interrupt()
			stopCooldown()
			r.machine.Hangup(context.WithoutCancel(ctx))
			return nil

		case ev := <-r.events:
			switch ev.Kind {
			case EventHangup:
				interrupt()
				stopCooldown()
				r.machine.Hangup(ctx)
				r.idle()
			case EventPickup, EventUtterance:
				if done != nil {
					r.logger.Info("booth busy, event dropped", "booth_id", r.machine.opts.BoothID, "event", ev.Kind.String())
					continue
				}
				if r.machine.Phase() == PhaseError {
					r.logger.Info("booth cooling down, event dropped", "booth_id", r.machine.opts.BoothID, "event", ev.Kind.String())
					continue
				}
				if ev.Kind == EventPickup {
					start(func(ctx context.Context) { r.ignored(ev, r.machine.Pickup(ctx)) })
				} else {
					text := ev.Text
					start(func(ctx context.Context) { r.ignored(ev, r.machine.Turn(ctx, text)) })
				}
			}

		case <-done:
			done = nil
			cancelWork()
			if r.machine.Phase() == PhaseError && cooldown == nil {
				cooldown = time.NewTimer(r.cooldown)
				cooldownC = cooldown.C
			}
			r.idle()

		case <-cooldownC:
			cooldown, cooldownC = nil, nil
			_ = r.machine.Recover()
			r.idle()
		}
	}
}

// ignored logs events the machine rejected in its current phase. Turn
// failures are already logged by the machine.
func (r *Runner) ignored(ev Event, err error) {
	if errors.Is(err, ErrInvalidTransition) {
		r.logger.Info("event ignored", "booth_id", r.machine.opts.BoothID, "event", ev.Kind.String(), "error", err)
	}
}

func (r *Runner) idle() {
	if r.OnIdle != nil {
		r.OnIdle(r.machine.Phase())
	}
}
