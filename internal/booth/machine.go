package booth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/charbooth/internal/audio"
	"github.com/antoniostano/charbooth/internal/lighting"
	"github.com/antoniostano/charbooth/internal/protocol"
)

// Phase is the booth's position in a conversation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePickedUp
	PhaseListening
	PhaseAwaitingReply
	PhaseSpeaking
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePickedUp:
		return "picked_up"
	case PhaseListening:
		return "listening"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	case PhaseSpeaking:
		return "speaking"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var ErrInvalidTransition = errors.New("invalid booth transition")

// Messages shown to the visitor. Raw errors never reach the display.
const (
	MessageIdle      = "Pick up the phone to talk."
	MessageGreeting  = "Hello! Say something."
	MessageListening = "Listening..."
	MessageThinking  = "Thinking..."
	MessageError     = "Sorry, something went wrong. Please try again."
)

// Deps are the collaborators a Machine drives.
type Deps struct {
	Backend Backend
	Scene   SceneTagger
	Synth   Synthesizer
	Player  Player
	Lights  lighting.Driver
	Mapper  lighting.Mapper
	Display Display
}

type MachineOptions struct {
	BoothID     string
	Personality string
	Mode        string
	// Voices maps personality to synthesizer voice.
	Voices       map[string]string
	DefaultVoice string
	// Slice is the envelope and lighting frame period.
	Slice  time.Duration
	NewID  func() string
	Logger *slog.Logger
}

// Machine is one booth's turn state machine. It is driven by a single caller;
// the mutex only guards reads from other goroutines.
type Machine struct {
	deps Deps
	opts MachineOptions

	mu        sync.Mutex
	phase     Phase
	sessionID string
	pending   string
	scene     *protocol.Scene
	lastErr   error
}

func NewMachine(deps Deps, opts MachineOptions) *Machine {
	if deps.Scene == nil {
		deps.Scene = NoScene{}
	}
	if deps.Synth == nil {
		deps.Synth = ToneSynthesizer{}
	}
	if deps.Player == nil {
		deps.Player = SleepPlayer{}
	}
	if deps.Lights == nil {
		deps.Lights = lighting.NullDriver{}
	}
	if deps.Mapper == nil {
		deps.Mapper = lighting.Constant{}
	}
	if deps.Display == nil {
		deps.Display = LogDisplay{Logger: opts.Logger}
	}
	if opts.Slice <= 0 {
		opts.Slice = 20 * time.Millisecond
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = "chat"
	}
	return &Machine{deps: deps, opts: opts, phase: PhaseIdle}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// LastError is the failure that put the machine in PhaseError.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) setPhase(p Phase, message string) {
	m.mu.Lock()
	old := m.phase
	m.phase = p
	sessionID := m.sessionID
	m.mu.Unlock()
	if old != p {
		m.opts.Logger.Debug("booth transition", "booth_id", m.opts.BoothID, "session_id", sessionID, "from", old.String(), "phase", p.String())
	}
	m.deps.Display.Show(p, message)
}

func (m *Machine) expect(allowed ...Phase) error {
	cur := m.Phase()
	for _, p := range allowed {
		if cur == p {
			return nil
		}
	}
	return fmt.Errorf("%w: from %s", ErrInvalidTransition, cur)
}

// Pickup mints a session id locally and opens the backend session with it.
func (m *Machine) Pickup(ctx context.Context) error {
	if err := m.expect(PhaseIdle); err != nil {
		return err
	}
	if prev := m.SessionID(); prev != "" {
		m.release(ctx, prev)
	}

	m.setPhase(PhasePickedUp, MessageGreeting)
	if _, err := m.startSession(ctx); err != nil {
		return m.fail(ctx, err)
	}
	return nil
}

func (m *Machine) startSession(ctx context.Context) (string, error) {
	id := m.opts.NewID()
	_, err := m.deps.Backend.StartSession(ctx, protocol.StartSessionRequest{
		SessionID:   id,
		BoothID:     m.opts.BoothID,
		Personality: m.opts.Personality,
		Mode:        m.opts.Mode,
	})
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
	m.opts.Logger.Info("session started", "booth_id", m.opts.BoothID, "session_id", id, "personality", m.opts.Personality)
	return id, nil
}

// UtteranceCaptured records the visitor's finished utterance and takes the
// turn's scene snapshot. It is valid right after pickup and between turns
// while the handset stays lifted.
func (m *Machine) UtteranceCaptured(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty utterance", ErrInvalidTransition)
	}
	if err := m.expect(PhasePickedUp, PhaseIdle, PhaseListening); err != nil {
		return err
	}
	if m.SessionID() == "" {
		return fmt.Errorf("%w: no open session", ErrInvalidTransition)
	}

	scene, err := m.deps.Scene.Snapshot(ctx)
	if err != nil {
		m.opts.Logger.Warn("scene snapshot failed", "booth_id", m.opts.BoothID, "error", err)
		scene = nil
	}
	m.mu.Lock()
	m.pending = text
	m.scene = scene
	m.mu.Unlock()
	m.setPhase(PhaseListening, MessageListening)
	return nil
}

// Submit sends the captured utterance. An expired session is replaced by a
// new one and the utterance resent once; a second expiry is an error.
func (m *Machine) Submit(ctx context.Context) (protocol.GenerateResponse, error) {
	if err := m.expect(PhaseListening); err != nil {
		return protocol.GenerateResponse{}, err
	}
	m.mu.Lock()
	req := protocol.GenerateRequest{
		SessionID:   m.sessionID,
		Personality: m.opts.Personality,
		UserText:    m.pending,
		Scene:       m.scene,
	}
	m.mu.Unlock()

	m.setPhase(PhaseAwaitingReply, MessageThinking)
	reply, err := m.deps.Backend.Generate(ctx, req)
	if errors.Is(err, ErrSessionExpired) {
		m.opts.Logger.Info("session expired, reopening", "booth_id", m.opts.BoothID, "session_id", req.SessionID)
		m.setPhase(PhaseListening, MessageThinking)
		id, startErr := m.startSession(ctx)
		if startErr != nil {
			return protocol.GenerateResponse{}, m.fail(ctx, startErr)
		}
		req.SessionID = id
		m.setPhase(PhaseAwaitingReply, MessageThinking)
		reply, err = m.deps.Backend.Generate(ctx, req)
	}
	if err != nil {
		return protocol.GenerateResponse{}, m.fail(ctx, fmt.Errorf("generate: %w", err))
	}

	m.mu.Lock()
	m.pending = ""
	m.scene = nil
	m.mu.Unlock()
	m.setPhase(PhaseSpeaking, "")
	return reply, nil
}

// Speak synthesizes the reply and plays it while the lights follow its
// envelope, then completes playback.
func (m *Machine) Speak(ctx context.Context, reply protocol.GenerateResponse) error {
	if err := m.expect(PhaseSpeaking); err != nil {
		return err
	}
	text := SpeakableText(reply.Text)
	if text == "" {
		return m.PlaybackComplete()
	}
	clip, err := m.deps.Synth.Synthesize(ctx, text, m.voice())
	if err != nil {
		return m.fail(ctx, fmt.Errorf("synthesize: %w", err))
	}

	series, _ := m.deps.Mapper.Map(audio.Envelope(clip, m.opts.Slice), 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.deps.Player.Play(gctx, clip)
	})
	g.Go(func() error {
		if err := lighting.Drive(gctx, m.deps.Lights, series, m.opts.Slice); err != nil && gctx.Err() == nil {
			m.opts.Logger.Warn("lighting failed", "booth_id", m.opts.BoothID, "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return m.fail(ctx, fmt.Errorf("playback: %w", err))
	}
	return m.PlaybackComplete()
}

func (m *Machine) PlaybackComplete() error {
	if err := m.expect(PhaseSpeaking); err != nil {
		return err
	}
	m.setPhase(PhaseIdle, "")
	return nil
}

// Turn runs one full exchange for an utterance.
func (m *Machine) Turn(ctx context.Context, text string) error {
	if err := m.UtteranceCaptured(ctx, text); err != nil {
		return err
	}
	reply, err := m.Submit(ctx)
	if err != nil {
		return err
	}
	return m.Speak(ctx, reply)
}

// Hangup returns to Idle from any phase and releases the session.
func (m *Machine) Hangup(ctx context.Context) {
	m.mu.Lock()
	id := m.sessionID
	m.sessionID = ""
	m.pending = ""
	m.scene = nil
	m.lastErr = nil
	m.mu.Unlock()

	if id != "" {
		m.release(ctx, id)
	}
	_ = m.deps.Lights.SetBrightness(0)
	m.setPhase(PhaseIdle, MessageIdle)
}

// Recover leaves the error phase. The session, if any, is kept so a lifted
// handset can continue.
func (m *Machine) Recover() error {
	if err := m.expect(PhaseError); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastErr = nil
	m.pending = ""
	m.scene = nil
	m.mu.Unlock()
	m.setPhase(PhaseIdle, MessageIdle)
	return nil
}

// fail moves to PhaseError unless ctx was cancelled by a hangup.
func (m *Machine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.opts.Logger.Error("booth turn failed", "booth_id", m.opts.BoothID, "session_id", m.SessionID(), "error", err)
	_ = m.deps.Lights.SetBrightness(0)
	m.setPhase(PhaseError, MessageError)
	return err
}

func (m *Machine) release(ctx context.Context, id string) {
	// Release must survive a cancelled turn context.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.deps.Backend.Release(rctx, id); err != nil {
		m.opts.Logger.Warn("session release failed", "booth_id", m.opts.BoothID, "session_id", id, "error", err)
	}
}

func (m *Machine) voice() string {
	if v := m.opts.Voices[m.opts.Personality]; v != "" {
		return v
	}
	return m.opts.DefaultVoice
}
