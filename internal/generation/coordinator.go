package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antoniostano/charbooth/internal/engine"
	"github.com/antoniostano/charbooth/internal/observability"
	"github.com/antoniostano/charbooth/internal/persona"
	"github.com/antoniostano/charbooth/internal/policy"
	"github.com/antoniostano/charbooth/internal/session"
)

var (
	// ErrSessionExpired means the session is absent or past its TTL. Callers
	// recover by starting a new session.
	ErrSessionExpired      = errors.New("session expired")
	ErrUnknownPersona      = errors.New("unknown persona")
	ErrPersonalityMismatch = errors.New("personality does not match session")
	ErrInvalidRequest      = errors.New("invalid request")
)

const DefaultMode = "chat"

type StartRequest struct {
	SessionID   string
	BoothID     string
	Personality string
	Mode        string
}

// Request is one visitor turn.
type Request struct {
	SessionID   string
	Personality string
	Mode        string
	UserText    string
	Scene       *policy.Scene
}

type Result struct {
	Text        string
	Personality string
	Mode        string
	Usage       engine.Usage
}

type Options struct {
	// Timeout bounds a single engine call.
	Timeout time.Duration
	Logger  *slog.Logger
	// Now should match the session store clock. Defaults to time.Now.
	Now func() time.Time
}

// Coordinator turns visitor utterances into persona replies and is the only
// writer of session history during a turn.
type Coordinator struct {
	store   session.Store
	catalog *persona.Catalog
	engine  engine.Engine
	metrics *observability.Metrics
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func New(store session.Store, catalog *persona.Catalog, eng engine.Engine, metrics *observability.Metrics, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:   store,
		catalog: catalog,
		engine:  eng,
		metrics: metrics,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

func (c *Coordinator) Engine() engine.Engine { return c.engine }

func (c *Coordinator) Catalog() *persona.Catalog { return c.catalog }

// ExpiresIn is how long sess stays live without another turn.
func (c *Coordinator) ExpiresIn(sess *session.Session, ttl time.Duration) time.Duration {
	left := ttl - c.now().Sub(sess.LastActiveAt)
	if left < 0 {
		return 0
	}
	return left
}

// Start opens the session or returns the live one with the same id unchanged.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*session.Session, bool, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, false, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if _, ok := c.catalog.Get(req.Personality); !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownPersona, req.Personality)
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = DefaultMode
	}
	if !c.catalog.Modes().Valid(mode) {
		return nil, false, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	sess, created, err := c.store.CreateOrGet(ctx, session.StartParams{
		ID:          req.SessionID,
		BoothID:     strings.TrimSpace(req.BoothID),
		Personality: strings.TrimSpace(req.Personality),
		Mode:        mode,
	})
	if err != nil {
		return nil, false, fmt.Errorf("start session: %w", err)
	}
	if created {
		c.sessionEvent("created")
		c.logger.Info("session started", "session_id", sess.ID, "booth_id", sess.BoothID, "personality", sess.Personality)
	} else {
		c.sessionEvent("resumed")
	}
	return sess, created, nil
}

// Session returns a live session, or ErrSessionExpired.
func (c *Coordinator) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (c *Coordinator) Release(ctx context.Context, sessionID string) error {
	if err := c.store.Release(ctx, sessionID); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	c.sessionEvent("released")
	return nil
}

// Generate runs one turn. The session is only mutated after the engine
// succeeds, and the user/assistant pair is appended atomically.
func (c *Coordinator) Generate(ctx context.Context, req Request) (Result, error) {
	userText := strings.TrimSpace(req.UserText)
	if userText == "" {
		return Result{}, fmt.Errorf("%w: user_text is required", ErrInvalidRequest)
	}

	sess, err := c.store.Get(ctx, req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		c.generationOutcome(req.Personality, "session_expired")
		return Result{}, ErrSessionExpired
	}
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}

	if p := strings.TrimSpace(req.Personality); p != "" && p != sess.Personality {
		c.generationOutcome(sess.Personality, "personality_mismatch")
		return Result{}, fmt.Errorf("%w: session is %q, request is %q", ErrPersonalityMismatch, sess.Personality, p)
	}
	prsn, ok := c.catalog.Get(sess.Personality)
	if !ok {
		c.generationOutcome(sess.Personality, "unknown_persona")
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownPersona, sess.Personality)
	}

	storedMode := strings.ToLower(strings.TrimSpace(req.Mode))
	if storedMode == "" {
		storedMode = sess.Mode
	}
	if storedMode != "" && !c.catalog.Modes().Valid(storedMode) {
		return Result{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	var scene policy.Scene
	if req.Scene != nil {
		var dropped int
		scene, dropped = policy.SanitizeScene(*req.Scene)
		if dropped > 0 && c.metrics != nil {
			c.metrics.SceneTagsRedacted.Add(float64(dropped))
		}
	}
	mode := c.resolveMode(storedMode, userText, !scene.Empty())

	engineReq := engine.Request{
		SystemPrompt: BuildSystemPrompt(c.catalog.Guardrails(), prsn, mode, scene),
		History:      historyMessages(sess.History),
		UserText:     userText,
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	reply, err := c.engine.Generate(genCtx, engineReq)
	if c.metrics != nil {
		c.metrics.ObserveGeneration(c.engine.Name(), time.Since(started))
	}
	if err != nil {
		err = classifyEngineErr(genCtx, err)
		code := errorCode(err)
		c.generationOutcome(sess.Personality, code)
		if c.metrics != nil {
			c.metrics.EngineErrors.WithLabelValues(c.engine.Name(), code).Inc()
		}
		c.logger.Warn("generation failed", "session_id", sess.ID, "personality", sess.Personality, "engine", c.engine.Name(), "error", err)
		return Result{}, err
	}

	stored, _ := policy.RedactPII(userText)
	now := time.Now().UTC()
	if _, err := c.store.AppendTurns(ctx, sess.ID, storedMode,
		session.Turn{Role: session.RoleUser, Content: stored, At: now},
		session.Turn{Role: session.RoleAssistant, Content: reply.Text, At: now},
	); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Released or expired while the engine was running.
			c.generationOutcome(sess.Personality, "session_expired")
			return Result{}, ErrSessionExpired
		}
		return Result{}, fmt.Errorf("append turns: %w", err)
	}

	c.generationOutcome(sess.Personality, "ok")
	if c.metrics != nil {
		c.metrics.CompletionTokens.Observe(float64(reply.Usage.CompletionTokens))
	}
	return Result{
		Text:        reply.Text,
		Personality: sess.Personality,
		Mode:        mode.Name,
		Usage:       reply.Usage,
	}, nil
}

func (c *Coordinator) resolveMode(name, userText string, sceneAvailable bool) persona.Mode {
	modes := c.catalog.Modes()
	if name == persona.ModeAuto {
		return modes.Select(userText, sceneAvailable)
	}
	if m, ok := modes.Get(name); ok {
		return m
	}
	m, _ := modes.Get(DefaultMode)
	return m
}

// BuildSystemPrompt assembles guardrails, persona prompt, mode instruction,
// reply-length hint and scene context, in that order.
func BuildSystemPrompt(guardrails string, p persona.Persona, mode persona.Mode, scene policy.Scene) string {
	parts := make([]string, 0, 5)
	for _, part := range []string{
		guardrails,
		p.SystemPrompt,
		mode.Instruction,
		persona.ReplyLengthHint(p.ReplyLength),
		scene.PromptFragment(),
	} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n\n")
}

func historyMessages(turns []session.Turn) []engine.Message {
	out := make([]engine.Message, 0, len(turns))
	for _, t := range turns {
		role := engine.RoleUser
		if t.Role == session.RoleAssistant {
			role = engine.RoleAssistant
		}
		out = append(out, engine.Message{Role: role, Content: t.Content})
	}
	return out
}

func classifyEngineErr(ctx context.Context, err error) error {
	if errors.Is(err, engine.ErrGenerationTimeout) || errors.Is(err, engine.ErrEngineUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", engine.ErrGenerationTimeout, err)
	}
	return err
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrGenerationTimeout):
		return "generation_timeout"
	case errors.Is(err, engine.ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "engine_error"
	}
}

func (c *Coordinator) sessionEvent(event string) {
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (c *Coordinator) generationOutcome(personality, outcome string) {
	if c.metrics != nil {
		c.metrics.Generations.WithLabelValues(personality, outcome).Inc()
	}
}
