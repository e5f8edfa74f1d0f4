package booth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/charbooth/internal/lighting"
	"github.com/antoniostano/charbooth/internal/protocol"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) StartSession(ctx context.Context, req protocol.StartSessionRequest) (protocol.StartSessionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(protocol.StartSessionResponse), args.Error(1)
}

func (m *MockBackend) Generate(ctx context.Context, req protocol.GenerateRequest) (protocol.GenerateResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(protocol.GenerateResponse), args.Error(1)
}

func (m *MockBackend) Release(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

type recordingLights struct {
	mu     sync.Mutex
	values []uint8
}

func (l *recordingLights) Start(context.Context) error { return nil }
func (l *recordingLights) Stop() error                 { return nil }

func (l *recordingLights) SetBrightness(v uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v)
	return nil
}

func (l *recordingLights) snapshot() []uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint8(nil), l.values...)
}

type recordingDisplay struct {
	mu     sync.Mutex
	phases []Phase
}

func (d *recordingDisplay) Show(p Phase, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phases = append(d.phases, p)
}

func (d *recordingDisplay) seen() []Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Phase(nil), d.phases...)
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func sessionReq(id string) any {
	return mock.MatchedBy(func(req protocol.StartSessionRequest) bool {
		return req.SessionID == id && req.BoothID == "booth-test" && req.Personality == "trickster"
	})
}

func generateReq(id string) any {
	return mock.MatchedBy(func(req protocol.GenerateRequest) bool { return req.SessionID == id })
}

type fixture struct {
	backend *MockBackend
	lights  *recordingLights
	display *recordingDisplay
	machine *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &MockBackend{},
		lights:  &recordingLights{},
		display: &recordingDisplay{},
	}
	f.machine = NewMachine(Deps{
		Backend: f.backend,
		Synth:   ToneSynthesizer{SampleRate: 8000, PerChar: time.Millisecond},
		Player:  SleepPlayer{},
		Lights:  f.lights,
		Mapper:  lighting.Constant{Level: 200},
		Display: f.display,
	}, MachineOptions{
		BoothID:     "booth-test",
		Personality: "trickster",
		Slice:       2 * time.Millisecond,
		NewID:       sequentialIDs(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func TestPickupOpensSessionWithLocalID(t *testing.T) {
	f := newFixture(t)
	f.backend.On("StartSession", mock.Anything, sessionReq("id-1")).
		Return(protocol.StartSessionResponse{SessionID: "id-1", Created: true}, nil).Once()

	require.NoError(t, f.machine.Pickup(context.Background()))
	require.Equal(t, PhasePickedUp, f.machine.Phase())
	require.Equal(t, "id-1", f.machine.SessionID())
	f.backend.AssertExpectations(t)
}

func TestPickupFailureEntersError(t *testing.T) {
	f := newFixture(t)
	f.backend.On("StartSession", mock.Anything, sessionReq("id-1")).
		Return(protocol.StartSessionResponse{}, ErrBackend).Once()

	err := f.machine.Pickup(context.Background())
	require.ErrorIs(t, err, ErrBackend)
	require.Equal(t, PhaseError, f.machine.Phase())
	require.Empty(t, f.machine.SessionID())
	require.ErrorIs(t, f.machine.LastError(), ErrBackend)

	require.NoError(t, f.machine.Recover())
	require.Equal(t, PhaseIdle, f.machine.Phase())
	require.ErrorIs(t, f.machine.Recover(), ErrInvalidTransition)
}

func TestTurnPlaysReplyAndDrivesLights(t *testing.T) {
	f := newFixture(t)
	f.machine.deps.Scene = StaticScene{Scene: protocol.Scene{Caption: "a visitor waving", Tags: []string{"hat"}}}
	f.backend.On("StartSession", mock.Anything, sessionReq("id-1")).
		Return(protocol.StartSessionResponse{SessionID: "id-1", Created: true}, nil).Once()
	f.backend.On("Generate", mock.Anything, mock.MatchedBy(func(req protocol.GenerateRequest) bool {
		return req.SessionID == "id-1" && req.UserText == "hello" && req.Scene != nil && req.Scene.Caption == "a visitor waving"
	})).Return(protocol.GenerateResponse{Text: "well hello there", Personality: "trickster"}, nil).Once()

	ctx := context.Background()
	require.NoError(t, f.machine.Pickup(ctx))
	require.NoError(t, f.machine.Turn(ctx, "  hello "))

	require.Equal(t, PhaseIdle, f.machine.Phase())
	require.Equal(t, "id-1", f.machine.SessionID(), "session survives between turns")

	values := f.lights.snapshot()
	require.NotEmpty(t, values)
	require.Contains(t, values, uint8(200))
	require.Equal(t, uint8(0), values[len(values)-1])

	require.Equal(t, []Phase{PhasePickedUp, PhaseListening, PhaseAwaitingReply, PhaseSpeaking, PhaseIdle}, f.display.seen())
	f.backend.AssertExpectations(t)
}

func TestExpiredSessionIsReopenedOnce(t *testing.T) {
	f := newFixture(t)
	expired := &StatusError{Status: 404, Code: protocol.CodeSessionExpired}
	f.backend.On("StartSession", mock.Anything, sessionReq("id-1")).
		Return(protocol.StartSessionResponse{SessionID: "id-1", Created: true}, nil).Once()
	f.backend.On("Generate", mock.Anything, generateReq("id-1")).
		Return(protocol.GenerateResponse{}, expired).Once()
	f.backend.On("StartSession", mock.Anything, sessionReq("id-2")).
		Return(protocol.StartSessionResponse{SessionID: "id-2", Created: true}, nil).Once()
	f.backend.On("Generate", mock.Anything, generateReq("id-2")).
		Return(protocol.GenerateResponse{Text: "back again"}, nil).Once()

	ctx := context.Background()
	require.NoError(t, f.machine.Pickup(ctx))
	require.NoError(t, f.machine.UtteranceCaptured(ctx, "still there?"))
	reply, err := f.machine.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, "back again", reply.Text)
	require.Equal(t, PhaseSpeaking, f.machine.Phase())
	require.Equal(t, "id-2", f.machine.SessionID())
	require.NotContains(t, f.display.seen(), PhaseError)
	f.backend.AssertExpectations(t)
}

func TestSecondExpiryEntersError(t *testing.T) {
	f := newFixture(t)
	expired := &StatusError{Status: 404, Code: protocol.CodeSessionExpired}
	f.backend.On("StartSession", mock.Anything, mock.Anything).
		Return(protocol.StartSessionResponse{Created: true}, nil).Twice()
	f.backend.On("Generate", mock.Anything, mock.Anything).
		Return(protocol.GenerateResponse{}, expired).Twice()

	ctx := context.Background()
	require.NoError(t, f.machine.Pickup(ctx))
	err := f.machine.Turn(ctx, "hello?")
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, PhaseError, f.machine.Phase())
	f.backend.AssertExpectations(t)
}

func TestHangupReleasesSession(t *testing.T) {
	f := newFixture(t)
	f.backend.On("StartSession", mock.Anything, sessionReq("id-1")).
		Return(protocol.StartSessionResponse{SessionID: "id-1", Created: true}, nil).Once()
	f.backend.On("Release", mock.Anything, "id-1").Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, f.machine.Pickup(ctx))
	f.machine.Hangup(ctx)

	require.Equal(t, PhaseIdle, f.machine.Phase())
	require.Empty(t, f.machine.SessionID())
	values := f.lights.snapshot()
	require.Equal(t, uint8(0), values[len(values)-1])

	// A second hangup has nothing to release.
	f.machine.Hangup(ctx)
	f.backend.AssertExpectations(t)
}

func TestPickupReleasesPreviousSession(t *testing.T) {
	f := newFixture(t)
	f.backend.On("StartSession", mock.Anything, sessionReq("id-1")).
		Return(protocol.StartSessionResponse{SessionID: "id-1", Created: true}, nil).Once()
	f.backend.On("Generate", mock.Anything, generateReq("id-1")).
		Return(protocol.GenerateResponse{Text: "hi"}, nil).Once()
	f.backend.On("Release", mock.Anything, "id-1").Return(nil).Once()
	f.backend.On("StartSession", mock.Anything, sessionReq("id-2")).
		Return(protocol.StartSessionResponse{SessionID: "id-2", Created: true}, nil).Once()

	ctx := context.Background()
	require.NoError(t, f.machine.Pickup(ctx))
	require.NoError(t, f.machine.Turn(ctx, "hello"))
	require.NoError(t, f.machine.Pickup(ctx))
	require.Equal(t, "id-2", f.machine.SessionID())
	f.backend.AssertExpectations(t)
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.machine.UtteranceCaptured(ctx, "hello"), ErrInvalidTransition, "no session yet")
	_, err := f.machine.Submit(ctx)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, f.machine.Speak(ctx, protocol.GenerateResponse{Text: "x"}), ErrInvalidTransition)
	require.ErrorIs(t, f.machine.PlaybackComplete(), ErrInvalidTransition)

	f.backend.On("StartSession", mock.Anything, mock.Anything).
		Return(protocol.StartSessionResponse{Created: true}, nil).Once()
	require.NoError(t, f.machine.Pickup(ctx))
	require.ErrorIs(t, f.machine.Pickup(ctx), ErrInvalidTransition)
	require.ErrorIs(t, f.machine.UtteranceCaptured(ctx, "   "), ErrInvalidTransition)
	require.Equal(t, PhasePickedUp, f.machine.Phase())
}

func TestCancelledTurnDoesNotEnterError(t *testing.T) {
	f := newFixture(t)
	f.backend.On("StartSession", mock.Anything, mock.Anything).
		Return(protocol.StartSessionResponse{Created: true}, nil).Once()
	f.backend.On("Generate", mock.Anything, mock.Anything).
		Return(protocol.GenerateResponse{}, context.Canceled).Once()

	require.NoError(t, f.machine.Pickup(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.machine.Turn(ctx, "hello")
	require.True(t, errors.Is(err, context.Canceled))
	require.NotEqual(t, PhaseError, f.machine.Phase())
}

func TestVoiceFollowsPersonality(t *testing.T) {
	m := NewMachine(Deps{Backend: &MockBackend{}}, MachineOptions{
		Personality:  "sage",
		Voices:       map[string]string{"sage": "en_GB-alan-medium"},
		DefaultVoice: "fallback",
	})
	require.Equal(t, "en_GB-alan-medium", m.voice())

	m.opts.Personality = "muse"
	require.Equal(t, "fallback", m.voice())
}
