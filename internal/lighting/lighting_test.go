package lighting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/charbooth/internal/protocol"
)

type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) SetBrightness(value uint8) error {
	return m.Called(value).Error(0)
}

func (m *MockDriver) Stop() error {
	return m.Called().Error(0)
}

func TestSmootherZeroInputStaysDark(t *testing.T) {
	s := NewSmoother(50*time.Millisecond, 200*time.Millisecond, 10*time.Millisecond)
	out, last := s.Map(make([]float64, 50), 0)
	require.Len(t, out, 50)
	for _, v := range out {
		require.Zero(t, v)
	}
	require.Zero(t, last)
}

func TestSmootherAttackFasterThanRelease(t *testing.T) {
	s := NewSmoother(50*time.Millisecond, 200*time.Millisecond, 10*time.Millisecond)

	rise, _ := s.Map([]float64{1, 1, 1}, 0)
	fall, _ := s.Map([]float64{0, 0, 0}, MaxBrightness)

	for i := range rise {
		gained := int(rise[i])
		lost := MaxBrightness - int(fall[i])
		require.Greater(t, gained, lost, "slice %d: rise %d vs fall %d", i, rise[i], fall[i])
	}
}

func TestSmootherConvergesAndClamps(t *testing.T) {
	s := NewSmoother(0, 0, 10*time.Millisecond)
	out, last := s.Map([]float64{0.5, 2, -1}, 0)
	require.Equal(t, []uint8{128, 255, 0}, out)
	require.Zero(t, last)
}

func TestSmootherThreadsState(t *testing.T) {
	s := NewSmoother(50*time.Millisecond, 200*time.Millisecond, 10*time.Millisecond)
	env := []float64{0.2, 0.9, 0.9, 0.1, 0.4, 0.0}

	whole, wholeLast := s.Map(env, 0)
	first, mid := s.Map(env[:3], 0)
	second, last := s.Map(env[3:], mid)

	require.Equal(t, whole, append(first, second...))
	require.InDelta(t, wholeLast, last, 1e-9)
}

func TestConstantMapper(t *testing.T) {
	out, last := Constant{Level: 40}.Map(make([]float64, 4), 200)
	require.Equal(t, []uint8{40, 40, 40, 40}, out)
	require.Equal(t, 40.0, last)
}

func TestNewMapperDisabled(t *testing.T) {
	m := NewMapper(Config{Enabled: false})
	out, _ := m.Map([]float64{1, 1}, 0)
	require.Equal(t, []uint8{0, 0}, out)
}

func TestDriveEndsAtZero(t *testing.T) {
	d := &MockDriver{}
	d.On("SetBrightness", uint8(10)).Return(nil).Once()
	d.On("SetBrightness", uint8(200)).Return(nil).Once()
	d.On("SetBrightness", uint8(0)).Return(nil).Once()

	err := Drive(context.Background(), d, []uint8{10, 200}, time.Millisecond)
	require.NoError(t, err)
	d.AssertExpectations(t)
}

func TestDriveStopsOnCancel(t *testing.T) {
	d := &MockDriver{}
	d.On("SetBrightness", mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Drive(ctx, d, []uint8{5, 6, 7, 8}, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	d.AssertCalled(t, "SetBrightness", uint8(0))
	d.AssertNotCalled(t, "SetBrightness", uint8(8))
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver(Config{Enabled: false, Driver: "pwm"})
	require.NoError(t, err)
	require.IsType(t, NullDriver{}, d)

	d, err = NewDriver(Config{Enabled: true, Driver: "pwm"})
	require.NoError(t, err)
	require.IsType(t, &PWMDriver{}, d)

	_, err = NewDriver(Config{Enabled: true, Driver: "websocket"})
	require.Error(t, err)

	_, err = NewDriver(Config{Enabled: true, Driver: "laser"})
	require.Error(t, err)
}

func TestPWMDriverWritesSysfs(t *testing.T) {
	root := t.TempDir()
	channel := filepath.Join(root, "pwmchip0", "pwm0")
	require.NoError(t, os.MkdirAll(channel, 0o755))

	d := NewPWMDriver(root, 0, 0, time.Millisecond)
	require.NoError(t, d.Start(context.Background()))
	require.Equal(t, "1000000", readFile(t, filepath.Join(channel, "period")))
	require.Equal(t, "1", readFile(t, filepath.Join(channel, "enable")))

	require.NoError(t, d.SetBrightness(MaxBrightness))
	require.Equal(t, "1000000", readFile(t, filepath.Join(channel, "duty_cycle")))

	require.NoError(t, d.SetBrightness(51))
	require.Equal(t, "200000", readFile(t, filepath.Join(channel, "duty_cycle")))

	require.NoError(t, d.Stop())
	require.Equal(t, "0", readFile(t, filepath.Join(channel, "duty_cycle")))
	require.Equal(t, "0", readFile(t, filepath.Join(channel, "enable")))
}

func TestPWMDriverExportsMissingChannel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pwmchip0"), 0o755))

	d := NewPWMDriver(root, 0, 1, time.Millisecond)
	// The kernel would create pwm1 on export; a plain directory does not.
	err := d.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, "1", readFile(t, filepath.Join(root, "pwmchip0", "export")))
}

func TestWebSocketDriverStreamsFrames(t *testing.T) {
	frames := make(chan protocol.LightFrame, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			frame, err := protocol.ParseLightFrame(raw)
			if err != nil {
				continue
			}
			frames <- frame
		}
	}))
	defer srv.Close()

	d := NewWebSocketDriver("ws"+strings.TrimPrefix(srv.URL, "http"), "booth-01")
	require.ErrorIs(t, d.SetBrightness(1), ErrNotStarted)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.SetBrightness(MaxBrightness))
	require.NoError(t, d.Stop())

	first := <-frames
	require.Equal(t, protocol.TypeLightLevel, first.Type)
	require.Equal(t, "booth-01", first.BoothID)
	require.Equal(t, 1.0, first.Level)
	require.Equal(t, int64(1), first.Seq)

	off := <-frames
	require.Equal(t, protocol.TypeLightOff, off.Type)
	require.Zero(t, off.Level)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}
