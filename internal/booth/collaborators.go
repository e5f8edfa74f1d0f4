package booth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/charbooth/internal/audio"
	"github.com/antoniostano/charbooth/internal/protocol"
)

// SceneTagger grabs one snapshot per turn and describes it. A nil scene means
// no usable snapshot.
type SceneTagger interface {
	Snapshot(ctx context.Context) (*protocol.Scene, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (audio.Clip, error)
}

type Player interface {
	Play(ctx context.Context, clip audio.Clip) error
}

// Display shows a terse status line to the visitor.
type Display interface {
	Show(phase Phase, message string)
}

type NoScene struct{}

func (NoScene) Snapshot(context.Context) (*protocol.Scene, error) { return nil, nil }

// StaticScene returns the same scene for every turn.
type StaticScene struct {
	Scene protocol.Scene
}

func (s StaticScene) Snapshot(context.Context) (*protocol.Scene, error) {
	scene := s.Scene
	return &scene, nil
}

// ToneSynthesizer renders a sine tone whose length follows the text, so the
// booth loop and lighting can run without a speech engine.
type ToneSynthesizer struct {
	SampleRate int
	PerChar    time.Duration
	MaxLength  time.Duration
}

func (t ToneSynthesizer) Synthesize(ctx context.Context, text, voice string) (audio.Clip, error) {
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	rate := t.SampleRate
	if rate <= 0 {
		rate = 22050
	}
	perChar := t.PerChar
	if perChar <= 0 {
		perChar = 60 * time.Millisecond
	}
	length := time.Duration(len([]rune(text))) * perChar
	if t.MaxLength > 0 && length > t.MaxLength {
		length = t.MaxLength
	}

	freq := 440.0
	switch {
	case strings.Contains(voice, "high"):
		freq = 660
	case strings.Contains(voice, "low"):
		freq = 220
	}

	samples := int(int64(rate) * int64(length) / int64(time.Second))
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// A slow amplitude wobble gives the lights something to follow.
		amp := 0.3 * (0.6 + 0.4*math.Sin(2*math.Pi*3*float64(i)/float64(rate)))
		v := int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)) * 32767)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(uint16(v) >> 8)
	}
	return audio.Clip{PCM: pcm, SampleRate: rate}, nil
}

// PiperSynthesizer shells out to the piper CLI, which reads text on stdin and
// writes raw PCM16 for the selected voice model.
type PiperSynthesizer struct {
	Binary     string
	ModelDir   string
	SampleRate int
}

func (p PiperSynthesizer) Synthesize(ctx context.Context, text, voice string) (audio.Clip, error) {
	bin := p.Binary
	if bin == "" {
		bin = "piper"
	}
	model := voice
	if p.ModelDir != "" {
		model = strings.TrimRight(p.ModelDir, "/") + "/" + voice + ".onnx"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "--model", model, "--output_raw")
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, ctx.Err()
		}
		return audio.Clip{}, fmt.Errorf("piper: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	rate := p.SampleRate
	if rate <= 0 {
		rate = 22050
	}
	return audio.Clip{PCM: stdout.Bytes(), SampleRate: rate}, nil
}

// SleepPlayer waits for the clip's duration without producing sound.
type SleepPlayer struct{}

func (SleepPlayer) Play(ctx context.Context, clip audio.Clip) error {
	timer := time.NewTimer(clip.Duration())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AplayPlayer pipes a WAV stream into aplay.
type AplayPlayer struct {
	Binary string
	Device string
}

func (a AplayPlayer) Play(ctx context.Context, clip audio.Clip) error {
	wav, err := clip.EncodeWAV()
	if err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	bin := a.Binary
	if bin == "" {
		bin = "aplay"
	}
	args := []string{"-q"}
	if a.Device != "" {
		args = append(args, "-D", a.Device)
	}
	args = append(args, "-")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(wav)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("aplay: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// LogDisplay writes status changes to the structured log.
type LogDisplay struct {
	Logger *slog.Logger
}

func (d LogDisplay) Show(phase Phase, message string) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("display", "phase", phase.String(), "message", message)
}

// WriterDisplay prints status lines for a console booth.
type WriterDisplay struct {
	mu sync.Mutex
	W  io.Writer
}

func (d *WriterDisplay) Show(phase Phase, message string) {
	if message == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.W, "[%s] %s\n", phase, message)
}

// Handset commands understood by LineSource.
const (
	CommandPickup = "/pickup"
	CommandHangup = "/hangup"
)

// LineSource turns typed lines into booth events: /pickup, /hangup, and any
// other line as a captured utterance. It stands in for handset and speech
// capture during development.
type LineSource struct {
	r io.Reader
}

func NewLineSource(r io.Reader) *LineSource { return &LineSource{r: r} }

// Feed sends events to r until the input ends or ctx is done.
func (l *LineSource) Feed(ctx context.Context, r *Runner) error {
	scanner := bufio.NewScanner(l.r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var ev Event
		switch strings.ToLower(line) {
		case "":
			continue
		case CommandPickup:
			ev = Event{Kind: EventPickup}
		case CommandHangup:
			ev = Event{Kind: EventHangup}
		default:
			ev = Event{Kind: EventUtterance, Text: line}
		}
		if err := r.Send(ctx, ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
