package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestEncodeDecodeWAV(t *testing.T) {
	clip := Clip{PCM: pcmOf(0, 1000, -1000, 32767), SampleRate: 22050}
	raw, err := clip.EncodeWAV()
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(raw) != 44+len(clip.PCM) {
		t.Fatalf("len = %d, want %d", len(raw), 44+len(clip.PCM))
	}

	got, err := DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if got.SampleRate != 22050 || !bytes.Equal(got.PCM, clip.PCM) {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("error = %v, want ErrInvalidWAV", err)
	}
}

func TestClipDuration(t *testing.T) {
	clip := Clip{PCM: make([]byte, 16000*2), SampleRate: 16000}
	if got := clip.Duration(); got != time.Second {
		t.Fatalf("Duration() = %v, want 1s", got)
	}
}

func TestEnvelope(t *testing.T) {
	// 1 kHz sample rate, 10 ms slices: 10 samples per slice.
	samples := make([]int16, 25)
	for i := 10; i < 20; i++ {
		samples[i] = 16384
	}
	env := Envelope(Clip{PCM: pcmOf(samples...), SampleRate: 1000}, 10*time.Millisecond)
	if len(env) != 3 {
		t.Fatalf("len = %d, want 3", len(env))
	}
	if env[0] != 0 || env[2] != 0 {
		t.Fatalf("silent slices = %v", env)
	}
	if math.Abs(env[1]-0.5) > 1e-9 {
		t.Fatalf("env[1] = %v, want 0.5", env[1])
	}
}

func TestEnvelopeEmpty(t *testing.T) {
	if got := Envelope(Clip{SampleRate: 16000}, 10*time.Millisecond); got != nil {
		t.Fatalf("Envelope(empty) = %v, want nil", got)
	}
}
