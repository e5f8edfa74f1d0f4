package booth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/charbooth/internal/audio"
)

type scriptedSynth struct {
	name  string
	fail  bool
	calls int
}

func (s *scriptedSynth) Synthesize(context.Context, string, string) (audio.Clip, error) {
	s.calls++
	if s.fail {
		return audio.Clip{}, errors.New(s.name + " down")
	}
	return audio.Clip{PCM: []byte(s.name), SampleRate: 8000}, nil
}

func TestFailoverSynthesizerSwitchesAndReturns(t *testing.T) {
	primary := &scriptedSynth{name: "piper", fail: true}
	fallback := &scriptedSynth{name: "tone"}
	f := NewFailoverSynthesizer(primary, fallback)
	ctx := context.Background()

	clip, err := f.Synthesize(ctx, "hi", "v")
	require.NoError(t, err)
	require.Equal(t, "tone", string(clip.PCM))
	require.True(t, f.UsingFallback())

	// Fallback stays active without retrying the primary.
	_, err = f.Synthesize(ctx, "hi", "v")
	require.NoError(t, err)
	require.Equal(t, 1, primary.calls)

	// Fallback breaks, primary has recovered.
	fallback.fail, primary.fail = true, false
	clip, err = f.Synthesize(ctx, "hi", "v")
	require.NoError(t, err)
	require.Equal(t, "piper", string(clip.PCM))
	require.False(t, f.UsingFallback())
}

func TestFailoverSynthesizerBothFail(t *testing.T) {
	f := NewFailoverSynthesizer(&scriptedSynth{name: "piper", fail: true}, &scriptedSynth{name: "tone", fail: true})
	_, err := f.Synthesize(context.Background(), "hi", "v")
	require.ErrorContains(t, err, "piper down")
	require.ErrorContains(t, err, "tone down")
	require.False(t, f.UsingFallback())
}
