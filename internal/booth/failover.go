package booth

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/antoniostano/charbooth/internal/audio"
)

// FailoverSynthesizer prefers Primary and switches to Fallback when it fails.
// The fallback stays active until it fails itself, then Primary is tried again.
type FailoverSynthesizer struct {
	Primary  Synthesizer
	Fallback Synthesizer

	onFallback atomic.Bool
}

func NewFailoverSynthesizer(primary, fallback Synthesizer) *FailoverSynthesizer {
	return &FailoverSynthesizer{Primary: primary, Fallback: fallback}
}

func (f *FailoverSynthesizer) Synthesize(ctx context.Context, text, voice string) (audio.Clip, error) {
	first, second := f.Primary, f.Fallback
	if f.onFallback.Load() {
		first, second = f.Fallback, f.Primary
	}

	clip, firstErr := first.Synthesize(ctx, text, voice)
	if firstErr == nil {
		return clip, nil
	}
	if ctx.Err() != nil {
		return audio.Clip{}, ctx.Err()
	}
	clip, secondErr := second.Synthesize(ctx, text, voice)
	if secondErr != nil {
		return audio.Clip{}, fmt.Errorf("synthesizers failed: %v; %w", firstErr, secondErr)
	}
	f.onFallback.Store(!f.onFallback.Load())
	return clip, nil
}

// UsingFallback reports whether the next call starts with Fallback.
func (f *FailoverSynthesizer) UsingFallback() bool { return f.onFallback.Load() }
