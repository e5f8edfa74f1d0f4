package booth

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/antoniostano/charbooth/internal/lighting"
	"github.com/antoniostano/charbooth/internal/protocol"
)

// Build wires a Runner from config. Backend may be nil, in which case an
// HTTPBackend for cfg.BackendURL is used.
func Build(cfg Config, backend Backend, display Display, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = NewHTTPBackend(cfg.BackendURL, cfg.RequestTimeout, cfg.RetryPolicy())
	}

	lightCfg := cfg.LightingConfig()
	driver, err := lighting.NewDriver(lightCfg)
	if err != nil {
		return nil, fmt.Errorf("lighting driver: %w", err)
	}

	tone := ToneSynthesizer{SampleRate: cfg.TTS.SampleRate}
	var synth Synthesizer = tone
	if strings.EqualFold(cfg.TTS.Engine, "piper") {
		// A booth that cannot speak still blinks along to a tone.
		synth = NewFailoverSynthesizer(
			PiperSynthesizer{Binary: cfg.TTS.PiperBinary, ModelDir: cfg.TTS.ModelDir, SampleRate: cfg.TTS.SampleRate},
			tone,
		)
	}

	var player Player = SleepPlayer{}
	if strings.EqualFold(cfg.Playback.Player, "aplay") {
		player = AplayPlayer{Device: cfg.Playback.Device}
	}

	var scene SceneTagger = NoScene{}
	if cfg.Vision.Enabled {
		scene = StaticScene{Scene: protocol.Scene{Caption: cfg.Vision.Caption, Tags: cfg.Vision.Tags}}
	}

	if display == nil {
		display = LogDisplay{Logger: logger}
	}

	m := NewMachine(Deps{
		Backend: backend,
		Scene:   scene,
		Synth:   synth,
		Player:  player,
		Lights:  driver,
		Mapper:  lighting.NewMapper(lightCfg),
		Display: display,
	}, MachineOptions{
		BoothID:      cfg.BoothID,
		Personality:  cfg.DefaultPersonality,
		Mode:         cfg.Mode,
		Voices:       cfg.TTS.VoiceMap,
		DefaultVoice: cfg.TTS.DefaultVoice,
		Slice:        cfg.Slice(),
		Logger:       logger.With("booth_id", cfg.BoothID),
	})
	return NewRunner(m, cfg.ErrorCooldown, logger), nil
}
