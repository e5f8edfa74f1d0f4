package booth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/antoniostano/charbooth/internal/lighting"
	"github.com/antoniostano/charbooth/internal/reliability"
)

// Config is the booth device configuration. Values come from defaults, an
// optional JSON/YAML file and BOOTH_* environment variables, in that order of
// increasing precedence.
type Config struct {
	BackendURL         string        `mapstructure:"backend_url"`
	BoothID            string        `mapstructure:"booth_id"`
	DefaultPersonality string        `mapstructure:"default_personality"`
	Mode               string        `mapstructure:"mode"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ErrorCooldown      time.Duration `mapstructure:"error_cooldown"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`

	TTS      TTSConfig      `mapstructure:"tts"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Lighting LightingConfig `mapstructure:"lighting"`
	Session  SessionConfig  `mapstructure:"session"`
	Vision   VisionConfig   `mapstructure:"vision"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `mapstructure:"-"`
}

type TTSConfig struct {
	Engine       string            `mapstructure:"engine"`
	PiperBinary  string            `mapstructure:"piper_binary"`
	ModelDir     string            `mapstructure:"model_dir"`
	SampleRate   int               `mapstructure:"sample_rate"`
	DefaultVoice string            `mapstructure:"default_voice"`
	VoiceMap     map[string]string `mapstructure:"voice_map"`
}

type PlaybackConfig struct {
	Player string `mapstructure:"player"`
	Device string `mapstructure:"device"`
}

type LightingConfig struct {
	Enabled       bool      `mapstructure:"enabled"`
	Driver        string    `mapstructure:"driver"`
	PWMChip       int       `mapstructure:"pwm_chip"`
	PWMChannel    int       `mapstructure:"pwm_channel"`
	PWMPeriodUS   int       `mapstructure:"pwm_period_us"`
	ControllerURL string    `mapstructure:"controller_url"`
	SliceMS       int       `mapstructure:"slice_ms"`
	Scale         float64   `mapstructure:"scale"`
	Smoothing     Smoothing `mapstructure:"smoothing"`
}

type Smoothing struct {
	AttackMS  int `mapstructure:"attack_ms"`
	ReleaseMS int `mapstructure:"release_ms"`
}

type SessionConfig struct {
	MaxRetries  int     `mapstructure:"max_retries"`
	RetryDelayS float64 `mapstructure:"retry_delay_s"`
}

type VisionConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Caption string   `mapstructure:"caption"`
	Tags    []string `mapstructure:"tags"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend_url", "http://localhost:8080")
	v.SetDefault("booth_id", "booth-01")
	v.SetDefault("default_personality", "trickster")
	v.SetDefault("mode", "chat")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("error_cooldown", 3*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("tts.engine", "tone")
	v.SetDefault("tts.piper_binary", "piper")
	v.SetDefault("tts.sample_rate", 22050)
	v.SetDefault("tts.default_voice", "en_US-lessac-medium")
	v.SetDefault("tts.voice_map", map[string]string{
		"trickster":   "en_US-lessac-high",
		"sage":        "en_GB-alan-medium",
		"muse":        "en_US-lessac-medium",
		"jester":      "en_GB-alan-low",
		"night_watch": "en_US-lessac-low",
	})

	v.SetDefault("playback.player", "sleep")

	v.SetDefault("lighting.enabled", true)
	v.SetDefault("lighting.driver", "null")
	v.SetDefault("lighting.pwm_chip", 0)
	v.SetDefault("lighting.pwm_channel", 0)
	v.SetDefault("lighting.pwm_period_us", 1000)
	v.SetDefault("lighting.slice_ms", 20)
	v.SetDefault("lighting.scale", 255.0)
	v.SetDefault("lighting.smoothing.attack_ms", 50)
	v.SetDefault("lighting.smoothing.release_ms", 200)

	v.SetDefault("session.max_retries", 3)
	v.SetDefault("session.retry_delay_s", 1.0)

	v.SetDefault("vision.enabled", false)
}

// LoadConfig reads the booth config. A missing file falls back to defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BOOTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := ""
	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read booth config %s: %w", path, err)
			}
			source = path
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat booth config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode booth config: %w", err)
	}
	cfg.Source = source
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("backend_url is required")
	}
	if strings.TrimSpace(c.BoothID) == "" {
		return fmt.Errorf("booth_id is required")
	}
	if strings.TrimSpace(c.DefaultPersonality) == "" {
		return fmt.Errorf("default_personality is required")
	}
	if c.Session.MaxRetries < 1 {
		return fmt.Errorf("session.max_retries must be >= 1")
	}
	if c.Session.RetryDelayS < 0 {
		return fmt.Errorf("session.retry_delay_s must be >= 0")
	}
	if c.Lighting.Smoothing.AttackMS < 0 || c.Lighting.Smoothing.ReleaseMS < 0 {
		return fmt.Errorf("lighting smoothing times must be >= 0")
	}
	if c.Lighting.Enabled && c.Lighting.Smoothing.AttackMS >= c.Lighting.Smoothing.ReleaseMS {
		// Brightness must rise faster than it decays.
		return fmt.Errorf("lighting.smoothing.attack_ms (%d) must be < release_ms (%d)",
			c.Lighting.Smoothing.AttackMS, c.Lighting.Smoothing.ReleaseMS)
	}
	if c.Lighting.SliceMS <= 0 {
		return fmt.Errorf("lighting.slice_ms must be > 0")
	}
	switch strings.ToLower(c.TTS.Engine) {
	case "tone", "piper":
	default:
		return fmt.Errorf("unsupported tts.engine %q", c.TTS.Engine)
	}
	switch strings.ToLower(c.Playback.Player) {
	case "sleep", "aplay":
	default:
		return fmt.Errorf("unsupported playback.player %q", c.Playback.Player)
	}
	return nil
}

func (c Config) LightingConfig() lighting.Config {
	return lighting.Config{
		Enabled:       c.Lighting.Enabled,
		Driver:        c.Lighting.Driver,
		PWMChip:       c.Lighting.PWMChip,
		PWMChannel:    c.Lighting.PWMChannel,
		PWMPeriod:     time.Duration(c.Lighting.PWMPeriodUS) * time.Microsecond,
		ControllerURL: c.Lighting.ControllerURL,
		BoothID:       c.BoothID,
		Scale:         c.Lighting.Scale,
		Attack:        time.Duration(c.Lighting.Smoothing.AttackMS) * time.Millisecond,
		Release:       time.Duration(c.Lighting.Smoothing.ReleaseMS) * time.Millisecond,
		Slice:         c.Slice(),
	}
}

func (c Config) Slice() time.Duration {
	return time.Duration(c.Lighting.SliceMS) * time.Millisecond
}

func (c Config) RetryPolicy() reliability.Policy {
	delay := time.Duration(c.Session.RetryDelayS * float64(time.Second))
	return reliability.Policy{
		Attempts: c.Session.MaxRetries,
		Base:     delay,
		Cap:      8 * delay,
	}
}
