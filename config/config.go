// Package config loads scribe settings from viper: config.yaml, SCRIBE_*
// environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"node.town/scribe/bridge"
	"node.town/scribe/realtime"
	"node.town/scribe/remote"
)

const EnvPrefix = "scribe"

type Settings struct {
	Debug    bool             `mapstructure:"debug"`
	Realtime RealtimeSettings `mapstructure:"realtime"`
	Remote   remote.Model     `mapstructure:"remote"`
	Models   []remote.Model   `mapstructure:"models"`
	Bridge   BridgeSettings   `mapstructure:"bridge"`
}

type RealtimeSettings struct {
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	Language   string `mapstructure:"language"`
	Task       string `mapstructure:"task"`
	BeamSize   uint32 `mapstructure:"beam_size"`
	SampleRate uint32 `mapstructure:"sample_rate"`
	FrameMS    int    `mapstructure:"frame_ms"`
}

type BridgeSettings struct {
	Addr         string `mapstructure:"addr"`
	Backend      string `mapstructure:"backend"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`
}

const (
	BackendRemote = "remote"
	BackendGemini = "gemini"
)

// SetDefaults registers every key, which also lets AutomaticEnv find
// nested keys such as SCRIBE_REALTIME_URL.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("realtime.url", "ws://localhost:8000/ws")
	v.SetDefault("realtime.token", "")
	v.SetDefault("realtime.language", "auto")
	v.SetDefault("realtime.task", realtime.TaskTranscribe)
	v.SetDefault("realtime.beam_size", 1)
	v.SetDefault("realtime.sample_rate", 16000)
	v.SetDefault("realtime.frame_ms", 20)

	v.SetDefault("remote.id", "default")
	v.SetDefault("remote.name", "OpenAI Whisper")
	v.SetDefault("remote.description", "")
	v.SetDefault("remote.api_url", "https://api.openai.com/v1")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.model_name", remote.DefaultModelName)

	v.SetDefault("bridge.addr", ":8000")
	v.SetDefault("bridge.backend", BackendRemote)
	v.SetDefault("bridge.gemini_api_key", "")
	v.SetDefault("bridge.gemini_model", bridge.DefaultGeminiModel)
}

// Env configures v to read SCRIBE_ prefixed variables.
func Env(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("remote.api_key", "SCRIBE_REMOTE_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("bridge.gemini_api_key", "SCRIBE_BRIDGE_GEMINI_API_KEY", "GEMINI_API_KEY")
}

func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	for i := range s.Models {
		if s.Models[i].ModelName == "" {
			s.Models[i].ModelName = remote.DefaultModelName
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	var errs []error

	if s.Realtime.URL == "" {
		errs = append(errs, errors.New("realtime.url is required"))
	}
	if s.Realtime.SampleRate == 0 {
		errs = append(errs, errors.New("realtime.sample_rate must be positive"))
	}
	if s.Realtime.FrameMS <= 0 {
		errs = append(errs, errors.New("realtime.frame_ms must be positive"))
	}
	if err := s.RealtimeConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("realtime: %w", err))
	}

	switch s.Bridge.Backend {
	case BackendRemote, BackendGemini:
	default:
		errs = append(errs, fmt.Errorf("bridge.backend must be %q or %q, got %q",
			BackendRemote, BackendGemini, s.Bridge.Backend))
	}

	seen := map[string]bool{}
	for i, m := range s.Models {
		switch {
		case m.ID == "":
			errs = append(errs, fmt.Errorf("models[%d]: id is required", i))
		case seen[m.ID]:
			errs = append(errs, fmt.Errorf("models[%d]: duplicate id %q", i, m.ID))
		case m.APIURL == "":
			errs = append(errs, fmt.Errorf("models[%d]: api_url is required", i))
		}
		seen[m.ID] = true
	}

	return errors.Join(errs...)
}

func (s *Settings) RealtimeConfig() realtime.Config {
	return realtime.Config{
		Language: realtime.Language(s.Realtime.Language),
		Task:     s.Realtime.Task,
		BeamSize: s.Realtime.BeamSize,
	}
}

func (s *Settings) FrameSize() int {
	return realtime.FrameSize(s.Realtime.SampleRate, s.Realtime.FrameMS)
}

// Model returns the remote model with the given id. The empty id selects
// the remote section itself.
func (s *Settings) Model(id string) (remote.Model, error) {
	if id == "" || id == s.Remote.ID {
		return s.Remote, nil
	}
	for _, m := range s.Models {
		if m.ID == id {
			return m, nil
		}
	}
	return remote.Model{}, fmt.Errorf("unknown model %q", id)
}

// AllModels lists the remote section followed by the configured models.
func (s *Settings) AllModels() []remote.Model {
	return append([]remote.Model{s.Remote}, s.Models...)
}
