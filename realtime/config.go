package realtime

import (
	"encoding/json"
	"errors"
)

const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// Config is the handshake payload sent once, before any audio.
type Config struct {
	// Language is a language hint; nil lets the server auto-detect and is
	// sent as JSON null.
	Language *string `json:"language"`
	Task     string  `json:"task"`
	BeamSize uint32  `json:"beam_size"`
}

func DefaultConfig() Config {
	return Config{
		Task:     TaskTranscribe,
		BeamSize: 1,
	}
}

// Language returns a language hint for Config.Language. The empty string
// and "auto" both mean auto-detect.
func Language(code string) *string {
	if code == "" || code == "auto" {
		return nil
	}
	return &code
}

func (c Config) Validate() error {
	if c.Task == "" {
		return errors.New("task must not be empty")
	}
	if c.BeamSize == 0 {
		return errors.New("beam size must be at least 1")
	}
	if c.Language != nil && *c.Language == "" {
		return errors.New("language must be nil or non-empty")
	}
	return nil
}

func (c Config) encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, &SerializationError{Err: err}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}
