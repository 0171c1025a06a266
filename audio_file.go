package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"node.town/scribe/realtime"
	"node.town/scribe/wav"
)

// loadAudio reads a WAV file, or headerless little-endian 16-bit mono PCM
// at rawRate for any other extension.
func loadAudio(path string, rawRate uint32) (*wav.Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		audio, err := wav.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return audio, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &wav.Audio{
		SampleRate: rawRate,
		Channels:   1,
		Samples:    realtime.DecodePCM16(data),
	}, nil
}
