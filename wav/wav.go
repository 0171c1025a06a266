// Package wav reads and writes the 16-bit PCM RIFF/WAVE files exchanged with
// transcription services.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	HeaderSize    = 44
	BitsPerSample = 16

	formatPCM        = 1
	formatExtensible = 0xFFFE
)

var (
	ErrNotWAV           = errors.New("not a RIFF/WAVE file")
	ErrUnsupportedCodec = errors.New("only 16-bit PCM is supported")
	ErrMissingChunk     = errors.New("missing fmt or data chunk")
)

// Audio is decoded, mono PCM.
type Audio struct {
	SampleRate uint32
	// Channels is the channel count of the source file; Samples are
	// always mixed down to one channel.
	Channels uint16
	Samples  []int16
}

func (a *Audio) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Encode wraps mono 16-bit samples in a canonical 44-byte WAV header.
func Encode(samples []int16, sampleRate uint32) []byte {
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(BitsPerSample / 8)

	buf := make([]byte, 0, HeaderSize+len(samples)*2)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, 36+dataSize)
	buf = append(buf, "WAVEfmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, formatPCM)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, sampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, sampleRate*uint32(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, blockAlign)
	buf = binary.LittleEndian.AppendUint16(buf, BitsPerSample)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, dataSize)
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}

func EncodeFloat32(samples []float32, sampleRate uint32) []byte {
	return Encode(FloatToPCM16(samples), sampleRate)
}

// FloatToPCM16 clamps each sample to [-1, 1] and scales it by 32767,
// truncating toward zero. NaN becomes silence.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			continue
		}
		s = max(-1, min(1, s))
		out[i] = int16(s * math.MaxInt16)
	}
	return out
}

// Decode reads a 16-bit PCM WAV stream. Unknown chunks (LIST, fact, ...)
// are skipped; multi-channel audio is averaged down to mono.
func Decode(r io.Reader) (*Audio, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read wav data: %w", err)
	}
	if len(data) < 12 ||
		!bytes.Equal(data[0:4], []byte("RIFF")) ||
		!bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, ErrNotWAV
	}

	var (
		format  *fmtChunk
		payload []byte
		found   bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) || size < 0 {
			// Streaming writers leave the size unset; take what is there.
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			var f fmtChunk
			if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("failed to parse fmt chunk: %w", err)
			}
			format = &f
		case "data":
			payload = body
			found = true
		}

		off += 8 + size + size%2
	}

	if format == nil || !found {
		return nil, ErrMissingChunk
	}
	if format.AudioFormat != formatPCM && format.AudioFormat != formatExtensible {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedCodec, format.AudioFormat)
	}
	if format.BitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedCodec, format.BitsPerSample)
	}
	if format.NumChannels == 0 {
		return nil, fmt.Errorf("%w: zero channels", ErrUnsupportedCodec)
	}

	channels := int(format.NumChannels)
	frames := len(payload) / (2 * channels)
	samples := make([]int16, frames)
	for i := range samples {
		var sum int32
		for c := 0; c < channels; c++ {
			at := (i*channels + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(payload[at:])))
		}
		samples[i] = int16(sum / int32(channels))
	}

	return &Audio{
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		Samples:    samples,
	}, nil
}
