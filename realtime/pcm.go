package realtime

import (
	"encoding/binary"
)

// EncodePCM16 lays samples out as little-endian bytes regardless of the
// host byte order.
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16 is the inverse of EncodePCM16. A trailing odd byte is dropped.
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Frames splits samples into consecutive frames of frameSize samples. The
// last frame may be shorter. The frames share memory with samples.
func Frames(samples []int16, frameSize int) [][]int16 {
	if frameSize <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(samples)+frameSize-1)/frameSize)
	for start := 0; start < len(samples); start += frameSize {
		end := min(start+frameSize, len(samples))
		frames = append(frames, samples[start:end:end])
	}
	return frames
}

// FrameSize is the number of samples in a frame of the given duration in
// milliseconds.
func FrameSize(sampleRate uint32, millis int) int {
	return int(sampleRate) * millis / 1000
}
