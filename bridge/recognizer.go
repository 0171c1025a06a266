package bridge

import (
	"context"
	"strings"

	"node.town/scribe/remote"
)

// Recognition is one decode request: a span of mono 16-bit audio plus the
// options the client sent in its handshake.
type Recognition struct {
	Samples    []int16
	SampleRate uint32
	Language   *string
	Task       string
	BeamSize   uint32
}

// Recognizer turns a buffer of audio into text. The bridge calls it for
// every partial window and once more for the final transcript.
type Recognizer interface {
	Recognize(ctx context.Context, req Recognition) (string, error)
}

// RemoteRecognizer forwards each recognition to an OpenAI-compatible
// transcription endpoint.
type RemoteRecognizer struct {
	client *remote.Client
}

func NewRemoteRecognizer(client *remote.Client) *RemoteRecognizer {
	return &RemoteRecognizer{client: client}
}

func (r *RemoteRecognizer) Recognize(ctx context.Context, req Recognition) (string, error) {
	language := ""
	if req.Language != nil {
		language = *req.Language
	}
	text, err := r.client.TranscribePCM16(ctx, req.Samples, req.SampleRate, language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
