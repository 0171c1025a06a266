// Package remote transcribes whole recordings with an OpenAI-compatible
// /audio/transcriptions endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"node.town/scribe/wav"
)

const (
	DefaultTimeout   = 120 * time.Second
	DefaultModelName = "whisper-1"
)

// Model is one configured transcription endpoint.
type Model struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	APIURL      string `mapstructure:"api_url"`
	APIKey      string `mapstructure:"api_key"`
	ModelName   string `mapstructure:"model_name"`
}

type Client struct {
	model      Model
	httpClient *http.Client
	logger     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(model Model, opts ...Option) (*Client, error) {
	if model.APIURL == "" {
		return nil, errors.New("remote model has no api url")
	}
	if model.ModelName == "" {
		model.ModelName = DefaultModelName
	}

	c := &Client{
		model:      model,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Model() Model {
	return c.model
}

func (c *Client) Endpoint() string {
	return strings.TrimRight(c.model.APIURL, "/") + "/audio/transcriptions"
}

// Request is a mono recording in [-1, 1] float samples.
type Request struct {
	Samples    []float32
	SampleRate uint32
	// Language is a language code; empty or "auto" lets the service detect it.
	Language string
}

// StatusError is a non-2xx response from the transcription service.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote transcription failed (%s): %s", e.Status, e.Body)
}

func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	return c.upload(
		ctx,
		wav.EncodeFloat32(req.Samples, req.SampleRate),
		req.Language,
		time.Duration(len(req.Samples))*time.Second/time.Duration(max(req.SampleRate, 1)),
	)
}

// TranscribePCM16 is Transcribe for callers that already hold 16-bit PCM.
func (c *Client) TranscribePCM16(
	ctx context.Context,
	samples []int16,
	sampleRate uint32,
	language string,
) (string, error) {
	return c.upload(
		ctx,
		wav.Encode(samples, sampleRate),
		language,
		time.Duration(len(samples))*time.Second/time.Duration(max(sampleRate, 1)),
	)
}

func (c *Client) upload(
	ctx context.Context,
	audio []byte,
	language string,
	duration time.Duration,
) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}

	fields := [][2]string{
		{"model", c.model.ModelName},
		{"response_format", "json"},
		{"temperature", "0.0"},
	}
	if language != "" && language != "auto" {
		fields = append(fields, [2]string{"language", language})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Endpoint(), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.model.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.model.APIKey))
	}

	c.logger.Info(
		"uploading audio",
		"endpoint", c.Endpoint(),
		"model", c.model.ModelName,
		"duration", duration,
		"bytes", len(audio),
	)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := "Unknown error"
		if data, err := io.ReadAll(resp.Body); err == nil {
			text = string(data)
		}
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       text,
		}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Info("transcription received", "elapsed", time.Since(start), "chars", len(result.Text))
	return result.Text, nil
}
