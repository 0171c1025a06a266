// Package realtime is a client for streaming speech recognition over a
// websocket.
//
// A session starts with a JSON handshake carrying the language, task and
// beam size. After that the caller pushes little-endian 16-bit PCM frames
// with SendFrame and, from any other goroutine, polls partial and final
// transcripts with NextMessage. Stop asks the server to finish; the server
// answers with a final transcript and closes the stream.
package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const DefaultBufferSize = 64

type Session struct {
	// ID identifies the session in logs. It is never sent to the server.
	ID string

	url    string
	conn   *websocket.Conn
	state  *stateValue
	up     *uplink
	down   *downlink
	logger *log.Logger

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	dialer     *websocket.Dialer
	header     http.Header
	logger     *log.Logger
	bufferSize int
}

type Option func(*options)

func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithHeader adds a header to the upgrade request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}

func WithBearerToken(token string) Option {
	return func(o *options) {
		if token != "" {
			o.header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBufferSize sets how many received messages may wait for NextMessage
// before the reader stops reading from the connection.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// Dial connects to url and sends cfg as the handshake. The returned session
// is ready for audio.
func Dial(
	ctx context.Context,
	url string,
	cfg Config,
	opts ...Option,
) (*Session, error) {
	o := options{
		dialer:     websocket.DefaultDialer,
		header:     http.Header{},
		logger:     log.Default(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	handshake, err := cfg.encode()
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	s := &Session{
		ID:     id,
		url:    url,
		state:  &stateValue{},
		logger: o.logger.With("session", id),
	}
	s.state.store(StateConnecting)

	conn, resp, err := o.dialer.DialContext(ctx, url, o.header)
	if err != nil {
		cerr := &ConnectionError{URL: url, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, cerr
	}

	s.conn = conn
	s.up = &uplink{conn: conn, state: s.state}
	s.down = newDownlink(conn, s.state, s.logger, o.bufferSize)
	s.down.release = s.release
	s.state.store(StateHandshaking)

	if err := s.up.send("handshake", websocket.TextMessage, handshake, StateHandshaking, StateStreaming); err != nil {
		s.state.store(StateClosed)
		s.release()
		return nil, &ConnectionError{
			URL: url,
			Err: fmt.Errorf("failed to send handshake: %w", err),
		}
	}

	s.logger.Info(
		"session started",
		"url", url,
		"language", languageForLog(cfg.Language),
		"task", cfg.Task,
		"beam_size", cfg.BeamSize,
	)
	return s, nil
}

func (s *Session) State() State {
	return s.state.load()
}

// SendFrame sends samples as one binary message. It fails with a
// *StateError unless the session is streaming, and with a *TransportError
// if the write fails, after which the session is closed.
func (s *Session) SendFrame(samples []int16) error {
	err := s.up.send(
		"send frame",
		websocket.BinaryMessage,
		EncodePCM16(samples),
		StateStreaming,
		StateStreaming,
	)
	if _, ok := err.(*TransportError); ok {
		s.fail(err)
	}
	return err
}

// Stop tells the server that no more audio will follow. The session stays
// open so the final transcript can still be read with NextMessage.
func (s *Session) Stop() error {
	err := s.up.send(
		"stop",
		websocket.TextMessage,
		stopMessage,
		StateStreaming,
		StateStopping,
	)
	if err != nil {
		if _, ok := err.(*TransportError); ok {
			s.fail(err)
		}
		return err
	}

	frames, bytes := s.up.stats()
	s.logger.Info("stop sent", "frames", frames, "bytes", bytes)
	return nil
}

// NextMessage blocks until the server sends a transcript update, the
// stream ends, or ctx is done.
//
// A malformed text frame returns a *ParseError and the stream continues. A
// failed read returns a *TransportError once. After the stream has ended,
// cleanly or not, every call returns io.EOF.
func (s *Session) NextMessage(ctx context.Context) (Message, error) {
	s.down.ensureStarted()

	select {
	case in, ok := <-s.down.frames:
		if !ok {
			return Message{}, io.EOF
		}
		if in.err != nil {
			return Message{}, in.err
		}
		msg, err := ParseMessage(in.data)
		if err != nil {
			s.logger.Warn("ignoring malformed server message", "error", err)
			return Message{}, err
		}
		s.logger.Debug("received", "kind", msg.Kind, "text", msg.Text)
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close closes the connection without waiting for outstanding transcripts.
// Messages already received can still be drained with NextMessage. It is
// safe to call more than once.
func (s *Session) Close() error {
	if s.state.swap(StateClosed) != StateClosed {
		err := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err != nil {
			s.logger.Debug("close frame not sent", "error", err)
		}
		s.logger.Debug("session closed")
	}
	return s.release()
}

func (s *Session) fail(err error) {
	if s.state.swap(StateClosed) != StateClosed {
		s.logger.Error("session failed", "error", err)
	}
	s.release()
}

func (s *Session) release() error {
	s.closeOnce.Do(func() {
		close(s.down.quit)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func languageForLog(lang *string) string {
	if lang == nil {
		return "auto"
	}
	return *lang
}
