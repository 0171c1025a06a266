// Package bridge serves the realtime transcription protocol on top of a
// batch recognizer, so clients can be developed against any
// OpenAI-compatible endpoint or Gemini.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"node.town/scribe/realtime"
)

type Config struct {
	SampleRate uint32
	// PartialEvery is how much new audio triggers a partial transcript.
	PartialEvery time.Duration
	// Window is the trailing span of audio decoded for a partial.
	Window     time.Duration
	MinPartial time.Duration
	MinFinal   time.Duration
	Logger     *log.Logger
}

func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		PartialEvery: 500 * time.Millisecond,
		Window:       6 * time.Second,
		MinPartial:   400 * time.Millisecond,
		MinFinal:     time.Second,
	}
}

func (c Config) samples(d time.Duration) int {
	return int(int64(c.SampleRate) * int64(d) / int64(time.Second))
}

type Server struct {
	cfg        Config
	recognizer Recognizer
	upgrader   websocket.Upgrader
	logger     *log.Logger
}

func NewServer(recognizer Recognizer, cfg Config) *Server {
	defaults := DefaultConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.PartialEvery <= 0 {
		cfg.PartialEvery = defaults.PartialEvery
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:        cfg,
		recognizer: recognizer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", s.serveWS)

	return r
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("request", middleware.GetReqID(r.Context()), "remote", r.RemoteAddr)
	logger.Info("client connected")

	if err := s.stream(r.Context(), conn, logger); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger.Info("client went away before stopping")
		} else {
			logger.Error("stream failed", "error", err)
		}
		return
	}
	logger.Info("stream finished")
}

type session struct {
	cfg     realtime.Config
	pcm     []int16
	pending int
	emitted string
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, logger *log.Logger) error {
	sess := &session{cfg: realtime.DefaultConfig()}

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	switch messageType {
	case websocket.TextMessage:
		cfg := sess.cfg
		if err := json.Unmarshal(data, &cfg); err != nil {
			logger.Warn("ignoring unreadable handshake", "error", err)
		} else {
			sess.cfg = cfg
		}
	case websocket.BinaryMessage:
		sess.pcm = append(sess.pcm, realtime.DecodePCM16(data)...)
	}
	logger.Debug(
		"handshake",
		"language", languageOrAuto(sess.cfg.Language),
		"task", sess.cfg.Task,
		"beam_size", sess.cfg.BeamSize,
	)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			samples := realtime.DecodePCM16(data)
			sess.pcm = append(sess.pcm, samples...)
			sess.pending += len(samples)
		case websocket.TextMessage:
			if isStop(data) {
				return s.finish(ctx, conn, sess, logger)
			}
		}

		if err := s.maybePartial(ctx, conn, sess, logger); err != nil {
			return err
		}
	}
}

func (s *Server) maybePartial(
	ctx context.Context,
	conn *websocket.Conn,
	sess *session,
	logger *log.Logger,
) error {
	if sess.pending < s.cfg.samples(s.cfg.PartialEvery) {
		return nil
	}
	sess.pending = 0

	window := sess.pcm[max(0, len(sess.pcm)-s.cfg.samples(s.cfg.Window)):]
	if len(window) < s.cfg.samples(s.cfg.MinPartial) {
		return nil
	}

	text, err := s.recognize(ctx, sess.cfg, window)
	if err != nil {
		logger.Warn("partial recognition failed", "error", err)
		return nil
	}
	if text == "" {
		return nil
	}

	sess.emitted = text
	return writeMessage(conn, "partial", text)
}

func (s *Server) finish(
	ctx context.Context,
	conn *websocket.Conn,
	sess *session,
	logger *log.Logger,
) error {
	text := strings.TrimSpace(sess.emitted)
	if len(sess.pcm) >= s.cfg.samples(s.cfg.MinFinal) {
		cfg := sess.cfg
		cfg.BeamSize = max(2, cfg.BeamSize)
		final, err := s.recognize(ctx, cfg, sess.pcm)
		if err != nil {
			logger.Error("final recognition failed, keeping last partial", "error", err)
		} else {
			text = final
		}
	}

	logger.Info(
		"final transcript",
		"audio", time.Duration(len(sess.pcm))*time.Second/time.Duration(s.cfg.SampleRate),
		"chars", len(text),
	)
	if err := writeMessage(conn, "final", text); err != nil {
		return err
	}

	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	if err != nil {
		return err
	}

	// Give the client a moment to answer the close frame.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (s *Server) recognize(ctx context.Context, cfg realtime.Config, samples []int16) (string, error) {
	text, err := s.recognizer.Recognize(ctx, Recognition{
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		Language:   cfg.Language,
		Task:       cfg.Task,
		BeamSize:   cfg.BeamSize,
	})
	return strings.TrimSpace(text), err
}

func isStop(data []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &msg); err != nil {
		return false
	}
	return msg.Type == "stop"
}

func writeMessage(conn *websocket.Conn, kind, text string) error {
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{kind, text})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func languageOrAuto(lang *string) string {
	if lang == nil {
		return "auto"
	}
	return *lang
}
