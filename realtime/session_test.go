package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

type frame struct {
	messageType int
	data        []byte
}

// startPeer serves a websocket endpoint that hands every connection to
// handle. Handlers report through channels; they must not touch t.
func startPeer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// recordFrames forwards everything the client sends until the connection
// ends.
func recordFrames(received chan<- frame) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		defer close(received)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- frame{messageType, data}
		}
	}
}

func closeNormally(conn *websocket.Conn) {
	conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}

func recv(t *testing.T, ch <-chan frame) frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("peer connection ended early")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return frame{}
}

func dial(t *testing.T, url string, cfg Config, opts ...Option) *Session {
	t.Helper()
	s, err := Dial(context.Background(), url, cfg, opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func next(t *testing.T, s *Session) (Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := s.NextMessage(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for message")
	}
	return msg, err
}

func TestHandshakeIsFirstMessage(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{
			name:     "auto language",
			cfg:      DefaultConfig(),
			expected: `{"language":null,"task":"transcribe","beam_size":1}`,
		},
		{
			name:     "explicit language",
			cfg:      Config{Language: Language("en"), Task: "transcribe", BeamSize: 5},
			expected: `{"language":"en","task":"transcribe","beam_size":5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan frame, 16)
			s := dial(t, startPeer(t, recordFrames(received)), tt.cfg)

			if err := s.SendFrame([]int16{1, 2}); err != nil {
				t.Fatalf("send frame: %v", err)
			}

			first := recv(t, received)
			if first.messageType != websocket.TextMessage {
				t.Fatalf("expected text handshake, got type %d", first.messageType)
			}
			if string(first.data) != tt.expected {
				t.Errorf("handshake mismatch\nexpected: %s\ngot: %s", tt.expected, first.data)
			}

			second := recv(t, received)
			if second.messageType != websocket.BinaryMessage {
				t.Fatalf("expected binary frame, got type %d", second.messageType)
			}
			if string(second.data) != "\x01\x00\x02\x00" {
				t.Errorf("unexpected frame bytes: %v", second.data)
			}
		})
	}
}

func TestFramesKeepOrderAndBoundaries(t *testing.T) {
	received := make(chan frame, 16)
	s := dial(t, startPeer(t, recordFrames(received)), DefaultConfig())

	frames := [][]int16{
		make([]int16, 320),
		{-1},
		{},
		{0x1234, -32768, 32767},
	}
	for _, f := range frames {
		if err := s.SendFrame(f); err != nil {
			t.Fatalf("send frame: %v", err)
		}
	}

	recv(t, received) // handshake
	for i, f := range frames {
		got := recv(t, received)
		if got.messageType != websocket.BinaryMessage {
			t.Fatalf("frame %d: expected binary, got type %d", i, got.messageType)
		}
		if string(got.data) != string(EncodePCM16(f)) {
			t.Errorf("frame %d: expected %v, got %v", i, EncodePCM16(f), got.data)
		}
	}
}

func TestPartialAndFinal(t *testing.T) {
	url := startPeer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"partial","text":"hel"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"final","text":"hello"}`))
		closeNormally(conn)
		conn.ReadMessage()
	})
	s := dial(t, url, DefaultConfig())

	expected := []Message{
		{Kind: Partial, Text: "hel"},
		{Kind: Final, Text: "hello"},
	}
	for _, want := range expected {
		msg, err := next(t, s)
		if err != nil {
			t.Fatalf("next message: %v", err)
		}
		if msg != want {
			t.Errorf("expected %+v, got %+v", want, msg)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := next(t, s); err != io.EOF {
			t.Fatalf("expected io.EOF after close, got %v", err)
		}
	}
	if st := s.State(); st != StateClosed {
		t.Errorf("expected closed state, got %s", st)
	}
}

func TestMalformedMessagesAreRecoverable(t *testing.T) {
	const badUTF8 = "{\"type\":\"partial\",\"text\":\"a\xff\xfeb\"}"

	url := startPeer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus","text":"x"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"partial"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(badUTF8))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"final","text":"ok"}`))
		closeNormally(conn)
		conn.ReadMessage()
	})
	s := dial(t, url, DefaultConfig())

	payloads := []string{`{"type":"bogus","text":"x"}`, `not json`, `{"type":"partial"}`, badUTF8}
	for _, payload := range payloads {
		_, err := next(t, s)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError for %s, got %v", payload, err)
		}
		if string(perr.Payload) != payload {
			t.Errorf("expected payload %s, got %s", payload, perr.Payload)
		}
	}

	msg, err := next(t, s)
	if err != nil {
		t.Fatalf("stream did not recover: %v", err)
	}
	if msg != (Message{Kind: Final, Text: "ok"}) {
		t.Errorf("unexpected message %+v", msg)
	}
	if _, err := next(t, s); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestStopThenDrain(t *testing.T) {
	received := make(chan frame, 16)
	url := startPeer(t, func(conn *websocket.Conn) {
		defer close(received)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- frame{messageType, data}
			if messageType == websocket.TextMessage && string(data) == `{"type":"stop"}` {
				break
			}
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"final","text":""}`))
		closeNormally(conn)
		conn.ReadMessage()
	})
	s := dial(t, url, DefaultConfig())

	if err := s.SendFrame(make([]int16, 320)); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := s.State(); st != StateStopping && st != StateClosed {
		t.Errorf("expected stopping state, got %s", st)
	}

	var serr *StateError
	if err := s.SendFrame([]int16{1}); !errors.As(err, &serr) {
		t.Errorf("expected StateError for send after stop, got %v", err)
	}
	if err := s.Stop(); !errors.As(err, &serr) {
		t.Errorf("expected StateError for second stop, got %v", err)
	}

	msg, err := next(t, s)
	if err != nil {
		t.Fatalf("next message: %v", err)
	}
	if msg.Kind != Final {
		t.Errorf("expected final, got %s", msg.Kind)
	}
	if _, err := next(t, s); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}

	handshake := recv(t, received)
	if handshake.messageType != websocket.TextMessage {
		t.Errorf("expected handshake first")
	}
	audio := recv(t, received)
	if audio.messageType != websocket.BinaryMessage || len(audio.data) != 640 {
		t.Errorf("expected one 640 byte frame, got type %d with %d bytes", audio.messageType, len(audio.data))
	}
	stop := recv(t, received)
	if string(stop.data) != `{"type":"stop"}` {
		t.Errorf("expected stop message, got %s", stop.data)
	}
}

func TestAnyCloseCodeEndsStream(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"internal error", websocket.CloseInternalServerErr},
		{"policy violation", websocket.ClosePolicyViolation},
		{"application code", 4000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := startPeer(t, func(conn *websocket.Conn) {
				conn.ReadMessage()
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"final","text":"done"}`))
				conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(tt.code, "bye"),
				)
				conn.ReadMessage()
			})
			s := dial(t, url, DefaultConfig())

			msg, err := next(t, s)
			if err != nil {
				t.Fatalf("expected final, got %v", err)
			}
			if msg != (Message{Kind: Final, Text: "done"}) {
				t.Errorf("unexpected message %+v", msg)
			}
			for i := 0; i < 2; i++ {
				if _, err := next(t, s); err != io.EOF {
					t.Errorf("expected io.EOF after close %d, got %v", tt.code, err)
				}
			}
		})
	}
}

func TestTransportErrorIsTerminal(t *testing.T) {
	url := startPeer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.UnderlyingConn().Close()
	})
	s := dial(t, url, DefaultConfig())

	_, err := next(t, s)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := next(t, s); err != io.EOF {
			t.Errorf("expected io.EOF after transport error, got %v", err)
		}
	}

	var serr *StateError
	if err := s.SendFrame([]int16{1}); !errors.As(err, &serr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if serr.State != StateClosed {
		t.Errorf("expected closed state in error, got %s", serr.State)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	received := make(chan frame, 16)
	s := dial(t, startPeer(t, recordFrames(received)), DefaultConfig())

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.Close()

	if st := s.State(); st != StateClosed {
		t.Errorf("expected closed, got %s", st)
	}
	var serr *StateError
	if err := s.SendFrame([]int16{1}); !errors.As(err, &serr) {
		t.Errorf("expected StateError, got %v", err)
	}
	if err := s.Stop(); !errors.As(err, &serr) {
		t.Errorf("expected StateError, got %v", err)
	}
	if _, err := next(t, s); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDeliverKeepsFramesAfterQuit(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := newDownlink(nil, &stateValue{}, log.New(io.Discard), 1)
		close(d.quit)

		if !d.deliver(inbound{data: []byte("x")}) {
			t.Fatalf("attempt %d: frame dropped with room in the buffer", i)
		}
		if d.deliver(inbound{data: []byte("y")}) {
			t.Fatalf("attempt %d: expected a full buffer to give up after quit", i)
		}
		if in := <-d.frames; string(in.data) != "x" {
			t.Fatalf("attempt %d: unexpected frame %q", i, in.data)
		}
	}
}

func TestCloseLogsUnsentCloseFrame(t *testing.T) {
	received := make(chan frame, 16)
	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)

	s := dial(t, startPeer(t, recordFrames(received)), DefaultConfig(), WithLogger(logger))
	s.conn.UnderlyingConn().Close()
	s.Close()

	if !strings.Contains(buf.String(), "close frame not sent") {
		t.Errorf("expected the failed close frame to be logged, got:\n%s", buf.String())
	}
	if st := s.State(); st != StateClosed {
		t.Errorf("expected closed, got %s", st)
	}
}

func TestNextMessageHonorsContext(t *testing.T) {
	received := make(chan frame, 16)
	s := dial(t, startPeer(t, recordFrames(received)), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.NextMessage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	if st := s.State(); st != StateStreaming {
		t.Errorf("expected session to keep streaming, got %s", st)
	}
}

func TestConcurrentSendAndReceive(t *testing.T) {
	const total = 50

	url := startPeer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		count := 0
		for {
			messageType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage {
				break
			}
			count++
			text := fmt.Sprintf(`{"type":"partial","text":"%d"}`, count)
			conn.WriteMessage(websocket.TextMessage, []byte(text))
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"final","text":"done"}`))
		closeNormally(conn)
		conn.ReadMessage()
	})
	s := dial(t, url, DefaultConfig())

	sendErr := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			if err := s.SendFrame([]int16{int16(i)}); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- s.Stop()
	}()

	partials := 0
	for {
		msg, err := next(t, s)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next message: %v", err)
		}
		if msg.Kind == Final {
			if msg.Text != "done" {
				t.Errorf("unexpected final %q", msg.Text)
			}
			continue
		}
		partials++
		if msg.Text != strconv.Itoa(partials) {
			t.Errorf("partials out of order: expected %d, got %s", partials, msg.Text)
		}
	}

	if err := <-sendErr; err != nil {
		t.Fatalf("sender: %v", err)
	}
	if partials != total {
		t.Errorf("expected %d partials, got %d", total, partials)
	}
}

func TestDialErrors(t *testing.T) {
	t.Run("rejected upgrade", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), DefaultConfig())
		var cerr *ConnectionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConnectionError, got %v", err)
		}
		if cerr.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", cerr.StatusCode)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		srv.Close()

		_, err := Dial(context.Background(), url, DefaultConfig())
		var cerr *ConnectionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConnectionError, got %v", err)
		}
		if cerr.StatusCode != 0 {
			t.Errorf("expected no status, got %d", cerr.StatusCode)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", Config{Task: "transcribe"})
		var serr *SerializationError
		if !errors.As(err, &serr) {
			t.Fatalf("expected SerializationError, got %v", err)
		}
	})
}

func TestBearerToken(t *testing.T) {
	headers := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"), DefaultConfig(), WithBearerToken("secret"))

	if got := <-headers; got != "Bearer secret" {
		t.Errorf("expected bearer header, got %q", got)
	}
}
