package realtime

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

type inbound struct {
	data []byte
	err  error
}

// downlink is the read half of a session. A single goroutine reads the
// connection and hands text frames to NextMessage through frames, which is
// closed when the stream ends.
type downlink struct {
	conn    *websocket.Conn
	state   *stateValue
	logger  *log.Logger
	release func() error

	start  sync.Once
	frames chan inbound
	quit   chan struct{}
}

func newDownlink(
	conn *websocket.Conn,
	state *stateValue,
	logger *log.Logger,
	bufferSize int,
) *downlink {
	return &downlink{
		conn:   conn,
		state:  state,
		logger: logger,
		frames: make(chan inbound, bufferSize),
		quit:   make(chan struct{}),
	}
}

func (d *downlink) ensureStarted() {
	d.start.Do(func() {
		go d.run()
	})
}

func (d *downlink) run() {
	defer close(d.frames)
	defer d.release()

	for {
		messageType, data, err := d.conn.ReadMessage()
		if err != nil {
			if d.state.swap(StateClosed) == StateClosed {
				// Closed locally, or a failed write already reported it.
				return
			}
			// Any close frame from the server ends the stream, whatever its code.
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				d.logger.Debug(
					"server closed the stream",
					"code", closeErr.Code,
					"reason", closeErr.Text,
				)
				return
			}
			d.logger.Error("receive failed", "error", err)
			d.deliver(inbound{err: &TransportError{Op: "receive", Err: err}})
			return
		}

		if messageType != websocket.TextMessage {
			d.logger.Debug("skipping non-text frame", "type", messageType, "bytes", len(data))
			continue
		}
		if !d.deliver(inbound{data: data}) {
			return
		}
	}
}

// deliver queues in for NextMessage. Frames that fit in the buffer are kept
// even after the session is closed, so they can still be drained.
func (d *downlink) deliver(in inbound) bool {
	select {
	case d.frames <- in:
		return true
	default:
	}

	select {
	case d.frames <- in:
		return true
	case <-d.quit:
		return false
	}
}
