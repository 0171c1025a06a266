package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// uplink is the write half of a session. The websocket connection allows a
// single writer at a time, so everything outbound goes through mu.
type uplink struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state *stateValue

	frames int
	bytes  int
}

// send writes one message if the session is in state from, then moves it
// to state to. The check, the write and the transition happen under mu, so
// no frame can follow a stop message onto the wire.
func (u *uplink) send(
	op string,
	messageType int,
	data []byte,
	from, to State,
) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if st := u.state.load(); st != from {
		return &StateError{Op: op, State: st}
	}

	if err := u.conn.WriteMessage(messageType, data); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if messageType == websocket.BinaryMessage {
		u.frames++
		u.bytes += len(data)
	}

	if from != to {
		u.state.advance(from, to)
	}
	return nil
}

func (u *uplink) stats() (frames, bytes int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.frames, u.bytes
}
