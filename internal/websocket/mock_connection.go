package websocket

import (
	"errors"
	"sync"
	"time"
)

// MockMessage is one frame recorded by or scripted into MockConnection.
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// MockConnection implements Connection in memory. Reads are scripted
// with AddReadMessage and block once the script runs out, which keeps a
// read pump alive the way a quiet browser does; writes are recorded.
type MockConnection struct {
	mu          sync.Mutex
	written     []MockMessage
	writeErr    error
	reads       chan MockMessage
	closed      chan struct{}
	closeOnce   sync.Once
	remoteAddr  string
	readLimit   int64
	pongHandler func(string) error
}

// NewMockConnection creates a mock connection ready for scripting.
func NewMockConnection() *MockConnection {
	return &MockConnection{
		reads:      make(chan MockMessage, 16),
		closed:     make(chan struct{}),
		remoteAddr: "127.0.0.1:52431",
	}
}

// ReadMessage returns the next scripted frame, blocking until one
// arrives or the connection closes.
func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.reads:
		if msg.Err != nil {
			return 0, nil, msg.Err
		}
		return msg.Type, msg.Data, nil
	case <-m.closed:
		return 0, nil, errors.New("connection closed")
	}
}

// WriteMessage records the frame, or fails if the connection is closed
// or FailWrites was set.
func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closed:
		return errors.New("connection closed")
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.written = append(m.written, MockMessage{Type: messageType, Data: buf})
	return nil
}

// Close marks the connection closed. Safe to call more than once.
func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *MockConnection) SetReadDeadline(t time.Time) error  { return nil }
func (m *MockConnection) SetWriteDeadline(t time.Time) error { return nil }

func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *MockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

func (m *MockConnection) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteAddr
}

// AddReadMessage scripts a frame for ReadMessage to return.
func (m *MockConnection) AddReadMessage(messageType int, data []byte, err error) {
	m.reads <- MockMessage{Type: messageType, Data: data, Err: err}
}

// WrittenMessages returns a copy of every recorded frame.
func (m *MockConnection) WrittenMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.written))
	copy(out, m.written)
	return out
}

// FailWrites makes every subsequent WriteMessage return err.
func (m *MockConnection) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// IsClosed reports whether Close has been called.
func (m *MockConnection) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
