package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSlowConsumer  = errors.New("slow consumer")
	ErrSessionClosed = errors.New("session closed")
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type SessionConfig struct {
	SendBuffer     int
	SendTimeout    time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// FrameHandler processes one inbound text frame on the session's reader
// goroutine.
type FrameHandler func(s *Session, payload []byte)

// Session owns one client connection: a reader goroutine that feeds inbound
// frames to the handler, and a writer goroutine that drains the bounded send
// queue onto the transport.
type Session struct {
	id      string
	conn    net.Conn
	logger  *zap.Logger
	cfg     SessionConfig
	handler FrameHandler
	onClose func(*Session)

	queue   chan wsutil.Message
	done    chan struct{} // closed when Closing starts
	stopped chan struct{} // closed once the transport is released
	writeMu sync.Mutex

	closeOnce sync.Once
	state     atomic.Int32
	lastSeen  atomic.Int64 // unix nano
}

func NewSession(conn net.Conn, logger *zap.Logger, cfg SessionConfig, handler FrameHandler, onClose func(*Session)) *Session {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}
	id := uuid.NewString()
	s := &Session{
		id:      id,
		conn:    conn,
		logger:  logger.With(zap.String("session", id)),
		cfg:     cfg,
		handler: handler,
		onClose: onClose,
		queue:   make(chan wsutil.Message, cfg.SendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.touch()
	return s
}

// Start moves the session to Open and launches its pumps.
func (s *Session) Start() {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	s.touch()
	go s.writePump()
	go s.readPump()
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Done is closed once the transport has been released.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// Send enqueues a text frame. When the queue stays full for the send timeout
// the session is closed and ErrSlowConsumer is returned.
func (s *Session) Send(b []byte) error {
	return s.enqueue(wsutil.Message{OpCode: ws.OpText, Payload: b})
}

func (s *Session) SendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// Ping queues a WS ping control frame behind any pending data.
func (s *Session) Ping() error {
	return s.enqueue(wsutil.Message{OpCode: ws.OpPing})
}

func (s *Session) enqueue(m wsutil.Message) error {
	if s.State() > StateOpen {
		return ErrSessionClosed
	}

	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	timer := time.NewTimer(s.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-timer.C:
		s.logger.Warn("Send queue full, dropping session", zap.Duration("timeout", s.cfg.SendTimeout))
		s.Close()
		return ErrSlowConsumer
	}
}

// Close starts the shutdown of the session. Only the first call has any
// effect; the close hook runs exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosing)))
		close(s.done)

		if s.onClose != nil {
			s.onClose(s)
		}

		// The writer releases the transport; without one we do it here.
		if prev == StateConnecting {
			s.release()
		}
	})
}

func (s *Session) release() {
	s.conn.Close()
	s.state.Store(int32(StateClosed))
	close(s.stopped)
	s.logger.Debug("Session closed")
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) write(op ws.OpCode, payload []byte) error {
	return s.writeBy(time.Now().Add(s.cfg.WriteWait), op, payload)
}

func (s *Session) writeBy(deadline time.Time, op ws.OpCode, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	return wsutil.WriteServerMessage(s.conn, op, payload)
}

func (s *Session) readPump() {
	defer s.Close()

	for {
		header, err := ws.ReadHeader(s.conn)
		if err != nil {
			return
		}

		if header.Length > s.cfg.MaxMessageSize {
			s.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		if !header.Fin {
			s.logger.Warn("Client sent fragmented message (not supported)")
			return
		}

		if header.OpCode.IsControl() && header.Length > ws.MaxControlFramePayloadSize {
			s.logger.Warn("Control frame too big", zap.Int64("size", header.Length))
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		s.touch()

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			if err := s.write(ws.OpPong, payload); err != nil {
				return
			}
		case ws.OpPong:
		case ws.OpText, ws.OpBinary:
			s.handler(s, payload)
		}
	}
}

func (s *Session) writePump() {
	defer s.release()

	for {
		select {
		case m := <-s.queue:
			if err := s.write(m.OpCode, m.Payload); err != nil {
				s.logger.Debug("Write failed", zap.Error(err))
				s.Close()
				return
			}
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain flushes what is already queued and says goodbye, all within one
// write window.
func (s *Session) drain() {
	deadline := time.Now().Add(s.cfg.WriteWait)
	for {
		select {
		case m := <-s.queue:
			if err := s.writeBy(deadline, m.OpCode, m.Payload); err != nil {
				return
			}
		default:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(deadline)
			s.conn.Write(ws.CompiledClose)
			s.writeMu.Unlock()
			return
		}
	}
}
