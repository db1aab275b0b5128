package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/broadcast"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/protocol"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

// MockRecipient simulates a connected session
type MockRecipient struct {
	IDVal    string
	Frames   []protocol.Frame // decoded from SendJSON / Send
	RawBytes []string
	Pings    int
	Closed   bool
	SendErr  error
	Seen     time.Time
	Mu       sync.Mutex
}

func NewMockRecipient(id string) *MockRecipient {
	return &MockRecipient{IDVal: id, Seen: time.Now()}
}

func (m *MockRecipient) ID() string { return m.IDVal }

func (m *MockRecipient) Send(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.RawBytes = append(m.RawBytes, string(b))

	var f protocol.Frame
	if err := json.Unmarshal(b, &f); err == nil {
		m.Frames = append(m.Frames, f)
	}
	return nil
}

func (m *MockRecipient) SendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Send(b)
}

func (m *MockRecipient) Ping() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Pings++
	return nil
}

func (m *MockRecipient) LastSeen() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Seen
}

func (m *MockRecipient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockRecipient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

// FramesOfType returns a copy of the received frames with the given type.
func (m *MockRecipient) FramesOfType(typ string) []protocol.Frame {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []protocol.Frame
	for _, f := range m.Frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (m *MockRecipient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Frames) == 0 {
		return ""
	}
	return m.Frames[len(m.Frames)-1].Type
}

// Directory is a map-backed session directory
type Directory struct {
	Recipients map[string]*MockRecipient
	Mu         sync.Mutex
}

func NewDirectory(rs ...*MockRecipient) *Directory {
	d := &Directory{Recipients: make(map[string]*MockRecipient)}
	for _, r := range rs {
		d.Recipients[r.IDVal] = r
	}
	return d
}

// MockQuoteStore records published quotes
type MockQuoteStore struct {
	Published  []models.Quote
	Snapshots  []models.Quote
	ShouldFail bool
	Hang       bool // PublishQuote blocks until ctx is done
	Mu         sync.Mutex
}

func (m *MockQuoteStore) PublishQuote(ctx context.Context, q models.Quote) error {
	m.Mu.Lock()
	hang := m.Hang
	m.Mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("redis error")
	}
	m.Published = append(m.Published, q)
	return nil
}

func (m *MockQuoteStore) GetSnapshots(ctx context.Context, symbols []string) ([]models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Snapshots, nil
}

func (m *MockQuoteStore) Close() error { return nil }

// MockEventLog records order events
type MockEventLog struct {
	Events []models.OrderEvent
	Mu     sync.Mutex
}

func (m *MockEventLog) PublishOrderEvent(ctx context.Context, e models.OrderEvent) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *MockEventLog) Close() error { return nil }

func (m *MockEventLog) Actions() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Action
	}
	return out
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
	Closed     bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time { return m.CurrentTime }

type MockRand struct {
	ValInt   int64
	ValFloat float64
}

func (m *MockRand) Int63n(n int64) int64 { return m.ValInt }
func (m *MockRand) Float64() float64     { return m.ValFloat }

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("condition not met within %v: %s", timeout, msg)
}

func (d *Directory) Add(r *MockRecipient) {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	d.Recipients[r.IDVal] = r
}

func (d *Directory) Remove(id string) {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	delete(d.Recipients, id)
}

func (d *Directory) Lookup(id string) (broadcast.Recipient, bool) {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	r, ok := d.Recipients[id]
	if !ok {
		return nil, false
	}
	return r, true
}

func (d *Directory) Peers() []broadcast.Peer {
	d.Mu.Lock()
	defer d.Mu.Unlock()
	out := make([]broadcast.Peer, 0, len(d.Recipients))
	for _, r := range d.Recipients {
		if !r.IsClosed() {
			out = append(out, r)
		}
	}
	return out
}
