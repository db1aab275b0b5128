package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/orders"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/protocol"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/registry"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/testutils"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/ticker"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/config"
)

type inbound struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Symbol string          `json:"symbol"`
	Data   json.RawMessage `json:"data"`
}

type pipeClient struct {
	t      *testing.T
	conn   net.Conn
	sess   *Session
	frames chan inbound
}

type harness struct {
	gw    *Gateway
	reg   *registry.Registry
	store *testutils.MockQuoteStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat := catalogue.Default()
	reg := registry.New(cat)
	gen := ticker.NewGenerator(zap.NewNop(), cat, ticker.NewRealRand(42), ticker.RealClock{})
	notifier := orders.NewNotifier(zap.NewNop(), gen, &testutils.MockEventLog{}, 30*time.Millisecond)
	store := &testutils.MockQuoteStore{}

	gw := New(zap.NewNop(), config.GatewayConfig{
		TickInterval:        time.Hour,
		HeartbeatInterval:   time.Hour,
		MaxMissedHeartbeats: 3,
		SendBuffer:          64,
		SendTimeout:         50 * time.Millisecond,
		WriteWait:           200 * time.Millisecond,
		MaxMessageSize:      4096,
	}, reg, gen, notifier, store)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	})
	return &harness{gw: gw, reg: reg, store: store}
}

func (h *harness) dial(t *testing.T) *pipeClient {
	t.Helper()
	server, client := net.Pipe()
	c := &pipeClient{t: t, conn: client, frames: make(chan inbound, 4096)}
	go c.readLoop()

	s, err := h.gw.Accept(server)
	require.NoError(t, err)
	c.sess = s
	t.Cleanup(func() { client.Close() })

	c.expect(protocol.TypeConnect)
	return c
}

func (c *pipeClient) readLoop() {
	defer close(c.frames)
	for {
		data, _, err := wsutil.ReadServerData(c.conn)
		if err != nil {
			return
		}
		var f inbound
		if json.Unmarshal(data, &f) == nil {
			c.frames <- f
		}
	}
}

func (c *pipeClient) send(raw string) {
	c.t.Helper()
	require.NoError(c.t, wsutil.WriteClientText(c.conn, []byte(raw)))
}

func (c *pipeClient) expect(typ string) inbound {
	c.t.Helper()
	select {
	case f, ok := <-c.frames:
		require.True(c.t, ok, "connection closed while waiting for %s", typ)
		require.Equal(c.t, typ, f.Type, "unexpected frame %s", f.Data)
		return f
	case <-time.After(time.Second):
		c.t.Fatalf("timed out waiting for %s", typ)
	}
	return inbound{}
}

func (c *pipeClient) expectNone(d time.Duration) {
	c.t.Helper()
	select {
	case f, ok := <-c.frames:
		if ok {
			c.t.Errorf("unexpected frame %s: %s", f.Type, f.Data)
		}
	case <-time.After(d):
	}
}

func decode[T any](t *testing.T, f inbound) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestGateway_ConnectFrame(t *testing.T) {
	h := newHarness(t)
	server, client := net.Pipe()
	defer client.Close()

	s, err := h.gw.Accept(server)
	require.NoError(t, err)

	data, _, err := wsutil.ReadServerData(client)
	require.NoError(t, err)

	var f struct {
		Type string               `json:"type"`
		Data protocol.ConnectData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, protocol.TypeConnect, f.Type)
	assert.Equal(t, "connected", f.Data.Status)
	assert.Equal(t, s.ID(), f.Data.ClientID)
	assert.Equal(t, 1, h.gw.Sessions())
}

func TestGateway_SubscribeTwoSymbolsYieldsTwoFrames(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"subscribe","id":"r1","data":{"symbols":["EURUSD","GBPUSD"]}}`)
	ack := c.expect(protocol.TypeAck)
	assert.Equal(t, "r1", ack.ID)
	assert.ElementsMatch(t, []string{"EURUSD", "GBPUSD"}, decode[protocol.AckData](t, ack).Symbols)

	h.gw.scheduler.Tick(context.Background())

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		f := c.expect(protocol.TypeMarketData)
		got[f.Symbol] = true
	}
	assert.Equal(t, map[string]bool{"EURUSD": true, "GBPUSD": true}, got)
	c.expectNone(100 * time.Millisecond)
	assert.Len(t, h.store.Published, 2)
}

func TestGateway_UnknownInstrument(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"subscribe","data":{"symbol":"FAKE"}}`)
	f := c.expect(protocol.TypeError)
	assert.Equal(t, protocol.CodeUnknownInstrument, decode[protocol.ErrorData](t, f).Code)

	assert.Empty(t, h.reg.SubscriptionsOf(c.sess.ID()))
	assert.Empty(t, h.reg.ActiveInstruments())

	h.gw.scheduler.Tick(context.Background())
	c.expectNone(50 * time.Millisecond)
}

func TestGateway_MixedSubscribe(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"subscribe","payload":{"symbols":["eur/usd","FAKE"]}}`)
	ack := c.expect(protocol.TypeAck)
	assert.Equal(t, []string{"EURUSD"}, decode[protocol.AckData](t, ack).Symbols)
	c.expect(protocol.TypeError)

	assert.Equal(t, []string{"EURUSD"}, h.reg.SubscriptionsOf(c.sess.ID()))
}

func TestGateway_ErrorFrames(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"invalid json", `{"type":"subsc`, protocol.CodeMalformedFrame},
		{"missing type", `{"data":{}}`, protocol.CodeMalformedFrame},
		{"unknown type", `{"type":"teleport"}`, protocol.CodeUnknownMessageType},
		{"subscribe without symbols", `{"type":"subscribe","data":{}}`, protocol.CodeMalformedFrame},
		{"bad order", `{"type":"place_order","data":{"symbol":"EURUSD","side":"hold","size":1}}`, protocol.CodeMalformedFrame},
		{"unknown order", `{"type":"cancel_order","data":{"orderId":"nope"}}`, protocol.CodeOrderRejected},
		{"order on unknown instrument", `{"type":"place_order","data":{"symbol":"FAKE","side":"buy","size":1}}`, protocol.CodeUnknownInstrument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.send(tt.raw)
			f := c.expect(protocol.TypeError)
			assert.Equal(t, tt.code, decode[protocol.ErrorData](t, f).Code)
		})
	}

	// Errors never close the session.
	c.send(`{"type":"ping","id":"p1"}`)
	pong := c.expect(protocol.TypePong)
	assert.Equal(t, "p1", pong.ID)
}

func TestGateway_Unsubscribe(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"subscribe","data":{"symbols":["EURUSD","AAPL"]}}`)
	c.expect(protocol.TypeAck)
	c.send(`{"type":"unsubscribe","data":{"symbol":"EURUSD"}}`)
	c.expect(protocol.TypeAck)

	h.gw.scheduler.Tick(context.Background())
	f := c.expect(protocol.TypeMarketData)
	assert.Equal(t, "AAPL", f.Symbol)
	c.expectNone(50 * time.Millisecond)

	c.send(`{"type":"unsubscribe_all"}`)
	ack := c.expect(protocol.TypeAck)
	assert.Equal(t, []string{"AAPL"}, decode[protocol.AckData](t, ack).Symbols)
	assert.Empty(t, h.reg.ActiveInstruments())
}

func TestGateway_DisconnectCleansUp(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"subscribe","data":{"symbols":["EURUSD","BTCUSD"]}}`)
	c.expect(protocol.TypeAck)
	require.Equal(t, 1, h.reg.Count("EURUSD"))

	c.conn.Close()

	testutils.Eventually(t, time.Second, func() bool {
		return h.gw.Sessions() == 0 && len(h.reg.ActiveInstruments()) == 0
	}, "session and subscriptions removed")
}

func TestGateway_HalfTheClientsLeave(t *testing.T) {
	h := newHarness(t)

	clients := make([]*pipeClient, 100)
	for i := range clients {
		clients[i] = h.dial(t)
		clients[i].send(`{"type":"subscribe","data":{"symbol":"EURUSD"}}`)
		clients[i].expect(protocol.TypeAck)
	}
	require.Equal(t, 100, h.reg.Count("EURUSD"))

	for _, c := range clients[:50] {
		c.conn.Close()
	}
	testutils.Eventually(t, 2*time.Second, func() bool { return h.reg.Count("EURUSD") == 50 }, "50 subscribers left")

	stats := h.gw.scheduler.Tick(context.Background())
	assert.Equal(t, 50, stats.Delivered)
	for _, c := range clients[50:] {
		c.expect(protocol.TypeMarketData)
	}
}

func TestGateway_SlowConsumerDoesNotStallOthers(t *testing.T) {
	h := newHarness(t)
	fast := h.dial(t)
	fast.send(`{"type":"subscribe","data":{"symbol":"EURUSD"}}`)
	fast.expect(protocol.TypeAck)

	// Never read from the slow client.
	server, client := net.Pipe()
	defer client.Close()
	slow, err := h.gw.Accept(server)
	require.NoError(t, err)
	_, err = h.reg.Subscribe(slow.ID(), "EURUSD")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		start := time.Now()
		h.gw.scheduler.Tick(context.Background())
		require.Less(t, time.Since(start), 500*time.Millisecond, "tick %d stalled", i)
		fast.expect(protocol.TypeMarketData)
	}

	testutils.Eventually(t, time.Second, func() bool { return slow.State() >= StateClosing }, "slow session dropped")
	assert.Equal(t, 1, h.reg.Count("EURUSD"))
}

func TestGateway_OrderFill(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"place_order","id":"o1","data":{"symbol":"EURUSD","side":"buy","size":1000}}`)
	pending := c.expect(protocol.TypeOrderUpdate)
	assert.Equal(t, "o1", pending.ID)
	var o struct {
		OrderID   string  `json:"orderId"`
		Status    string  `json:"status"`
		FillPrice float64 `json:"fillPrice"`
	}
	require.NoError(t, json.Unmarshal(pending.Data, &o))
	assert.Equal(t, "Pending", o.Status)
	assert.NotEmpty(t, o.OrderID)

	filled := c.expect(protocol.TypeOrderUpdate)
	require.NoError(t, json.Unmarshal(filled.Data, &o))
	assert.Equal(t, "Filled", o.Status)
	assert.Greater(t, o.FillPrice, 0.0)
}

func TestGateway_OrderCancelWins(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(`{"type":"place_order","data":{"symbol":"AAPL","side":"sell","size":5}}`)
	var o struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(c.expect(protocol.TypeOrderUpdate).Data, &o))

	c.send(`{"type":"cancel_order","data":{"orderId":"` + o.OrderID + `"}}`)
	require.NoError(t, json.Unmarshal(c.expect(protocol.TypeOrderUpdate).Data, &o))
	assert.Equal(t, "Cancelled", o.Status)

	c.expectNone(100 * time.Millisecond)
}

func TestGateway_Heartbeat(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	stats := h.gw.monitor.Beat(time.Now())
	assert.Equal(t, 1, stats.Alive)

	f := c.expect(protocol.TypeHeartbeat)
	assert.NotZero(t, decode[protocol.HeartbeatData](t, f).Timestamp)

	// Nothing heard for four intervals.
	stats = h.gw.monitor.Beat(time.Now().Add(4 * time.Hour))
	assert.Equal(t, 1, stats.Reaped)
	testutils.Eventually(t, time.Second, func() bool { return h.gw.Sessions() == 0 }, "stale session reaped")
}

func TestGateway_Shutdown(t *testing.T) {
	h := newHarness(t)
	h.gw.Start(context.Background())
	c1, c2 := h.dial(t), h.dial(t)
	c1.send(`{"type":"subscribe","data":{"symbol":"EURUSD"}}`)
	c1.expect(protocol.TypeAck)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.gw.Shutdown(ctx))

	assert.Equal(t, 0, h.gw.Sessions())
	assert.Empty(t, h.reg.ActiveInstruments())
	assert.Equal(t, StateClosed, c1.sess.State())
	assert.Equal(t, StateClosed, c2.sess.State())

	_, err := h.gw.Accept(func() net.Conn { s, _ := net.Pipe(); return s }())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestGateway_Health(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	c.send(`{"type":"subscribe","data":{"symbol":"EURUSD"}}`)
	c.expect(protocol.TypeAck)

	rec := httptest.NewRecorder()
	h.gw.HealthHandler()(rec, httptest.NewRequest("GET", "/health", nil))

	var body struct {
		Status      string `json:"status"`
		Sessions    int    `json:"sessions"`
		Instruments int    `json:"instruments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, 1, body.Instruments)
}
