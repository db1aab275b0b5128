package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/broadcast"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/orders"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/protocol"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/registry"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/repository"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/ticker"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/config"
)

// Compile-time checks
var (
	_ broadcast.Directory  = (*Gateway)(nil)
	_ broadcast.PeerLister = (*Gateway)(nil)
	_ broadcast.Peer       = (*Session)(nil)
	_ orders.Recipient     = (*Session)(nil)
)

// Gateway accepts connections, dispatches their frames and owns the broadcast
// scheduler and heartbeat monitor.
type Gateway struct {
	logger    *zap.Logger
	sessCfg   SessionConfig
	registry  *registry.Registry
	notifier  *orders.Notifier
	scheduler *broadcast.Scheduler
	monitor   *broadcast.Monitor

	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	logger *zap.Logger,
	cfg config.GatewayConfig,
	reg *registry.Registry,
	gen *ticker.Generator,
	notifier *orders.Notifier,
	store repository.QuoteStore,
) *Gateway {
	g := &Gateway{
		logger: logger,
		sessCfg: SessionConfig{
			SendBuffer:     cfg.SendBuffer,
			SendTimeout:    cfg.SendTimeout,
			WriteWait:      cfg.WriteWait,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		registry: reg,
		notifier: notifier,
		sessions: make(map[string]*Session),
	}
	g.scheduler = broadcast.NewScheduler(logger, cfg.TickInterval, reg, gen, g, store)
	g.monitor = broadcast.NewMonitor(logger, cfg.HeartbeatInterval, cfg.MaxMissedHeartbeats, g)
	return g
}

// Start runs the scheduler and the monitor until ctx is cancelled or
// Shutdown is called.
func (g *Gateway) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.scheduler.Run(ctx)
	}()
	go func() {
		defer g.wg.Done()
		g.monitor.Run(ctx)
	}()
}

// Shutdown stops both timers, the order notifier and every open session.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	open := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.notifier.Close()

	for _, s := range open {
		s.Close()
	}
	for _, s := range open {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions: %w", ctx.Err())
		}
	}

	g.logger.Info("Gateway stopped", zap.Int("sessions_closed", len(open)))
	return nil
}

// ServeHTTP upgrades the request and attaches a new session to it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.logger.Debug("Upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	if _, err := g.Accept(conn); err != nil {
		g.logger.Info("Connection rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}

// Accept wires an already upgraded connection to a new session.
func (g *Gateway) Accept(conn net.Conn) (*Session, error) {
	s := NewSession(conn, g.logger, g.sessCfg, g.dispatch, g.release)

	hello, err := json.Marshal(protocol.Frame{
		Type: protocol.TypeConnect,
		Data: protocol.ConnectData{Status: "connected", ClientID: s.ID()},
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	// Queued before the pumps start, so it is always the first frame.
	s.queue <- wsutil.Message{OpCode: ws.OpText, Payload: hello}

	if !g.add(s) {
		s.Close()
		return nil, ErrSessionClosed
	}
	s.Start()

	g.logger.Info("Client connected", zap.String("session", s.ID()), zap.String("remote", conn.RemoteAddr().String()))
	return s, nil
}

// Lookup returns the open session with the given id.
func (g *Gateway) Lookup(id string) (broadcast.Recipient, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// Peers returns a snapshot of the open sessions.
func (g *Gateway) Peers() []broadcast.Peer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]broadcast.Peer, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s)
	}
	return out
}

func (g *Gateway) Sessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// HealthHandler reports liveness and a few counters.
func (g *Gateway) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"sessions":    g.Sessions(),
			"instruments": len(g.registry.ActiveInstruments()),
			"timestamp":   time.Now().UnixMilli(),
		})
	}
}

// add must not admit a session that already started closing, otherwise its
// close hook has already run and would never remove it.
func (g *Gateway) add(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing || s.State() > StateOpen {
		return false
	}
	g.sessions[s.ID()] = s
	return true
}

// release is the session close hook.
func (g *Gateway) release(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.ID())
	g.mu.Unlock()

	symbols := g.registry.DropSession(s.ID())
	dropped := g.notifier.DropSession(s.ID())

	g.logger.Info("Client disconnected",
		zap.String("session", s.ID()),
		zap.Strings("symbols", symbols),
		zap.Int("orders_dropped", dropped),
	)
}

func (g *Gateway) dispatch(s *Session, raw []byte) {
	req, err := protocol.Parse(raw)
	if err != nil {
		g.reply(s, protocol.NewError("", protocol.CodeMalformedFrame, err.Error()))
		return
	}

	switch req.Type {
	case protocol.TypeSubscribe:
		g.handleSubscribe(s, req)
	case protocol.TypeUnsubscribe:
		g.handleUnsubscribe(s, req)
	case protocol.TypeUnsubscribeAll:
		removed := g.registry.DropSession(s.ID())
		g.reply(s, protocol.NewAck(req.ID, "unsubscribed", removed))
	case protocol.TypePlaceOrder:
		g.handlePlaceOrder(s, req)
	case protocol.TypeModifyOrder:
		g.handleModifyOrder(s, req)
	case protocol.TypeCancelOrder:
		g.handleCancelOrder(s, req)
	case protocol.TypePing:
		g.reply(s, protocol.Frame{
			Type: protocol.TypePong,
			ID:   req.ID,
			Data: protocol.HeartbeatData{Timestamp: time.Now().UnixMilli()},
		})
	default:
		g.reply(s, protocol.NewError(req.ID, protocol.CodeUnknownMessageType,
			fmt.Sprintf("%v: %q", protocol.ErrUnknownMessageType, req.Type)))
	}
}

func (g *Gateway) handleSubscribe(s *Session, req protocol.Request) {
	symbols, err := req.SymbolList()
	if err != nil {
		g.reply(s, protocol.NewError(req.ID, protocol.CodeMalformedFrame, err.Error()))
		return
	}

	var accepted, unknown []string
	for _, sym := range symbols {
		if _, err := g.registry.Subscribe(s.ID(), sym); err != nil {
			unknown = append(unknown, sym)
			continue
		}
		accepted = append(accepted, sym)
	}

	// The close hook may have run while we were subscribing.
	if s.State() != StateOpen {
		g.registry.DropSession(s.ID())
		return
	}

	if len(accepted) > 0 {
		g.logger.Debug("Subscribed", zap.String("session", s.ID()), zap.Strings("symbols", accepted))
		g.reply(s, protocol.NewAck(req.ID, "subscribed", accepted))
	}
	if len(unknown) > 0 {
		g.reply(s, protocol.NewError(req.ID, protocol.CodeUnknownInstrument,
			fmt.Sprintf("%v: %s", registry.ErrUnknownInstrument, strings.Join(unknown, ", "))))
	}
}

func (g *Gateway) handleUnsubscribe(s *Session, req protocol.Request) {
	symbols, err := req.SymbolList()
	if err != nil {
		g.reply(s, protocol.NewError(req.ID, protocol.CodeMalformedFrame, err.Error()))
		return
	}
	for _, sym := range symbols {
		g.registry.Unsubscribe(s.ID(), sym)
	}
	g.reply(s, protocol.NewAck(req.ID, "unsubscribed", symbols))
}

func (g *Gateway) handlePlaceOrder(s *Session, req protocol.Request) {
	p, err := req.PlaceOrder()
	if err != nil {
		g.reply(s, protocol.NewError(req.ID, protocol.CodeMalformedFrame, err.Error()))
		return
	}
	if _, err := g.notifier.PlaceOrder(s, req.ID, p); err != nil {
		g.orderError(s, req.ID, err)
	}
}

func (g *Gateway) handleModifyOrder(s *Session, req protocol.Request) {
	p, err := req.ModifyOrder()
	if err != nil {
		g.reply(s, protocol.NewError(req.ID, protocol.CodeMalformedFrame, err.Error()))
		return
	}
	if _, err := g.notifier.ModifyOrder(s, req.ID, p); err != nil {
		g.orderError(s, req.ID, err)
	}
}

func (g *Gateway) handleCancelOrder(s *Session, req protocol.Request) {
	p, err := req.CancelOrder()
	if err != nil {
		g.reply(s, protocol.NewError(req.ID, protocol.CodeMalformedFrame, err.Error()))
		return
	}
	if _, err := g.notifier.CancelOrder(s, req.ID, p.OrderID); err != nil {
		g.orderError(s, req.ID, err)
	}
}

func (g *Gateway) orderError(s *Session, id string, err error) {
	switch {
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrSlowConsumer):
		return
	case errors.Is(err, orders.ErrUnknownInstrument):
		g.reply(s, protocol.NewError(id, protocol.CodeUnknownInstrument, err.Error()))
	default:
		g.reply(s, protocol.NewError(id, protocol.CodeOrderRejected, err.Error()))
	}
}

// reply never reports transport failures back to the caller; the session
// has already been closed by then.
func (g *Gateway) reply(s *Session, f protocol.Frame) {
	if err := s.SendJSON(f); err != nil {
		g.logger.Debug("Reply not delivered", zap.String("session", s.ID()), zap.String("type", f.Type), zap.Error(err))
	}
}
