package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/protocol"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/repository"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrOrderNotPending   = errors.New("order is not pending")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrNotifierClosed    = errors.New("notifier closed")
	ErrUnknownInstrument = catalogue.ErrUnknownInstrument
)

// Recipient is the session an order belongs to.
type Recipient interface {
	ID() string
	SendJSON(v interface{}) error
}

// PriceSource exposes the generator's last-price cache.
type PriceSource interface {
	Last(symbol string) (models.Quote, bool)
}

type entry struct {
	order     models.Order
	recipient Recipient
	timer     *time.Timer
	gen       uint64 // bumped whenever the armed timer becomes stale
}

// Notifier simulates order execution: every accepted order is acknowledged as
// Pending and filled after a fixed delay unless it is cancelled first.
type Notifier struct {
	logger    *zap.Logger
	prices    PriceSource
	events    repository.OrderEventLog
	fillDelay time.Duration
	now       func() time.Time

	mu     sync.Mutex
	orders map[string]*entry
	closed bool
}

func NewNotifier(logger *zap.Logger, prices PriceSource, events repository.OrderEventLog, fillDelay time.Duration) *Notifier {
	if events == nil {
		events = repository.NopStore{}
	}
	return &Notifier{
		logger:    logger,
		prices:    prices,
		events:    events,
		fillDelay: fillDelay,
		now:       time.Now,
		orders:    make(map[string]*entry),
	}
}

// PlaceOrder records a new Pending order for r, acknowledges it and arms the
// fill timer.
func (n *Notifier) PlaceOrder(r Recipient, reqID string, p protocol.PlaceOrderPayload) (models.Order, error) {
	symbol := catalogue.Normalize(p.Symbol)
	if _, ok := n.prices.Last(symbol); !ok {
		return models.Order{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, p.Symbol)
	}
	if p.Side != models.SideBuy && p.Side != models.SideSell {
		return models.Order{}, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if p.Size <= 0 {
		return models.Order{}, fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	orderType := p.OrderType
	switch orderType {
	case "":
		orderType = models.OrderTypeMarket
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if p.Price <= 0 {
			return models.Order{}, fmt.Errorf("%w: limit order needs a positive price", ErrInvalidOrder)
		}
	default:
		return models.Order{}, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, p.OrderType)
	}

	order := models.Order{
		ID:          uuid.NewString(),
		SessionID:   r.ID(),
		Symbol:      symbol,
		Side:        p.Side,
		Size:        p.Size,
		Type:        orderType,
		LimitPrice:  p.Price,
		Status:      models.OrderPending,
		RequestedAt: n.now(),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return models.Order{}, ErrNotifierClosed
	}
	e := &entry{order: order, recipient: r}
	n.orders[order.ID] = e
	n.mu.Unlock()

	n.logger.Info("Order placed",
		zap.String("order", order.ID),
		zap.String("session", order.SessionID),
		zap.String("symbol", symbol),
		zap.String("side", order.Side),
		zap.Float64("size", order.Size),
	)
	n.emit(order, "place")

	// The Pending frame goes out before the timer exists, so a fill can never
	// overtake its own acknowledgement.
	if err := n.deliver(r, reqID, order); err != nil {
		n.forget(order.ID)
		return order, err
	}
	n.arm(order.ID)
	return order, nil
}

// ModifyOrder replaces size and/or limit price of a Pending order and restarts
// its fill delay.
func (n *Notifier) ModifyOrder(r Recipient, reqID string, p protocol.ModifyOrderPayload) (models.Order, error) {
	n.mu.Lock()
	e, err := n.owned(r.ID(), p.OrderID)
	if err != nil {
		n.mu.Unlock()
		return models.Order{}, err
	}
	if e.order.Status.Terminal() {
		n.mu.Unlock()
		return e.order, ErrOrderNotPending
	}
	if p.Size > 0 {
		e.order.Size = p.Size
	}
	if p.Price > 0 {
		e.order.LimitPrice = p.Price
	}
	n.disarm(e)
	order := e.order
	n.mu.Unlock()

	n.emit(order, "modify")
	if err := n.deliver(r, reqID, order); err != nil {
		return order, err
	}
	n.arm(order.ID)
	return order, nil
}

// CancelOrder moves a Pending order to Cancelled and suppresses its fill.
func (n *Notifier) CancelOrder(r Recipient, reqID, orderID string) (models.Order, error) {
	n.mu.Lock()
	e, err := n.owned(r.ID(), orderID)
	if err != nil {
		n.mu.Unlock()
		return models.Order{}, err
	}
	if e.order.Status.Terminal() {
		n.mu.Unlock()
		return e.order, ErrOrderNotPending
	}
	n.disarm(e)
	now := n.now()
	e.order.Status = models.OrderCancelled
	e.order.ResolvedAt = &now
	order := e.order
	n.mu.Unlock()

	n.logger.Info("Order cancelled", zap.String("order", order.ID), zap.String("session", order.SessionID))
	n.emit(order, "cancel")
	return order, n.deliver(r, reqID, order)
}

// Get returns a copy of the order record.
func (n *Notifier) Get(orderID string) (models.Order, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.orders[orderID]
	if !ok {
		return models.Order{}, false
	}
	return e.order, true
}

// DropSession stops the timers of every order the session placed and forgets
// them.
func (n *Notifier) DropSession(sessionID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	dropped := 0
	for id, e := range n.orders {
		if e.order.SessionID != sessionID {
			continue
		}
		n.disarm(e)
		delete(n.orders, id)
		dropped++
	}
	return dropped
}

// Close stops every pending timer. Further placements are rejected.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	for id, e := range n.orders {
		n.disarm(e)
		delete(n.orders, id)
	}
}

// owned must be called with mu held.
func (n *Notifier) owned(sessionID, orderID string) (*entry, error) {
	e, ok := n.orders[orderID]
	if !ok || e.order.SessionID != sessionID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return e, nil
}

// disarm must be called with mu held.
func (n *Notifier) disarm(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (n *Notifier) arm(orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.orders[orderID]
	if !ok || n.closed || e.order.Status != models.OrderPending || e.timer != nil {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(n.fillDelay, func() { n.fill(orderID, gen) })
}

func (n *Notifier) fill(orderID string, gen uint64) {
	n.mu.Lock()
	e, ok := n.orders[orderID]
	// A cancel or modify that took the lock first wins.
	if !ok || e.gen != gen || e.order.Status != models.OrderPending {
		n.mu.Unlock()
		return
	}

	q, ok := n.prices.Last(e.order.Symbol)
	if !ok {
		n.mu.Unlock()
		n.logger.Error("No price for fill", zap.String("order", orderID), zap.String("symbol", e.order.Symbol))
		return
	}
	price := q.Ask
	if e.order.Side == models.SideSell {
		price = q.Bid
	}

	now := n.now()
	e.order.Status = models.OrderFilled
	e.order.FillPrice = price
	e.order.ResolvedAt = &now
	e.timer = nil
	order, r := e.order, e.recipient
	n.mu.Unlock()

	n.logger.Info("Order filled", zap.String("order", orderID), zap.Float64("price", price))
	n.emit(order, "fill")
	if err := n.deliver(r, "", order); err != nil {
		n.logger.Debug("Fill not delivered", zap.String("order", orderID), zap.Error(err))
	}
}

func (n *Notifier) forget(orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.orders[orderID]; ok {
		n.disarm(e)
		delete(n.orders, orderID)
	}
}

func (n *Notifier) deliver(r Recipient, reqID string, o models.Order) error {
	return r.SendJSON(protocol.Frame{Type: protocol.TypeOrderUpdate, ID: reqID, Data: o})
}

func (n *Notifier) emit(o models.Order, action string) {
	err := n.events.PublishOrderEvent(context.Background(), models.OrderEvent{
		OrderID:   o.ID,
		SessionID: o.SessionID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Size:      o.Size,
		Status:    o.Status,
		Action:    action,
		FillPrice: o.FillPrice,
		Timestamp: n.now().UnixMicro(),
	})
	if err != nil {
		n.logger.Warn("Order event publish failed", zap.String("order", o.ID), zap.String("action", action), zap.Error(err))
	}
}
