package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "Pending"
	OrderFilled    OrderStatus = "Filled"
	OrderCancelled OrderStatus = "Cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order is the notifier-local record of a simulated order. It only lives as
// long as the session that placed it.
type Order struct {
	ID          string      `json:"orderId"`
	SessionID   string      `json:"-"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	Size        float64     `json:"size"`
	Type        string      `json:"orderType"`
	LimitPrice  float64     `json:"price,omitempty"`
	Status      OrderStatus `json:"status"`
	FillPrice   float64     `json:"fillPrice,omitempty"`
	RequestedAt time.Time   `json:"requestedAt"`
	ResolvedAt  *time.Time  `json:"resolvedAt,omitempty"`
}

// OrderEvent is one recorded state transition, published to the order event log.
type OrderEvent struct {
	OrderID   string      `json:"orderId"`
	SessionID string      `json:"sessionId"`
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Size      float64     `json:"size"`
	Status    OrderStatus `json:"status"`
	Action    string      `json:"action"` // "place", "modify", "fill", "cancel"
	FillPrice float64     `json:"fillPrice,omitempty"`
	Timestamp int64       `json:"timestamp"` // unix micro
}
