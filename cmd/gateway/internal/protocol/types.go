package protocol

import "errors"

// Inbound frame types
const (
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeUnsubscribeAll = "unsubscribe_all"
	TypePlaceOrder     = "place_order"
	TypeModifyOrder    = "modify_order"
	TypeCancelOrder    = "cancel_order"
	TypePing           = "ping"
)

// Outbound frame types
const (
	TypeConnect     = "connect"
	TypeAck         = "ack"
	TypeMarketData  = "market_data"
	TypeOrderUpdate = "order_update"
	TypeHeartbeat   = "heartbeat"
	TypePong        = "pong"
	TypeError       = "error"
)

// Error codes carried in error frames
const (
	CodeMalformedFrame     = "MALFORMED_FRAME"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeUnknownInstrument  = "UNKNOWN_INSTRUMENT"
	CodeOrderRejected      = "ORDER_REJECTED"
)

var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Frame is the single envelope used in both directions.
type Frame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id,omitempty"`     // echoes the request id
	Symbol string      `json:"symbol,omitempty"` // market_data only
	Data   interface{} `json:"data,omitempty"`
}

type ConnectData struct {
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

type AckData struct {
	Status  string   `json:"status"` // "success"
	Message string   `json:"message,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

type HeartbeatData struct {
	Timestamp int64 `json:"timestamp"` // unix milli
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SymbolsPayload is the body of subscribe / unsubscribe.
type SymbolsPayload struct {
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

type PlaceOrderPayload struct {
	Symbol    string  `json:"symbol" validate:"required"`
	Side      string  `json:"side" validate:"required,oneof=buy sell"`
	Size      float64 `json:"size" validate:"gt=0"`
	OrderType string  `json:"orderType,omitempty" validate:"omitempty,oneof=market limit"`
	Price     float64 `json:"price,omitempty" validate:"required_if=OrderType limit,omitempty,gt=0"`
}

type ModifyOrderPayload struct {
	OrderID string  `json:"orderId" validate:"required"`
	Size    float64 `json:"size,omitempty" validate:"omitempty,gt=0"`
	Price   float64 `json:"price,omitempty" validate:"omitempty,gt=0"`
}

type CancelOrderPayload struct {
	OrderID string `json:"orderId" validate:"required"`
}
