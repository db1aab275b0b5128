package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
)

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

func getValidator() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Request is an inbound frame. The body may arrive under "data" or "payload";
// subscribe frames may also carry symbol/symbols at the top level.
type Request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Symbol  string          `json:"symbol,omitempty"`
	Symbols []string        `json:"symbols,omitempty"`
}

// Parse decodes one inbound text frame.
func Parse(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		return req, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return req, nil
}

func (r Request) body() json.RawMessage {
	if len(r.Data) > 0 && !bytes.Equal(r.Data, []byte("null")) {
		return r.Data
	}
	return r.Payload
}

func (r Request) decode(v interface{}) error {
	b := r.body()
	if len(b) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: invalid data for %s", ErrMalformedFrame, r.Type)
	}
	return nil
}

// SymbolList returns the normalised, de-duplicated symbols named by a
// subscribe or unsubscribe request.
func (r Request) SymbolList() ([]string, error) {
	var p SymbolsPayload
	if len(r.body()) > 0 {
		if err := r.decode(&p); err != nil {
			return nil, err
		}
	}

	raw := make([]string, 0, len(p.Symbols)+len(r.Symbols)+2)
	raw = append(raw, p.Symbol, r.Symbol)
	raw = append(raw, p.Symbols...)
	raw = append(raw, r.Symbols...)

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = catalogue.Normalize(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no symbols provided", ErrMalformedFrame)
	}
	return out, nil
}

func (r Request) PlaceOrder() (PlaceOrderPayload, error) {
	var p PlaceOrderPayload
	if err := r.decode(&p); err != nil {
		return p, err
	}
	p.Symbol = catalogue.Normalize(p.Symbol)
	p.Side = strings.ToLower(strings.TrimSpace(p.Side))
	p.OrderType = strings.ToLower(strings.TrimSpace(p.OrderType))
	if err := validateStruct(p); err != nil {
		return p, err
	}
	return p, nil
}

func (r Request) ModifyOrder() (ModifyOrderPayload, error) {
	var p ModifyOrderPayload
	if err := r.decode(&p); err != nil {
		return p, err
	}
	if err := validateStruct(p); err != nil {
		return p, err
	}
	if p.Size == 0 && p.Price == 0 {
		return p, fmt.Errorf("%w: modify_order needs size or price", ErrMalformedFrame)
	}
	return p, nil
}

func (r Request) CancelOrder() (CancelOrderPayload, error) {
	var p CancelOrderPayload
	if err := r.decode(&p); err != nil {
		return p, err
	}
	if err := validateStruct(p); err != nil {
		return p, err
	}
	return p, nil
}

func validateStruct(v interface{}) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on '%s'", e.Field(), e.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrMalformedFrame, strings.Join(fields, ", "))
}

// NewError builds an error frame.
func NewError(id, code, msg string) Frame {
	return Frame{Type: TypeError, ID: id, Data: ErrorData{Code: code, Message: msg}}
}

// NewAck builds a success acknowledgement.
func NewAck(id, msg string, symbols []string) Frame {
	return Frame{Type: TypeAck, ID: id, Data: AckData{Status: "success", Message: msg, Symbols: symbols}}
}
