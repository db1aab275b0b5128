package repository

import (
	"context"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

// QuoteStore mirrors generated quotes outside the process.
type QuoteStore interface {
	PublishQuote(ctx context.Context, q models.Quote) error
	GetSnapshots(ctx context.Context, symbols []string) ([]models.Quote, error)
	Close() error
}

// OrderEventLog records order state transitions.
type OrderEventLog interface {
	PublishOrderEvent(ctx context.Context, e models.OrderEvent) error
	Close() error
}

// Compile-time checks
var (
	_ QuoteStore    = NopStore{}
	_ OrderEventLog = NopStore{}
)

// NopStore is used when no backend is configured.
type NopStore struct{}

func (NopStore) PublishQuote(context.Context, models.Quote) error { return nil }
func (NopStore) GetSnapshots(context.Context, []string) ([]models.Quote, error) {
	return nil, nil
}
func (NopStore) PublishOrderEvent(context.Context, models.OrderEvent) error { return nil }
func (NopStore) Close() error                                              { return nil }
