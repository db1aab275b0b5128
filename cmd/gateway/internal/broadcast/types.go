// Package broadcast runs the two shared periodic loops of the gateway: the
// market data scheduler and the heartbeat monitor.
package broadcast

import (
	"time"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

// Recipient is anything a frame can be delivered to.
type Recipient interface {
	ID() string
	Send(frame []byte) error
}

// Directory resolves session ids to live recipients.
type Directory interface {
	Lookup(id string) (Recipient, bool)
}

// Peer is an open session as seen by the heartbeat monitor.
type Peer interface {
	Recipient
	Ping() error
	LastSeen() time.Time
	Close()
}

type PeerLister interface {
	Peers() []Peer
}

// Subscriptions is the read side of the subscription registry.
type Subscriptions interface {
	ActiveInstruments() []string
	SubscribersOf(symbol string) []string
}

type QuoteSource interface {
	Next(symbol string) (models.Quote, error)
}
