// Package registry keeps the bidirectional subscription index between
// sessions and instruments.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
)

// ErrUnknownInstrument is returned when subscribing to a symbol outside the catalogue.
var ErrUnknownInstrument = catalogue.ErrUnknownInstrument

// Registry maps instrument -> session ids and session id -> instruments.
// Both directions are only ever mutated together under mu.
type Registry struct {
	mu          sync.Mutex
	subscribers map[string]map[string]struct{} // symbol -> session ids
	sessionSubs map[string]map[string]struct{} // session id -> symbols

	known func(symbol string) bool
}

func New(cat *catalogue.Catalogue) *Registry {
	return &Registry{
		subscribers: make(map[string]map[string]struct{}),
		sessionSubs: make(map[string]map[string]struct{}),
		known:       cat.Has,
	}
}

// Subscribe adds the pair. It reports false when the pair already existed.
func (r *Registry) Subscribe(sessionID, symbol string) (bool, error) {
	if !r.known(symbol) {
		return false, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.sessionSubs[sessionID]
	if subs == nil {
		subs = make(map[string]struct{})
		r.sessionSubs[sessionID] = subs
	}
	if _, ok := subs[symbol]; ok {
		return false, nil
	}
	subs[symbol] = struct{}{}

	set := r.subscribers[symbol]
	if set == nil {
		set = make(map[string]struct{})
		r.subscribers[symbol] = set
	}
	set[sessionID] = struct{}{}
	return true, nil
}

// Unsubscribe removes the pair; unknown pairs are a no-op. It reports whether
// anything was removed.
func (r *Registry) Unsubscribe(sessionID, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.sessionSubs[sessionID]
	if !ok {
		return false
	}
	if _, ok := subs[symbol]; !ok {
		return false
	}

	delete(subs, symbol)
	if len(subs) == 0 {
		delete(r.sessionSubs, sessionID)
	}
	r.removeSubscriber(symbol, sessionID)
	return true
}

// DropSession removes the session from every instrument it was subscribed to
// and returns those instruments. Calling it again is a no-op.
func (r *Registry) DropSession(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.sessionSubs[sessionID]
	if !ok {
		return nil
	}

	removed := make([]string, 0, len(subs))
	for sym := range subs {
		r.removeSubscriber(sym, sessionID)
		removed = append(removed, sym)
	}
	delete(r.sessionSubs, sessionID)

	sort.Strings(removed)
	return removed
}

// SubscribersOf returns a copy of the session ids subscribed to symbol.
func (r *Registry) SubscribersOf(symbol string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.subscribers[symbol]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// SubscriptionsOf returns the instruments a session is subscribed to, sorted.
func (r *Registry) SubscriptionsOf(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.sessionSubs[sessionID]
	out := make([]string, 0, len(subs))
	for sym := range subs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ActiveInstruments returns every instrument with at least one subscriber, sorted.
func (r *Registry) ActiveInstruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.subscribers))
	for sym := range r.subscribers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of subscribers for symbol.
func (r *Registry) Count(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers[symbol])
}

// Sessions returns how many sessions hold at least one subscription.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessionSubs)
}

// caller holds mu
func (r *Registry) removeSubscriber(symbol, sessionID string) {
	set := r.subscribers[symbol]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.subscribers, symbol)
	}
}
