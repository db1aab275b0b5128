// Package ticker produces synthetic price quotes with a bounded random walk
// and keeps the last quote per instrument.
package ticker

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

const (
	spreadFactor = 0.0002
	minVolume    = 100_000
	volumeRange  = 1_000_000
)

type instrumentState struct {
	inst  catalogue.Instrument
	price float64 // unrounded walk position
	last  models.Quote
	valid bool // last holds a generated or seeded quote
}

type Generator struct {
	logger *zap.Logger
	rand   Rand
	clock  Clock

	mu     sync.Mutex
	states map[string]*instrumentState
}

func NewGenerator(logger *zap.Logger, cat *catalogue.Catalogue, rnd Rand, clock Clock) *Generator {
	g := &Generator{
		logger: logger,
		rand:   rnd,
		clock:  clock,
		states: make(map[string]*instrumentState),
	}
	for _, inst := range cat.Instruments() {
		g.states[inst.Symbol] = &instrumentState{inst: inst, price: inst.Price}
	}
	return g
}

// Next advances the walk for symbol by one step and returns the new quote.
// Sequence numbers are strictly increasing per symbol.
func (g *Generator) Next(symbol string) (models.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[symbol]
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %s", catalogue.ErrUnknownInstrument, symbol)
	}

	prev := st.price
	change := (g.rand.Float64() - 0.5) * 2 * prev * st.inst.Volatility
	price := prev + change
	if price <= 0 {
		// A walk step never takes the price through zero; halve instead.
		price = prev / 2
		change = price - prev
	}

	q := buildQuote(st.inst, price)
	q.Change = round(change, st.inst.Precision)
	q.ChangePercent = round(change/prev*100, 2)
	q.Volume = minVolume + g.rand.Int63n(volumeRange)
	q.Timestamp = g.clock.Now().UnixMilli()
	q.SeqID = st.last.SeqID + 1

	st.price = price
	st.last = q
	st.valid = true

	g.logger.Debug("Generated quote", zap.String("symbol", symbol), zap.Float64("price", q.Price), zap.Int64("seq_id", q.SeqID))
	return q, nil
}

// Last returns the most recent quote for symbol. Before the first tick it
// returns a quote built from the reference price with SeqID 0.
func (g *Generator) Last(symbol string) (models.Quote, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[symbol]
	if !ok {
		return models.Quote{}, false
	}
	if st.valid {
		return st.last, true
	}
	q := buildQuote(st.inst, st.inst.Price)
	q.Timestamp = g.clock.Now().UnixMilli()
	return q, true
}

// Seed continues each walk from a previously published quote. Quotes for
// unknown symbols or with a non-positive price are skipped.
func (g *Generator) Seed(quotes []models.Quote) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	seeded := 0
	for _, q := range quotes {
		st, ok := g.states[q.Symbol]
		if !ok || q.Price <= 0 || q.Bid <= 0 || q.Ask <= q.Bid {
			continue
		}
		if st.valid && st.last.SeqID >= q.SeqID {
			continue
		}
		st.price = q.Price
		st.last = q
		st.valid = true
		seeded++
	}
	return seeded
}

// buildQuote derives bid/ask around price and enforces ask > bid > 0 after
// rounding to the instrument precision.
func buildQuote(inst catalogue.Instrument, price float64) models.Quote {
	increment := decimal.New(1, -inst.Precision)

	mid := decimal.NewFromFloat(price)
	halfSpread := mid.Mul(decimal.NewFromFloat(spreadFactor / 2))

	bid := mid.Sub(halfSpread).Round(inst.Precision)
	ask := mid.Add(halfSpread).Round(inst.Precision)

	if bid.LessThan(increment) {
		bid = increment
	}
	if !ask.GreaterThan(bid) {
		ask = bid.Add(increment)
	}

	mid = mid.Round(inst.Precision)
	if mid.LessThan(bid) {
		mid = bid
	}
	if mid.GreaterThan(ask) {
		mid = ask
	}

	return models.Quote{
		Symbol: inst.Symbol,
		Bid:    bid.InexactFloat64(),
		Ask:    ask.InexactFloat64(),
		Price:  mid.InexactFloat64(),
	}
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
