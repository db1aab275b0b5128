// Package catalogue holds the set of tradable instruments the gateway accepts,
// with the reference price and walk parameters used to generate their ticks.
package catalogue

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownInstrument is returned for symbols outside the catalogue.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Asset classes, each with its own default volatility.
const (
	ClassForex  = "forex"
	ClassStock  = "stock"
	ClassCrypto = "crypto"
	ClassIndex  = "index"
)

var classVolatility = map[string]float64{
	ClassForex:  0.0005,
	ClassStock:  0.002,
	ClassCrypto: 0.005,
	ClassIndex:  0.001,
}

const defaultPrecision = 4

// Instrument describes one tradable symbol.
type Instrument struct {
	Symbol     string  `yaml:"symbol"`
	Class      string  `yaml:"class"`
	Price      float64 `yaml:"price"`      // reference (starting) price
	Volatility float64 `yaml:"volatility"` // max relative move per tick
	Precision  int32   `yaml:"precision"`  // decimal places
}

// Catalogue is an immutable set of instruments keyed by normalised symbol.
type Catalogue struct {
	bySymbol map[string]Instrument
	symbols  []string
}

type fileFormat struct {
	Instruments []Instrument `yaml:"instruments"`
}

// New builds a catalogue, filling class defaults and rejecting bad entries.
func New(instruments []Instrument) (*Catalogue, error) {
	c := &Catalogue{bySymbol: make(map[string]Instrument, len(instruments))}

	for _, inst := range instruments {
		inst.Symbol = Normalize(inst.Symbol)
		if inst.Symbol == "" {
			return nil, errors.New("instrument symbol is required")
		}
		if inst.Price <= 0 {
			return nil, fmt.Errorf("instrument %s: price must be > 0", inst.Symbol)
		}
		if _, dup := c.bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("instrument %s: duplicate symbol", inst.Symbol)
		}
		if inst.Volatility <= 0 {
			inst.Volatility = classVolatility[inst.Class]
			if inst.Volatility == 0 {
				inst.Volatility = classVolatility[ClassForex]
			}
		}
		if inst.Precision <= 0 {
			inst.Precision = defaultPrecision
		}
		c.bySymbol[inst.Symbol] = inst
		c.symbols = append(c.symbols, inst.Symbol)
	}

	if len(c.symbols) == 0 {
		return nil, errors.New("catalogue is empty")
	}
	sort.Strings(c.symbols)
	return c, nil
}

// Load reads a YAML catalogue file. An empty path yields the built-in default.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	return New(f.Instruments)
}

// Default returns the built-in instrument set.
func Default() *Catalogue {
	c, err := New(defaultInstruments())
	if err != nil {
		panic(err)
	}
	return c
}

func defaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "EURUSD", Class: ClassForex, Price: 1.09, Precision: 5},
		{Symbol: "GBPUSD", Class: ClassForex, Price: 1.26, Precision: 5},
		{Symbol: "USDJPY", Class: ClassForex, Price: 109.2, Precision: 3},
		{Symbol: "AUDUSD", Class: ClassForex, Price: 0.71, Precision: 5},
		{Symbol: "USDCAD", Class: ClassForex, Price: 1.32, Precision: 5},
		{Symbol: "AAPL", Class: ClassStock, Price: 172.5, Precision: 2},
		{Symbol: "MSFT", Class: ClassStock, Price: 342.9, Precision: 2},
		{Symbol: "GOOGL", Class: ClassStock, Price: 131.8, Precision: 2},
		{Symbol: "AMZN", Class: ClassStock, Price: 178.3, Precision: 2},
		{Symbol: "TSLA", Class: ClassStock, Price: 245.7, Precision: 2},
		{Symbol: "BTCUSD", Class: ClassCrypto, Price: 43250, Precision: 2},
		{Symbol: "ETHUSD", Class: ClassCrypto, Price: 2345, Precision: 2},
		{Symbol: "XRPUSD", Class: ClassCrypto, Price: 0.54, Precision: 5},
		{Symbol: "SOLUSD", Class: ClassCrypto, Price: 123.4, Precision: 3},
		{Symbol: "ADAUSD", Class: ClassCrypto, Price: 0.43, Precision: 5},
		{Symbol: "SPX", Class: ClassIndex, Price: 4567, Precision: 2},
		{Symbol: "DJI", Class: ClassIndex, Price: 34567, Precision: 2},
		{Symbol: "IXIC", Class: ClassIndex, Price: 14567, Precision: 2},
		{Symbol: "RUT", Class: ClassIndex, Price: 2345, Precision: 2},
		{Symbol: "VIX", Class: ClassIndex, Price: 18.7, Precision: 3},
	}
}

// Normalize upper-cases a symbol and strips whitespace and pair separators,
// so "eur/usd" and "EURUSD" name the same instrument.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(s, "/", "")
}

// Lookup returns the instrument for an already normalised symbol.
func (c *Catalogue) Lookup(symbol string) (Instrument, bool) {
	inst, ok := c.bySymbol[symbol]
	return inst, ok
}

// Has reports whether the normalised symbol is tradable.
func (c *Catalogue) Has(symbol string) bool {
	_, ok := c.bySymbol[symbol]
	return ok
}

// Symbols returns all symbols in sorted order.
func (c *Catalogue) Symbols() []string {
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out
}

// Instruments returns all instruments in symbol order.
func (c *Catalogue) Instruments() []Instrument {
	out := make([]Instrument, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, c.bySymbol[s])
	}
	return out
}
