package ticker_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/testutils"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/ticker"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/catalogue"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

func newCatalogue(t *testing.T) *catalogue.Catalogue {
	t.Helper()
	cat, err := catalogue.New([]catalogue.Instrument{
		{Symbol: "EURUSD", Class: catalogue.ClassForex, Price: 1.09, Precision: 5},
		{Symbol: "AAPL", Class: catalogue.ClassStock, Price: 100, Precision: 2},
		{Symbol: "PENNY", Price: 0.0001, Volatility: 0.4, Precision: 4},
	})
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	return cat
}

func TestGenerator_Logic(t *testing.T) {
	// (0.5 - 0.5) * 2 = 0 change: price stays on the reference
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.5}
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}

	gen := ticker.NewGenerator(zap.NewNop(), newCatalogue(t), mockRand, mockClock)

	q, err := gen.Next("AAPL")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	if q.Symbol != "AAPL" {
		t.Errorf("Expected AAPL, got %s", q.Symbol)
	}
	if q.SeqID != 1 {
		t.Errorf("Expected SeqID 1, got %d", q.SeqID)
	}
	if q.Price != 100.0 {
		t.Errorf("Expected Price 100.0, got %f", q.Price)
	}
	// spread = 100 * 0.0002 = 0.02
	if q.Bid != 99.99 || q.Ask != 100.01 {
		t.Errorf("Expected 99.99/100.01, got %v/%v", q.Bid, q.Ask)
	}
	if q.Volume != 100_000 {
		t.Errorf("Expected volume 100000, got %d", q.Volume)
	}
	if q.Timestamp != 0 {
		t.Errorf("Expected timestamp from mock clock, got %d", q.Timestamp)
	}
}

func TestGenerator_SequenceIsMonotonic(t *testing.T) {
	gen := ticker.NewGenerator(zap.NewNop(), newCatalogue(t), ticker.NewRealRand(1), ticker.RealClock{})

	var lastSeq int64
	for i := 0; i < 50; i++ {
		q, err := gen.Next("EURUSD")
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if q.SeqID != lastSeq+1 {
			t.Fatalf("SeqID = %d, want %d", q.SeqID, lastSeq+1)
		}
		lastSeq = q.SeqID
	}

	// A different instrument has its own sequence.
	q, _ := gen.Next("AAPL")
	if q.SeqID != 1 {
		t.Errorf("AAPL SeqID = %d, want 1", q.SeqID)
	}
}

func TestGenerator_AskAboveBidAboveZero(t *testing.T) {
	gen := ticker.NewGenerator(zap.NewNop(), newCatalogue(t), rand.New(rand.NewSource(42)), ticker.RealClock{})

	for _, sym := range []string{"EURUSD", "AAPL", "PENNY"} {
		for i := 0; i < 1000; i++ {
			q, err := gen.Next(sym)
			if err != nil {
				t.Fatalf("Next(%s) failed: %v", sym, err)
			}
			if !(q.Ask > q.Bid && q.Bid > 0) {
				t.Fatalf("%s tick %d violates ask > bid > 0: bid=%v ask=%v", sym, i, q.Bid, q.Ask)
			}
		}
	}
}

func TestGenerator_UnknownInstrument(t *testing.T) {
	gen := ticker.NewGenerator(zap.NewNop(), newCatalogue(t), ticker.NewRealRand(1), ticker.RealClock{})

	_, err := gen.Next("FAKE")
	if !errors.Is(err, catalogue.ErrUnknownInstrument) {
		t.Errorf("Expected ErrUnknownInstrument, got %v", err)
	}
	if _, ok := gen.Last("FAKE"); ok {
		t.Error("Last(FAKE) should report false")
	}
}

func TestGenerator_LastTracksLatestQuote(t *testing.T) {
	gen := ticker.NewGenerator(zap.NewNop(), newCatalogue(t), ticker.NewRealRand(7), ticker.RealClock{})

	before, ok := gen.Last("AAPL")
	if !ok || before.SeqID != 0 || before.Price != 100 {
		t.Fatalf("Last before first tick = %+v, want reference quote", before)
	}

	q, _ := gen.Next("AAPL")
	after, _ := gen.Last("AAPL")
	if after != q {
		t.Errorf("Last = %+v, want %+v", after, q)
	}
}

func TestGenerator_Seed(t *testing.T) {
	mockRand := &testutils.MockRand{ValFloat: 0.5}
	gen := ticker.NewGenerator(zap.NewNop(), newCatalogue(t), mockRand, &testutils.MockClock{})

	n := gen.Seed([]models.Quote{
		{Symbol: "AAPL", Bid: 149.98, Ask: 150.02, Price: 150, SeqID: 10},
		{Symbol: "FAKE", Bid: 1, Ask: 2, Price: 1.5, SeqID: 1},
		{Symbol: "EURUSD", Bid: 0, Ask: 1, Price: 0.5, SeqID: 1},
	})
	if n != 1 {
		t.Errorf("Seed() = %d, want 1", n)
	}

	q, _ := gen.Next("AAPL")
	if q.SeqID != 11 {
		t.Errorf("SeqID after seed = %d, want 11", q.SeqID)
	}
	if q.Price != 150 {
		t.Errorf("Price after seed = %v, want 150", q.Price)
	}
}
