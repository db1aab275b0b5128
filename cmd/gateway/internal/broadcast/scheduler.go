package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/protocol"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/repository"
	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

// defaultPublishBudget applies when the scheduler has no positive interval.
const defaultPublishBudget = 250 * time.Millisecond

// TickStats summarises one scheduler round.
type TickStats struct {
	Instruments int
	Delivered   int
	Failed      int
	Published   int
}

// Scheduler generates one quote per subscribed instrument per interval and
// fans it out to that instrument's subscribers.
type Scheduler struct {
	logger   *zap.Logger
	interval time.Duration
	subs     Subscriptions
	quotes   QuoteSource
	dir      Directory
	store    repository.QuoteStore

	// publishBudget bounds all store writes of one tick together.
	publishBudget time.Duration
}

func NewScheduler(
	logger *zap.Logger,
	interval time.Duration,
	subs Subscriptions,
	quotes QuoteSource,
	dir Directory,
	store repository.QuoteStore,
) *Scheduler {
	if store == nil {
		store = repository.NopStore{}
	}
	budget := interval / 4
	if budget <= 0 {
		budget = defaultPublishBudget
	}
	return &Scheduler{
		logger:        logger,
		interval:      interval,
		subs:          subs,
		quotes:        quotes,
		dir:           dir,
		store:         store,
		publishBudget: budget,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Broadcast scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Broadcast scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one broadcast round. Instruments are processed one after
// another on the calling goroutine, so each instrument's quotes reach its
// subscribers in sequence order. Store writes happen only after every
// instrument has been delivered and share one publish budget.
func (s *Scheduler) Tick(ctx context.Context) TickStats {
	var stats TickStats

	active := s.subs.ActiveInstruments()
	generated := make([]models.Quote, 0, len(active))

	for _, symbol := range active {
		q, err := s.quotes.Next(symbol)
		if err != nil {
			s.logger.Error("Quote generation failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		stats.Instruments++
		generated = append(generated, q)

		frame, err := json.Marshal(protocol.Frame{Type: protocol.TypeMarketData, Symbol: symbol, Data: q})
		if err != nil {
			s.logger.Error("JSON Marshal Error", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		// Snapshot copy: the registry lock is not held while delivering.
		for _, id := range s.subs.SubscribersOf(symbol) {
			r, ok := s.dir.Lookup(id)
			if !ok {
				continue // closed between snapshot and delivery
			}
			if err := r.Send(frame); err != nil {
				stats.Failed++
				s.logger.Debug("Delivery failed", zap.String("session", id), zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			stats.Delivered++
		}
	}

	stats.Published = s.publish(ctx, generated)

	if stats.Instruments > 0 {
		s.logger.Debug("Tick",
			zap.Int("instruments", stats.Instruments),
			zap.Int("delivered", stats.Delivered),
			zap.Int("failed", stats.Failed),
			zap.Int("published", stats.Published),
		)
	}
	return stats
}

// publish mirrors the tick's quotes to the store. A stalled store costs at
// most publishBudget; whatever is left when it runs out is skipped.
func (s *Scheduler) publish(ctx context.Context, quotes []models.Quote) int {
	if len(quotes) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.publishBudget)
	defer cancel()

	published := 0
	for i, q := range quotes {
		if err := s.store.PublishQuote(ctx, q); err != nil {
			s.logger.Warn("Quote publish failed", zap.String("symbol", q.Symbol), zap.Error(err))
			if ctx.Err() != nil {
				s.logger.Warn("Quote publish budget exhausted",
					zap.Duration("budget", s.publishBudget),
					zap.Int("skipped", len(quotes)-i-1),
				)
				break
			}
			continue
		}
		published++
	}
	return published
}
