package escrow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"couponbay/internal/repositories"
)

// DefaultSweepInterval keeps the sweep grain short relative to the hold
// duration.
const DefaultSweepInterval = 5 * time.Second

const defaultSweepBatchSize = 100

// Sweeper drives auto-confirmation. Instead of per-transaction timers,
// which die with the process, it polls for holding transactions whose
// window has elapsed. All deadline state lives in the transaction rows, so
// a fresh process picks up every pending deadline on startup.
type Sweeper struct {
	engine    *Service
	txRepo    repositories.TransactionRepository
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewSweeper(engine *Service, txRepo repositories.TransactionRepository, interval time.Duration) *Sweeper {
	if engine == nil {
		panic("engine is required")
	}
	if txRepo == nil {
		panic("transaction repo is required")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		engine:    engine,
		txRepo:    txRepo,
		interval:  interval,
		batchSize: defaultSweepBatchSize,
		now:       time.Now,
	}
}

// Run sweeps until the context is cancelled. The first sweep happens
// immediately so deadlines that expired while the process was down are
// handled without waiting a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep auto-confirms every holding transaction past its deadline. Errors
// are logged and the row is retried on the next sweep; a transient
// processor failure never marks a transaction terminal.
func (s *Sweeper) Sweep(ctx context.Context) {
	txs, err := s.txRepo.ListExpiredHolding(ctx, s.now(), s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("sweep query failed")
		return
	}

	for _, tx := range txs {
		if err := s.engine.AutoConfirm(ctx, tx.ID); err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("auto-confirm failed, will retry next sweep")
		}
	}
}
