package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/model"
)

const sweepBatch = 100

// HoldExpirer is the part of ReservationService the sweeper drives.
type HoldExpirer interface {
	ExpireHold(ctx context.Context, id uint64) (*model.Reservation, bool, error)
}

// HoldSweeper cancels PENDING_PAYMENT reservations whose payment hold ran
// out, releasing the room for other guests.
type HoldSweeper struct {
	store    ReservationStore
	expirer  HoldExpirer
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewHoldSweeper(store ReservationStore, expirer HoldExpirer, interval time.Duration, log *zap.Logger) *HoldSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &HoldSweeper{
		store:    store,
		expirer:  expirer,
		interval: interval,
		log:      log.With(zap.String("component", "hold-sweeper")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done.  A non-positive interval
// disables the sweeper.
func (s *HoldSweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("disabled")
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("expired holds cancelled", zap.Int("count", n))
			}
		}
	}
}

// Sweep runs one pass and returns how many reservations it cancelled.
// A reservation paid in the meantime is skipped under its room lock.
func (s *HoldSweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.ListExpiredHolds(ctx, s.now(), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		_, expired, err := s.expirer.ExpireHold(ctx, r.ID)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("expire hold failed", zap.Uint64("reservation_id", r.ID), zap.Error(err))
			continue
		}
		if expired {
			n++
		}
	}
	return n, nil
}
