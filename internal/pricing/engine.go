// Package pricing turns a room's base rate and a stay into an itemized
// quote.  Money is handled in minor units (cents); multipliers are applied
// to the whole subtotal and rounded half away from zero once per step.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/config"
	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/model"
)

var (
	ErrInvalidRange = errors.New("check_out must be after check_in")
	ErrInvalidRate  = errors.New("base rate must not be negative")
)

// DemandSignal reports the current occupancy rate (0..1) relevant to a
// room.  ok is false when no signal is available.
type DemandSignal interface {
	Occupancy(ctx context.Context, roomID string) (rate float64, ok bool, err error)
}

// Engine computes quotes.  It holds no mutable state; the demand signal
// is read on every call.
type Engine struct {
	cfg    config.PricingConfig
	demand DemandSignal
	log    *zap.Logger
}

// NewEngine returns an engine.  demand may be nil, which makes the demand
// multiplier always neutral.
func NewEngine(cfg config.PricingConfig, demand DemandSignal, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, demand: demand, log: log}
}

// Calculate prices a stay of checkIn..checkOut (normalized to midnight UTC)
// at baseRateCents per night.
func (e *Engine) Calculate(ctx context.Context, roomID string, checkIn, checkOut time.Time, baseRateCents int64, currency, promoCode string) (model.Quote, error) {
	checkIn, checkOut = model.NormalizeDate(checkIn), model.NormalizeDate(checkOut)
	nights := model.Nights(checkIn, checkOut)
	if nights < 1 {
		return model.Quote{}, ErrInvalidRange
	}
	if baseRateCents < 0 {
		return model.Quote{}, ErrInvalidRate
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = e.cfg.DefaultCurrency
	}

	var trace []string
	subtotal := baseRateCents * int64(nights)
	trace = append(trace, fmt.Sprintf("base %d x %d nights = %d", baseRateCents, nights, subtotal))

	season, seasonName := e.seasonMultiplier(checkIn.Month())
	subtotal = applyRate(subtotal, season)
	trace = append(trace, fmt.Sprintf("season %s x%.2f", seasonName, season))

	demand, demandNote := e.demandMultiplier(ctx, roomID)
	subtotal = applyRate(subtotal, demand)
	trace = append(trace, fmt.Sprintf("demand %s x%.2f", demandNote, demand))

	var discount int64
	code := strings.ToUpper(strings.TrimSpace(promoCode))
	applied := ""
	if code != "" {
		if pct, ok := e.cfg.Promos[code]; ok {
			discount = applyRate(subtotal, pct)
			subtotal -= discount
			applied = code
			trace = append(trace, fmt.Sprintf("promo %s -%.0f%% = -%d", code, pct*100, discount))
		} else {
			trace = append(trace, fmt.Sprintf("promo %s not recognised", code))
		}
	}

	taxes := applyRate(subtotal, e.cfg.TaxRate)
	fees := applyRate(subtotal, e.cfg.FeeRate)
	total := subtotal + taxes + fees
	trace = append(trace, fmt.Sprintf("tax %.0f%% = %d, fee %.0f%% = %d", e.cfg.TaxRate*100, taxes, e.cfg.FeeRate*100, fees))

	return model.Quote{
		RoomID:        roomID,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Nights:        nights,
		Currency:      currency,
		BaseRateCents: baseRateCents,
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxesCents:    taxes,
		FeesCents:     fees,
		TotalCents:    total,
		PromoCode:     applied,
		Trace:         strings.Join(trace, "; "),
	}, nil
}

func (e *Engine) seasonMultiplier(m time.Month) (float64, string) {
	for _, h := range e.cfg.HighSeasonMonths {
		if h == m {
			return e.cfg.HighSeasonMultiplier, "high"
		}
	}
	for _, l := range e.cfg.LowSeasonMonths {
		if l == m {
			return e.cfg.LowSeasonMultiplier, "low"
		}
	}
	return 1.0, "regular"
}

// demandMultiplier never fails the quote: a broken signal is logged and
// priced as neutral.
func (e *Engine) demandMultiplier(ctx context.Context, roomID string) (float64, string) {
	if e.demand == nil {
		return 1.0, "no signal"
	}
	rate, ok, err := e.demand.Occupancy(ctx, roomID)
	if err != nil {
		logger.WithContext(ctx, e.log).Warn("demand signal unavailable", zap.String("room_id", roomID), zap.Error(err))
		return 1.0, "no signal"
	}
	if !ok {
		return 1.0, "no signal"
	}
	note := fmt.Sprintf("occupancy %.0f%%", rate*100)
	switch {
	case rate > e.cfg.HighDemandThreshold:
		return e.cfg.HighDemandMultiplier, note
	case rate < e.cfg.LowDemandThreshold:
		return e.cfg.LowDemandMultiplier, note
	}
	return 1.0, note
}

func applyRate(cents int64, rate float64) int64 {
	return int64(math.Round(float64(cents) * rate))
}
