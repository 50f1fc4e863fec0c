package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/queue"
)

// PaymentConfirmer is the part of ReservationService the payment consumer
// drives.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, id uint64, paymentRef string) (*model.Reservation, bool, error)
}

// PaymentEventHandler applies payment.* events to reservations.  Only a
// success moves a reservation; failures and refunds are recorded in the
// log because the payer may retry and cancellation has its own path.
type PaymentEventHandler struct {
	reservations PaymentConfirmer
	log          *zap.Logger
}

func NewPaymentEventHandler(reservations PaymentConfirmer, log *zap.Logger) *PaymentEventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentEventHandler{reservations: reservations, log: log.With(zap.String("component", "payment-events"))}
}

// Handle is a queue.Handler.  Returning an error dead-letters the message.
func (h *PaymentEventHandler) Handle(ctx context.Context, env queue.Envelope) error {
	p, err := env.Payment()
	if err != nil {
		return err
	}
	log := logger.WithContext(ctx, h.log).With(
		zap.String("event", string(env.Event)),
		zap.String("event_id", env.ID),
		zap.Uint64("reservation_id", p.ReservationID),
		zap.String("payment_id", p.PaymentID),
	)

	switch env.Event {
	case queue.PaymentSucceeded:
		r, applied, err := h.reservations.ConfirmPayment(ctx, p.ReservationID, p.Ref())
		if err != nil {
			// an unknown reservation goes to the dead-letter queue for inspection
			return err
		}
		switch {
		case applied:
			log.Info("reservation confirmed by payment")
		case r.Status == model.StatusCancelled:
			log.Warn("payment succeeded for a cancelled reservation; refund needed", zap.String("code", r.Code))
		default:
			log.Info("payment already applied", zap.String("status", string(r.Status)))
		}
	case queue.PaymentFailed:
		log.Warn("payment failed", zap.String("reason", p.Reason))
	case queue.PaymentRefunded:
		log.Info("payment refunded", zap.Int64("amount_cents", p.AmountCents))
	case queue.PaymentInitiated:
		log.Debug("payment initiated", zap.Int64("amount_cents", p.AmountCents))
	}
	return nil
}
