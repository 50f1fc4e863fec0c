// Package payment adapts payment providers to the intent port used by the
// reservation workflow.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// IntentRequest asks a provider to prepare a payment for a reservation.
type IntentRequest struct {
	Provider        string
	AmountCents     int64
	Currency        string
	ReservationCode string
	ReservationID   uint64
	Customer        string // guest id
	Email           string
}

// Intent is the provider's handle on the prepared payment.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Stripe creates PaymentIntents.  Webhook handling lives in the payment
// service, which turns provider callbacks into payment.* events.
type Stripe struct {
	api *client.API
}

func NewStripe(secretKey string) *Stripe {
	return newStripe(secretKey, nil)
}

func newStripe(secretKey string, backends *stripe.Backends) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &Stripe{api: sc}
}

// CreatePaymentIntent is idempotent per reservation code, so retries after
// a timeout do not create a second intent.
func (s *Stripe) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.AmountCents <= 0 {
		return Intent{}, errors.New("payment amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String("Reservation " + req.ReservationCode),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey("reservation-" + req.ReservationCode)
	params.AddMetadata("reservation_code", req.ReservationCode)
	params.AddMetadata("reservation_id", fmt.Sprint(req.ReservationID))
	params.AddMetadata("guest_id", req.Customer)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Extra:        map[string]string{"status": string(pi.Status)},
	}, nil
}
