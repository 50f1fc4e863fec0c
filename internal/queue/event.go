// Package queue defines the events exchanged over RabbitMQ and the broker
// plumbing (connection ownership, topology, publishing, consuming and the
// contact request/reply call) used by both services.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the routing key and discriminator of an envelope.
type EventType string

const (
	ReservationCreated    EventType = "reservation.created"
	ReservationConfirmed  EventType = "reservation.confirmed"
	ReservationCancelled  EventType = "reservation.cancelled"
	ReservationCheckedIn  EventType = "reservation.checkedIn"
	ReservationCheckedOut EventType = "reservation.checkedOut"
	ReservationNoShow     EventType = "reservation.noShow"

	PaymentInitiated EventType = "payment.initiated"
	PaymentSucceeded EventType = "payment.succeeded"
	PaymentFailed    EventType = "payment.failed"
	PaymentRefunded  EventType = "payment.refunded"

	BillingUpdated EventType = "billing.updated"
)

var knownEvents = map[EventType]bool{
	ReservationCreated: true, ReservationConfirmed: true, ReservationCancelled: true,
	ReservationCheckedIn: true, ReservationCheckedOut: true, ReservationNoShow: true,
	PaymentInitiated: true, PaymentSucceeded: true, PaymentFailed: true, PaymentRefunded: true,
	BillingUpdated: true,
}

// IsPayment reports whether t belongs to the payments exchange.
func (t EventType) IsPayment() bool {
	switch t {
	case PaymentInitiated, PaymentSucceeded, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

var ErrMalformedEvent = errors.New("malformed event")

// Envelope is the wire format of every event.  It is never mutated after
// NewEnvelope.
type Envelope struct {
	ID            string          `json:"id"`
	Event         EventType       `json:"event"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"createdAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// NewEnvelope wraps data, stamping a fresh id and the current time.
func NewEnvelope(event EventType, data any, correlationID string) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return Envelope{
		ID:            uuid.NewString(),
		Event:         event,
		Data:          raw,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: correlationID,
	}, nil
}

// DecodeEnvelope parses body and rejects unknown event types and empty
// payloads.  Envelopes without an id are accepted; they just cannot be
// deduplicated.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !knownEvents[env.Event] {
		return Envelope{}, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, env.Event)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Envelope{}, fmt.Errorf("%w: %s without data", ErrMalformedEvent, env.Event)
	}
	return env, nil
}

// ReservationEvent is the payload of every reservation.* event.
type ReservationEvent struct {
	ReservationID uint64 `json:"reservationId"`
	Code          string `json:"code"`
	GuestID       string `json:"guestId"`
	RoomID        string `json:"roomId"`
	CheckIn       string `json:"checkIn"`
	CheckOut      string `json:"checkOut"`
	Status        string `json:"status"`
	TotalCents    int64  `json:"totalCents"`
	Currency      string `json:"currency"`
	Occupied      *bool  `json:"occupied,omitempty"` // room inventory hint on check-in/out
	Reason        string `json:"reason,omitempty"`
}

// PaymentEvent is the payload of every payment.* event emitted by the
// payment process.  ExternalRef identifies the provider side object
// (charge, refund); when absent PaymentID stands in for it.
type PaymentEvent struct {
	PaymentID       string `json:"paymentId"`
	ReservationID   uint64 `json:"reservationId"`
	ReservationCode string `json:"reservationCode,omitempty"`
	GuestID         string `json:"guestId,omitempty"`
	AmountCents     int64  `json:"amountCents"`
	Currency        string `json:"currency,omitempty"`
	Provider        string `json:"provider,omitempty"`
	ExternalRef     string `json:"externalRef,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Ref returns the reference used to deduplicate ledger entries.
func (p PaymentEvent) Ref() string {
	if p.ExternalRef != "" {
		return p.ExternalRef
	}
	return p.PaymentID
}

// Payment decodes and validates a payment.* payload.
func (e Envelope) Payment() (PaymentEvent, error) {
	if !e.Event.IsPayment() {
		return PaymentEvent{}, fmt.Errorf("%w: %s is not a payment event", ErrMalformedEvent, e.Event)
	}
	var p PaymentEvent
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if p.PaymentID == "" {
		return PaymentEvent{}, fmt.Errorf("%w: %s without paymentId", ErrMalformedEvent, e.Event)
	}
	if p.ReservationID == 0 {
		return PaymentEvent{}, fmt.Errorf("%w: %s without reservationId", ErrMalformedEvent, e.Event)
	}
	if p.AmountCents < 0 {
		return PaymentEvent{}, fmt.Errorf("%w: negative amount", ErrMalformedEvent)
	}
	return p, nil
}

// Reservation decodes a reservation.* payload.
func (e Envelope) Reservation() (ReservationEvent, error) {
	var r ReservationEvent
	if err := json.Unmarshal(e.Data, &r); err != nil {
		return ReservationEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return r, nil
}

// BillingEvent is the payload of billing.updated.
type BillingEvent struct {
	PaymentRef    string `json:"paymentRef"`
	ReservationID uint64 `json:"reservationId"`
	Status        string `json:"status"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	EntryType     string `json:"entryType"`
}
