package model

import (
	"strings"
	"time"
)

// Reservation records a guest's booking of a single room for a range of
// nights.  It carries the priced quote that was accepted at creation (or at
// the last date/room change), the lifecycle status and the audit timestamps
// stamped by each transition.
//
// Fields:
//
//	ID              – primary key identifier.
//	Code            – human readable code (RSV-YYYYMMDD-XXXX).
//	GuestID         – guest/user reference in the identity service.
//	RoomID          – room reference in the inventory service.
//	CheckIn         – arrival day, midnight UTC.
//	CheckOut        – departure day, midnight UTC (exclusive).
//	Nights          – CheckOut minus CheckIn in days, always >= 1.
//	Status          – current lifecycle state.
//	HoldExpiresAt   – deadline for payment while PENDING_PAYMENT.
//	GuestEmail/...  – contact details denormalized once through RPC.
//	Payment*        – linkage to the external payment process.
type Reservation struct {
	ID              uint64            `json:"id"`               // reservations.id
	Code            string            `json:"code"`             // reservations.code
	GuestID         string            `json:"guest_id"`         // reservations.guest_id
	RoomID          string            `json:"room_id"`          // reservations.room_id
	CheckIn         time.Time         `json:"check_in"`         // reservations.check_in
	CheckOut        time.Time         `json:"check_out"`        // reservations.check_out
	Nights          int               `json:"nights"`           // reservations.nights
	Adults          int               `json:"adults"`           // reservations.adults
	Children        int               `json:"children"`         // reservations.children
	Currency        string            `json:"currency"`         // reservations.currency
	BaseRateCents   int64             `json:"base_rate_cents"`  // reservations.base_rate_cents
	SubtotalCents   int64             `json:"subtotal_cents"`   // reservations.subtotal_cents
	DiscountCents   int64             `json:"discount_cents"`   // reservations.discount_cents
	TaxesCents      int64             `json:"taxes_cents"`      // reservations.taxes_cents
	FeesCents       int64             `json:"fees_cents"`       // reservations.fees_cents
	TotalCents      int64             `json:"total_cents"`      // reservations.total_cents
	PromoCode       *string           `json:"promo_code,omitempty"`
	PricingTrace    string            `json:"pricing_trace"`
	Status          ReservationStatus `json:"status"`           // reservations.status
	Source          string            `json:"source"`           // reservations.source
	Notes           string            `json:"notes,omitempty"`  // reservations.notes
	GuestEmail      *string           `json:"guest_email,omitempty"`
	GuestPhone      *string           `json:"guest_phone,omitempty"`
	PaymentProvider *string           `json:"payment_provider,omitempty"`
	PaymentRef      *string           `json:"payment_ref,omitempty"`
	PaymentCaptured bool              `json:"payment_captured"`
	HoldExpiresAt   *time.Time        `json:"hold_expires_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CheckedInAt     *time.Time        `json:"checked_in_at,omitempty"`
	CheckedOutAt    *time.Time        `json:"checked_out_at,omitempty"`
}

// ApplyQuote overwrites every pricing field with the values of q.
func (r *Reservation) ApplyQuote(q Quote) {
	r.Nights = q.Nights
	r.Currency = q.Currency
	r.BaseRateCents = q.BaseRateCents
	r.SubtotalCents = q.SubtotalCents
	r.DiscountCents = q.DiscountCents
	r.TaxesCents = q.TaxesCents
	r.FeesCents = q.FeesCents
	r.TotalCents = q.TotalCents
	r.PricingTrace = q.Trace
	if q.PromoCode != "" {
		code := q.PromoCode
		r.PromoCode = &code
	} else {
		r.PromoCode = nil
	}
}

// AppendNote adds a line to the free-text notes.
func (r *Reservation) AppendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if r.Notes == "" {
		r.Notes = note
		return
	}
	r.Notes = r.Notes + "\n" + note
}

// Quote is the itemized price of a stay.  It is never persisted on its own;
// a fresh one is computed on every quote, create and date/room change.
type Quote struct {
	RoomID        string    `json:"room_id"`
	CheckIn       time.Time `json:"check_in"`
	CheckOut      time.Time `json:"check_out"`
	Nights        int       `json:"nights"`
	Currency      string    `json:"currency"`
	BaseRateCents int64     `json:"base_rate_cents"`
	SubtotalCents int64     `json:"subtotal_cents"`
	DiscountCents int64     `json:"discount_cents"`
	TaxesCents    int64     `json:"taxes_cents"`
	FeesCents     int64     `json:"fees_cents"`
	TotalCents    int64     `json:"total_cents"`
	PromoCode     string    `json:"promo_code,omitempty"`
	Trace         string    `json:"trace"`
}

// ContactDetails is the subset of a guest profile copied onto reservations
// and billing records for downstream notification.
type ContactDetails struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

// Empty reports whether neither field is set.
func (c ContactDetails) Empty() bool { return c.Email == "" && c.PhoneNumber == "" }

// Room is what the room inventory collaborator tells us about a room.
type Room struct {
	ID         string `json:"id"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
	Available  bool   `json:"available"`
}

// ReservationFilter narrows ReservationRepo.List.  Zero values mean "no
// filter".  From/To select reservations whose stay intersects [From, To).
type ReservationFilter struct {
	Status  ReservationStatus
	GuestID string
	RoomID  string
	From    *time.Time
	To      *time.Time
	Search  string
	Page    int
	Limit   int
	SortBy  string
	SortAsc bool
}

// OverlapQuery describes one Overlap Guard lookup.
type OverlapQuery struct {
	RoomID    string
	CheckIn   time.Time
	CheckOut  time.Time
	ExcludeID uint64
	Statuses  []ReservationStatus
}
