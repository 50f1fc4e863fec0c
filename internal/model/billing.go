package model

import "time"

// BillingStatus is the payment state of a billing record.
type BillingStatus string

const (
	BillingInitiated BillingStatus = "initiated"
	BillingPaid      BillingStatus = "paid"
	BillingFailed    BillingStatus = "failed"
	BillingRefunded  BillingStatus = "refunded"
)

// Valid reports whether s is a known billing status.
func (s BillingStatus) Valid() bool {
	switch s {
	case BillingInitiated, BillingPaid, BillingFailed, BillingRefunded:
		return true
	}
	return false
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryInitiated    EntryType = "initiated"
	EntryPayment      EntryType = "payment"
	EntryRefund       EntryType = "refund"
	EntryFailure      EntryType = "failure"
	EntryCharge       EntryType = "charge"
	EntryCredit       EntryType = "credit"
	EntryAdjustment   EntryType = "adjustment"
	EntryStatusChange EntryType = "status_change"
)

// LedgerEntry is one immutable line of a billing ledger.  Credits and
// refunds carry negative amounts.
type LedgerEntry struct {
	ID          uint64    `json:"id"`                     // ledger_entries.id
	BillingID   uint64    `json:"billing_id"`             // ledger_entries.billing_id
	Type        EntryType `json:"type"`                   // ledger_entries.type
	AmountCents int64     `json:"amount_cents"`           // ledger_entries.amount_cents
	Note        string    `json:"note,omitempty"`         // ledger_entries.note
	ExternalRef *string   `json:"external_ref,omitempty"` // ledger_entries.external_ref
	CreatedAt   time.Time `json:"created_at"`             // ledger_entries.created_at
}

// Billing is the service-local projection of one payment.  AmountCents is
// derived: it is always the sum of Ledger and is only ever written by
// Recompute.
type Billing struct {
	ID                  uint64        `json:"id"`
	PaymentRef          string        `json:"payment_ref"`
	ReservationID       uint64        `json:"reservation_id"`
	ReservationCode     string        `json:"reservation_code,omitempty"`
	GuestID             string        `json:"guest_id"`
	Currency            string        `json:"currency"`
	Provider            string        `json:"provider,omitempty"`
	Status              BillingStatus `json:"status"`
	ExpectedAmountCents int64         `json:"expected_amount_cents"`
	AmountCents         int64         `json:"amount_cents"`
	GuestEmail          *string       `json:"guest_email,omitempty"`
	GuestPhone          *string       `json:"guest_phone,omitempty"`
	Ledger              []LedgerEntry `json:"ledger,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// FoldLedger sums the signed amounts of entries.
func FoldLedger(entries []LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.AmountCents
	}
	return total
}

// Recompute sets AmountCents from the ledger.
func (b *Billing) Recompute() { b.AmountCents = FoldLedger(b.Ledger) }

// HasEntry reports whether an entry of type t with external reference ref
// already exists.
func (b *Billing) HasEntry(t EntryType, ref string) bool {
	for _, e := range b.Ledger {
		if e.Type == t && e.ExternalRef != nil && *e.ExternalRef == ref {
			return true
		}
	}
	return false
}

// Append adds an entry stamped at now and recomputes the running total.
func (b *Billing) Append(t EntryType, amount int64, note, ref string, now time.Time) LedgerEntry {
	e := LedgerEntry{BillingID: b.ID, Type: t, AmountCents: amount, Note: note, CreatedAt: now}
	if ref != "" {
		r := ref
		e.ExternalRef = &r
	}
	b.Ledger = append(b.Ledger, e)
	b.Recompute()
	b.UpdatedAt = now
	return e
}

// BillingFilter narrows BillingRepo.List.
type BillingFilter struct {
	ReservationID uint64
	GuestID       string
	Status        BillingStatus
	Page          int
	Limit         int
}
