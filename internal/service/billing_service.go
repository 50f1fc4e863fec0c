package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/queue"
	"github.com/iliyamo/hotel-reservations/internal/repository"
)

// BillingDeps wires a BillingService.  Contacts and Events may be nil.
type BillingDeps struct {
	Store          BillingStore
	Contacts       ContactLookup
	ContactTimeout time.Duration
	Events         EventPublisher
	Log            *zap.Logger
	Now            func() time.Time
}

// BillingService projects payment.* events into billing records and
// applies manual ledger commands.  Every change appends ledger entries and
// recomputes the running total inside one store transaction.
type BillingService struct {
	store    BillingStore
	contacts ContactLookup
	ctTO     time.Duration
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time
}

func NewBillingService(d BillingDeps) *BillingService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &BillingService{
		store:    d.Store,
		contacts: d.Contacts,
		ctTO:     d.ContactTimeout,
		events:   d.Events,
		log:      d.Log.With(zap.String("component", "billing")),
		now:      d.Now,
	}
}

// HandlePaymentEvent is a queue.Handler.  Replays are harmless: every
// event-driven entry carries an external reference and an entry whose
// (type, reference) already exists is skipped.
func (s *BillingService) HandlePaymentEvent(ctx context.Context, env queue.Envelope) error {
	p, err := env.Payment()
	if err != nil {
		return err
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("event", string(env.Event)), zap.String("event_id", env.ID), zap.String("payment_id", p.PaymentID))

	if env.Event == queue.PaymentInitiated {
		created, err := s.open(ctx, p)
		if err != nil {
			return err
		}
		if created {
			log.Info("billing record opened", zap.Int64("expected_cents", p.AmountCents))
			s.publish(ctx, s.mustGet(ctx, p.PaymentID), model.EntryInitiated)
			return nil
		}
	} else if _, err := s.store.Get(ctx, p.PaymentID); errors.Is(err, repository.ErrNotFound) {
		// the initiated event has not arrived (yet); open the record so
		// this event has somewhere to land
		if _, err := s.open(ctx, p); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("load billing %s: %w", p.PaymentID, err)
	}

	var appended model.EntryType
	b, err := s.store.Update(ctx, p.PaymentID, func(b *model.Billing) error {
		appended = applyPaymentEvent(b, env, p, s.now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %s to billing %s: %w", env.Event, p.PaymentID, err)
	}
	if appended == "" {
		log.Info("payment event already applied")
		return nil
	}
	log.Info("ledger updated", zap.String("entry", string(appended)),
		zap.String("status", string(b.Status)), zap.Int64("amount_cents", b.AmountCents))
	s.publish(ctx, b, appended)
	return nil
}

// applyPaymentEvent appends the entry env calls for, unless it is already
// on the ledger, and returns its type ("" when nothing was appended).
func applyPaymentEvent(b *model.Billing, env queue.Envelope, p queue.PaymentEvent, now time.Time) model.EntryType {
	fillFromEvent(b, p)
	switch env.Event {
	case queue.PaymentInitiated:
		if p.AmountCents > 0 {
			b.ExpectedAmountCents = p.AmountCents
		}
		if b.HasEntry(model.EntryInitiated, p.PaymentID) {
			return ""
		}
		b.Append(model.EntryInitiated, 0, "payment initiated", p.PaymentID, now)
		return model.EntryInitiated

	case queue.PaymentSucceeded:
		ref := p.Ref()
		if b.HasEntry(model.EntryPayment, ref) {
			return ""
		}
		b.Append(model.EntryPayment, p.AmountCents, "payment captured", ref, now)
		b.Status = model.BillingPaid
		return model.EntryPayment

	case queue.PaymentRefunded:
		ref := p.ExternalRef
		if ref == "" {
			ref = env.ID
		}
		if ref == "" {
			ref = p.PaymentID
		}
		if b.HasEntry(model.EntryRefund, ref) {
			return ""
		}
		b.Append(model.EntryRefund, -p.AmountCents, noteOr(p.Reason, "payment refunded"), ref, now)
		b.Status = model.BillingRefunded
		return model.EntryRefund

	case queue.PaymentFailed:
		ref := p.ExternalRef
		if ref == "" {
			ref = env.ID
		}
		if ref == "" {
			ref = p.PaymentID
		}
		if b.HasEntry(model.EntryFailure, ref) {
			return ""
		}
		b.Append(model.EntryFailure, 0, noteOr(p.Reason, "payment failed"), ref, now)
		// a late failure of an earlier attempt does not undo a capture
		if b.Status == model.BillingInitiated || b.Status == model.BillingFailed {
			b.Status = model.BillingFailed
		}
		return model.EntryFailure
	}
	return ""
}

func fillFromEvent(b *model.Billing, p queue.PaymentEvent) {
	if b.ReservationCode == "" {
		b.ReservationCode = p.ReservationCode
	}
	if b.GuestID == "" {
		b.GuestID = p.GuestID
	}
	if b.Currency == "" {
		b.Currency = strings.ToUpper(p.Currency)
	}
	if b.Provider == "" {
		b.Provider = p.Provider
	}
}

func noteOr(note, fallback string) string {
	if strings.TrimSpace(note) == "" {
		return fallback
	}
	return note
}

// open creates the record for p with its initiated entry.  created is
// false when another delivery created it first.
func (s *BillingService) open(ctx context.Context, p queue.PaymentEvent) (bool, error) {
	now := s.now()
	b := &model.Billing{
		PaymentRef:          p.PaymentID,
		ReservationID:       p.ReservationID,
		Status:              model.BillingInitiated,
		ExpectedAmountCents: p.AmountCents,
		CreatedAt:           now,
	}
	fillFromEvent(b, p)
	b.Append(model.EntryInitiated, 0, "payment initiated", p.PaymentID, now)
	if c, ok := s.contactFor(ctx, b.GuestID); ok {
		if c.Email != "" {
			b.GuestEmail = &c.Email
		}
		if c.PhoneNumber != "" {
			b.GuestPhone = &c.PhoneNumber
		}
	}
	created, err := s.store.Create(ctx, b)
	if err != nil {
		return false, fmt.Errorf("open billing %s: %w", p.PaymentID, err)
	}
	return created, nil
}

// contactFor is best-effort: a failed lookup only leaves the snapshot empty.
func (s *BillingService) contactFor(ctx context.Context, guestID string) (model.ContactDetails, bool) {
	if s.contacts == nil || guestID == "" {
		return model.ContactDetails{}, false
	}
	c, err := s.contacts.GetContactDetails(ctx, guestID, s.ctTO)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("contact enrichment skipped", zap.String("guest_id", guestID), zap.Error(err))
		return model.ContactDetails{}, false
	}
	return c, !c.Empty()
}

func (s *BillingService) mustGet(ctx context.Context, ref string) *model.Billing {
	b, err := s.store.Get(ctx, ref)
	if err != nil {
		return &model.Billing{PaymentRef: ref}
	}
	return b
}

// LedgerCommand is a manual ledger mutation.  Amount is in cents.
type LedgerCommand struct {
	Type        model.EntryType
	AmountCents int64
	Note        string
}

// Apply appends a manual charge, credit, refund or adjustment.  Charges,
// credits and refunds take a positive amount and get their sign from the
// type; adjustments are signed and must not be zero.  A refund that brings
// a paid record to zero or below marks it refunded.
func (s *BillingService) Apply(ctx context.Context, ref string, cmd LedgerCommand) (*model.Billing, error) {
	var amount int64
	switch cmd.Type {
	case model.EntryCharge:
		amount = cmd.AmountCents
	case model.EntryCredit, model.EntryRefund:
		amount = -cmd.AmountCents
	case model.EntryAdjustment:
		if cmd.AmountCents == 0 {
			return nil, validationError("adjustment amount must not be zero")
		}
		amount = cmd.AmountCents
	default:
		return nil, validationError("unsupported ledger entry type %q", cmd.Type)
	}
	if cmd.Type != model.EntryAdjustment && cmd.AmountCents <= 0 {
		return nil, validationError("amount must be positive")
	}

	b, err := s.store.Update(ctx, ref, func(b *model.Billing) error {
		b.Append(cmd.Type, amount, noteOr(cmd.Note, string(cmd.Type)), "", s.now())
		if cmd.Type == model.EntryRefund && b.Status == model.BillingPaid && b.AmountCents <= 0 {
			b.Status = model.BillingRefunded
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, ref)
	}
	logger.WithContext(ctx, s.log).Info("manual ledger entry",
		zap.String("payment_ref", ref), zap.String("entry", string(cmd.Type)), zap.Int64("amount_cents", amount))
	s.publish(ctx, b, cmd.Type)
	return b, nil
}

// ChangeStatus sets the record status by hand, leaving a status_change
// entry on the ledger.
func (s *BillingService) ChangeStatus(ctx context.Context, ref string, status model.BillingStatus, note string) (*model.Billing, error) {
	if !status.Valid() {
		return nil, validationError("unknown billing status %q", status)
	}
	b, err := s.store.Update(ctx, ref, func(b *model.Billing) error {
		from := b.Status
		b.Append(model.EntryStatusChange, 0, noteOr(note, fmt.Sprintf("status %s -> %s", from, status)), "", s.now())
		b.Status = status
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, ref)
	}
	s.publish(ctx, b, model.EntryStatusChange)
	return b, nil
}

// Rebuild recomputes the running total from the ledger.
func (s *BillingService) Rebuild(ctx context.Context, ref string) (*model.Billing, error) {
	var before int64
	b, err := s.store.Update(ctx, ref, func(b *model.Billing) error {
		before = b.AmountCents
		b.Recompute()
		if b.AmountCents != before {
			b.UpdatedAt = s.now()
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, ref)
	}
	if b.AmountCents != before {
		logger.WithContext(ctx, s.log).Warn("running total drifted from ledger",
			zap.String("payment_ref", ref), zap.Int64("stored_cents", before), zap.Int64("ledger_cents", b.AmountCents))
	}
	return b, nil
}

func (s *BillingService) Get(ctx context.Context, ref string) (*model.Billing, error) {
	b, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, s.wrap(err, ref)
	}
	return b, nil
}

func (s *BillingService) List(ctx context.Context, f model.BillingFilter) ([]model.Billing, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, validationError("unknown billing status %q", f.Status)
	}
	out, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, internal("list billing records", err)
	}
	return out, total, nil
}

func (s *BillingService) publish(ctx context.Context, b *model.Billing, entry model.EntryType) {
	if s.events == nil {
		return
	}
	env, err := queue.NewEnvelope(queue.BillingUpdated, queue.BillingEvent{
		PaymentRef:    b.PaymentRef,
		ReservationID: b.ReservationID,
		Status:        string(b.Status),
		AmountCents:   b.AmountCents,
		Currency:      b.Currency,
		EntryType:     string(entry),
	}, logger.CorrelationID(ctx))
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("event publish failed",
			zap.String("event", string(queue.BillingUpdated)), zap.String("payment_ref", b.PaymentRef), zap.Error(err))
	}
}

func (s *BillingService) wrap(err error, ref string) error {
	var se *Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return notFound("billing record", ref)
	default:
		return internal("billing "+ref, err)
	}
}
