package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/config"
	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/payment"
	"github.com/iliyamo/hotel-reservations/internal/pricing"
	"github.com/iliyamo/hotel-reservations/internal/queue"
	"github.com/iliyamo/hotel-reservations/internal/repository"
	"github.com/iliyamo/hotel-reservations/internal/rooms"
)

// Names of best-effort steps reported in CreateResult.Degraded.
const (
	StepContactEnrichment = "contact_enrichment"
	StepEventPublish      = "event_publish"
)

// ReservationDeps wires a ReservationService.  Payments and Contacts may
// be nil: without a payment port reservations stay pending until a
// payment event or a staff confirmation arrives, without a contact client
// no contact snapshot is taken.
type ReservationDeps struct {
	Store          ReservationStore
	Rooms          RoomLookup
	Pricing        Quoter
	Payments       PaymentPort
	Contacts       ContactLookup
	ContactTimeout time.Duration
	Events         EventPublisher
	Config         config.ReservationConfig
	Log            *zap.Logger
	Now            func() time.Time
}

// ReservationService owns the reservation lifecycle.  Every write happens
// inside Store.RunInRoom for the affected rooms; events are published
// after the write committed and never undo it.
type ReservationService struct {
	store    ReservationStore
	guard    *OverlapGuard
	rooms    RoomLookup
	pricing  Quoter
	payments PaymentPort
	contacts ContactLookup
	events   EventPublisher
	cfg      config.ReservationConfig
	steps    StepPolicy
	ctTO     time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewReservationService(d ReservationDeps) *ReservationService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ReservationService{
		store:    d.Store,
		guard:    NewOverlapGuard(d.Store),
		rooms:    d.Rooms,
		pricing:  d.Pricing,
		payments: d.Payments,
		contacts: d.Contacts,
		events:   d.Events,
		cfg:      d.Config,
		steps:    StepPolicy{Attempts: d.Config.StepAttempts, Backoff: d.Config.StepBackoff},
		ctTO:     d.ContactTimeout,
		log:      d.Log.With(zap.String("component", "reservations")),
		now:      d.Now,
	}
}

// QuoteInput prices a stay without booking it.
type QuoteInput struct {
	RoomID    string
	CheckIn   time.Time
	CheckOut  time.Time
	Currency  string
	PromoCode string
}

// CreateInput is a booking request.  RequiresPrepayment nil means the
// configured default.
type CreateInput struct {
	GuestID            string
	RoomID             string
	CheckIn            time.Time
	CheckOut           time.Time
	Adults             int
	Children           int
	Currency           string
	PromoCode          string
	Source             string
	Notes              string
	RequiresPrepayment *bool
	PaymentProvider    string
}

// CreateResult is a committed reservation plus what happened around it.
// Degraded lists best-effort steps that did not complete.
type CreateResult struct {
	Reservation  *model.Reservation `json:"reservation"`
	Quote        model.Quote        `json:"quote"`
	ClientSecret string             `json:"client_secret,omitempty"`
	Degraded     []string           `json:"degraded"`
}

// PatchInput changes a reservation.  Nil fields are left alone.
type PatchInput struct {
	RoomID    *string
	CheckIn   *time.Time
	CheckOut  *time.Time
	Adults    *int
	Children  *int
	PromoCode *string
	Notes     *string
}

func validateStay(roomID string, checkIn, checkOut time.Time) (time.Time, time.Time, error) {
	if strings.TrimSpace(roomID) == "" {
		return time.Time{}, time.Time{}, validationError("room_id is required")
	}
	if checkIn.IsZero() || checkOut.IsZero() {
		return time.Time{}, time.Time{}, validationError("check_in and check_out are required")
	}
	checkIn, checkOut = model.NormalizeDate(checkIn), model.NormalizeDate(checkOut)
	if model.Nights(checkIn, checkOut) < 1 {
		return time.Time{}, time.Time{}, validationError("check_out must be at least one day after check_in")
	}
	return checkIn, checkOut, nil
}

// lookupRoom maps collaborator failures onto service errors.
func (s *ReservationService) lookupRoom(ctx context.Context, roomID string) (model.Room, error) {
	room, err := s.rooms.EnsureRoomExists(ctx, roomID)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		return model.Room{}, notFound("room", roomID)
	}
	if err != nil {
		return model.Room{}, upstream("room service unavailable", err)
	}
	return room, nil
}

func (s *ReservationService) quote(ctx context.Context, room model.Room, checkIn, checkOut time.Time, currency, promo string) (model.Quote, error) {
	if currency == "" {
		currency = room.Currency
	}
	q, err := s.pricing.Calculate(ctx, room.ID, checkIn, checkOut, room.PriceCents, currency, promo)
	if errors.Is(err, pricing.ErrInvalidRange) || errors.Is(err, pricing.ErrInvalidRate) {
		return model.Quote{}, validationError("%v", err)
	}
	if err != nil {
		return model.Quote{}, internal("pricing failed", err)
	}
	return q, nil
}

// QuoteResult is a quote plus whether the room could be booked for it
// right now.  Availability is advisory; Create checks again under the
// room lock.
type QuoteResult struct {
	model.Quote
	Available        bool     `json:"available"`
	ConflictingCodes []string `json:"conflicting_codes,omitempty"`
}

// Quote prices a stay with the room's current rate and demand.
func (s *ReservationService) Quote(ctx context.Context, in QuoteInput) (QuoteResult, error) {
	checkIn, checkOut, err := validateStay(in.RoomID, in.CheckIn, in.CheckOut)
	if err != nil {
		return QuoteResult{}, err
	}
	room, err := s.lookupRoom(ctx, in.RoomID)
	if err != nil {
		return QuoteResult{}, err
	}
	q, err := s.quote(ctx, room, checkIn, checkOut, in.Currency, in.PromoCode)
	if err != nil {
		return QuoteResult{}, err
	}
	free, conflicts, err := s.guard.Available(ctx, in.RoomID, checkIn, checkOut, 0)
	if err != nil {
		return QuoteResult{}, internal("overlap check failed", err)
	}
	out := QuoteResult{Quote: q, Available: room.Available && free}
	for _, r := range conflicts {
		out.ConflictingCodes = append(out.ConflictingCodes, r.Code)
	}
	return out, nil
}

// Create books a room.  The overlap check and the insert run under the
// room lock.  A pending reservation then gets a payment intent; if that
// keeps failing the reservation is cancelled again and the call fails
// with upstream_unavailable.  Contact enrichment and the created event
// are best-effort.
func (s *ReservationService) Create(ctx context.Context, actor model.Actor, in CreateInput) (*CreateResult, error) {
	if in.GuestID == "" && actor.Role == model.RoleGuest {
		in.GuestID = actor.ID
	}
	if strings.TrimSpace(in.GuestID) == "" {
		return nil, validationError("guest_id is required")
	}
	if !actor.Privileged() && in.GuestID != actor.ID {
		return nil, forbidden("guests can only book for themselves")
	}
	checkIn, checkOut, err := validateStay(in.RoomID, in.CheckIn, in.CheckOut)
	if err != nil {
		return nil, err
	}
	if in.Adults < 1 {
		return nil, validationError("adults must be at least 1")
	}
	if in.Children < 0 {
		return nil, validationError("children must not be negative")
	}

	room, err := s.lookupRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.Available {
		return nil, conflict("room is not available for booking", map[string]any{"room_id": in.RoomID})
	}

	prepay := s.cfg.RequirePrepayment
	if in.RequiresPrepayment != nil {
		prepay = *in.RequiresPrepayment
	}
	source := in.Source
	if source == "" {
		source = s.cfg.DefaultSource
	}
	provider := in.PaymentProvider
	if provider == "" {
		provider = s.cfg.PaymentProvider
	}

	var res *model.Reservation
	var q model.Quote
	err = s.store.RunInRoom(ctx, []string{in.RoomID}, func(ctx context.Context) error {
		conflicts, err := s.guard.FindOverlaps(ctx, in.RoomID, checkIn, checkOut, 0)
		if err != nil {
			return internal("overlap check failed", err)
		}
		if len(conflicts) > 0 {
			return conflictError(conflicts)
		}
		q, err = s.quote(ctx, room, checkIn, checkOut, in.Currency, in.PromoCode)
		if err != nil {
			return err
		}
		now := s.now()
		res = &model.Reservation{
			GuestID:   in.GuestID,
			RoomID:    in.RoomID,
			CheckIn:   checkIn,
			CheckOut:  checkOut,
			Adults:    in.Adults,
			Children:  in.Children,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		res.ApplyQuote(q)
		res.AppendNote(in.Notes)
		if prepay {
			res.Status = model.StatusPendingPayment
			if s.cfg.HoldTTL > 0 {
				exp := now.Add(s.cfg.HoldTTL)
				res.HoldExpiresAt = &exp
			}
		} else {
			res.Status = model.StatusConfirmed
			res.ConfirmedAt = &now
		}
		return s.insertWithCode(ctx, res)
	})
	if err != nil {
		return nil, s.wrap(err, "create reservation")
	}
	log := logger.WithContext(ctx, s.log).With(zap.Uint64("reservation_id", res.ID), zap.String("code", res.Code))
	log.Info("reservation created", zap.String("status", string(res.Status)), zap.Int64("total_cents", res.TotalCents))

	result := &CreateResult{Reservation: res, Quote: q, Degraded: []string{}}
	var extras createExtras

	if s.contacts != nil {
		err := s.steps.Run(ctx, func(ctx context.Context) error {
			var err error
			extras.contact, err = s.contacts.GetContactDetails(ctx, res.GuestID, s.ctTO)
			if errors.Is(err, queue.ErrRPCTimeout) {
				return permanent(err)
			}
			return err
		})
		if err != nil {
			log.Warn("contact enrichment skipped", zap.Error(err))
			result.Degraded = append(result.Degraded, StepContactEnrichment)
			extras.contact = model.ContactDetails{}
		}
	}

	if res.Status == model.StatusPendingPayment && s.payments != nil && res.TotalCents > 0 {
		var intent payment.Intent
		err := s.steps.Run(ctx, func(ctx context.Context) error {
			var err error
			intent, err = s.payments.CreatePaymentIntent(ctx, payment.IntentRequest{
				Provider:        provider,
				AmountCents:     res.TotalCents,
				Currency:        res.Currency,
				ReservationCode: res.Code,
				ReservationID:   res.ID,
				Customer:        res.GuestID,
				Email:           extras.contact.Email,
			})
			return err
		})
		if err != nil {
			log.Error("payment intent failed; cancelling reservation", zap.Error(err))
			if _, _, cerr := s.cancel(ctx, res.ID, "payment intent creation failed", nil, false); cerr != nil {
				log.Error("compensating cancel failed", zap.Error(cerr))
			}
			return nil, upstream("payment service unavailable", err)
		}
		extras.provider, extras.paymentRef = provider, intent.ID
		result.ClientSecret = intent.ClientSecret
	}

	if !extras.empty() {
		saved, err := s.saveExtras(ctx, res, extras)
		if err != nil {
			return nil, internal("store payment and contact details", err)
		}
		res = saved
		result.Reservation = saved
	}

	if !s.publish(ctx, queue.ReservationCreated, res, nil, "") {
		result.Degraded = append(result.Degraded, StepEventPublish)
	}
	return result, nil
}

// createExtras is what Create learns after the insert committed.
type createExtras struct {
	contact    model.ContactDetails
	provider   string
	paymentRef string
}

func (e createExtras) empty() bool { return e.contact.Empty() && e.paymentRef == "" }

// saveExtras writes the payment reference and contact snapshot onto the
// stored row under the room lock.  The row is re-read so a transition
// committed while the intent or the contact lookup was in flight is kept.
func (s *ReservationService) saveExtras(ctx context.Context, res *model.Reservation, e createExtras) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.store.RunInRoom(ctx, []string{res.RoomID}, func(ctx context.Context) error {
		r, err := s.store.GetByID(ctx, res.ID)
		if err != nil {
			return err
		}
		if e.paymentRef != "" && r.PaymentRef == nil {
			provider, ref := e.provider, e.paymentRef
			r.PaymentProvider = &provider
			r.PaymentRef = &ref
		}
		setContact(r, e.contact)
		r.UpdatedAt = s.now()
		if err := s.store.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func setContact(r *model.Reservation, c model.ContactDetails) {
	if c.Email != "" {
		email := c.Email
		r.GuestEmail = &email
	}
	if c.PhoneNumber != "" {
		phone := c.PhoneNumber
		r.GuestPhone = &phone
	}
}

// insertWithCode assigns a fresh code and retries on the rare collision.
func (s *ReservationService) insertWithCode(ctx context.Context, res *model.Reservation) error {
	var err error
	for i := 0; i < 3; i++ {
		res.Code = NewReservationCode(res.CreatedAt)
		if err = s.store.Insert(ctx, res); !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
	}
	return err
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewReservationCode returns RSV-YYYYMMDD-XXXX.
func NewReservationCode(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "RSV-" + now.UTC().Format("20060102") + "-" + string(buf)
}

// Get returns a reservation the actor may see.
func (s *ReservationService) Get(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, fmt.Sprintf("reservation %d", id))
	}
	if err := authorize(actor, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetByCode returns a reservation the actor may see.
func (s *ReservationService) GetByCode(ctx context.Context, actor model.Actor, code string) (*model.Reservation, error) {
	r, err := s.store.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, s.wrap(err, "reservation "+code)
	}
	if err := authorize(actor, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns one page of reservations; guests only see their own.
func (s *ReservationService) List(ctx context.Context, actor model.Actor, f model.ReservationFilter) ([]model.Reservation, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, validationError("unknown status %q", f.Status)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, 0, validationError("from must be before to")
	}
	if !actor.Privileged() {
		f.GuestID = actor.ID
	}
	out, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, 0, internal("list reservations", err)
	}
	return out, total, nil
}

func authorize(actor model.Actor, r *model.Reservation) error {
	if actor.Privileged() || r.GuestID == actor.ID {
		return nil
	}
	return forbidden("reservation belongs to another guest")
}

// Patch changes a reservation.  A new room or new dates are re-checked
// for overlaps (ignoring the reservation itself) and re-priced; other
// fields are copied as given.  A pending reservation whose payment intent
// already exists cannot change price.
func (s *ReservationService) Patch(ctx context.Context, actor model.Actor, id uint64, in PatchInput) (*model.Reservation, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if in.Adults != nil && *in.Adults < 1 {
		return nil, validationError("adults must be at least 1")
	}
	if in.Children != nil && *in.Children < 0 {
		return nil, validationError("children must not be negative")
	}

	targetRoom := current.RoomID
	if in.RoomID != nil && strings.TrimSpace(*in.RoomID) != "" {
		targetRoom = strings.TrimSpace(*in.RoomID)
	}
	var room *model.Room
	if targetRoom != current.RoomID || in.CheckIn != nil || in.CheckOut != nil || in.PromoCode != nil {
		rm, err := s.lookupRoom(ctx, targetRoom)
		if err != nil {
			return nil, err
		}
		if targetRoom != current.RoomID && !rm.Available {
			return nil, conflict("room is not available for booking", map[string]any{"room_id": targetRoom})
		}
		room = &rm
	}

	var out *model.Reservation
	err = s.store.RunInRoom(ctx, []string{current.RoomID, targetRoom}, func(ctx context.Context) error {
		r, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if r.RoomID != current.RoomID {
			// moved by a concurrent patch; the locks taken no longer cover it
			return conflict("reservation was changed concurrently, retry the update", map[string]any{"room_id": r.RoomID})
		}
		checkIn, checkOut := r.CheckIn, r.CheckOut
		if in.CheckIn != nil {
			checkIn = *in.CheckIn
		}
		if in.CheckOut != nil {
			checkOut = *in.CheckOut
		}
		checkIn, checkOut, err = validateStay(targetRoom, checkIn, checkOut)
		if err != nil {
			return err
		}
		stayChanged := targetRoom != r.RoomID || !checkIn.Equal(r.CheckIn) || !checkOut.Equal(r.CheckOut)

		if stayChanged || in.PromoCode != nil {
			if !r.Status.Occupying() {
				return invalidTransition(r.Status, "change the stay of")
			}
			if r.Status == model.StatusCheckedIn && (targetRoom != r.RoomID || !checkIn.Equal(r.CheckIn)) {
				return validationError("only check_out can change after check-in")
			}
			if stayChanged {
				conflicts, err := s.guard.FindOverlaps(ctx, targetRoom, checkIn, checkOut, r.ID)
				if err != nil {
					return internal("overlap check failed", err)
				}
				if len(conflicts) > 0 {
					return conflictError(conflicts)
				}
			}
			promo := ""
			if r.PromoCode != nil {
				promo = *r.PromoCode
			}
			if in.PromoCode != nil {
				promo = *in.PromoCode
			}
			q, err := s.quote(ctx, *room, checkIn, checkOut, r.Currency, promo)
			if err != nil {
				return err
			}
			if r.Status == model.StatusPendingPayment && r.PaymentRef != nil && q.TotalCents != r.TotalCents {
				return conflict("the payment intent was prepared for the old price; cancel and book again", map[string]any{
					"current_total_cents": r.TotalCents,
					"new_total_cents":     q.TotalCents,
				})
			}
			r.RoomID, r.CheckIn, r.CheckOut = targetRoom, checkIn, checkOut
			r.ApplyQuote(q)
		}
		if in.Adults != nil {
			r.Adults = *in.Adults
		}
		if in.Children != nil {
			r.Children = *in.Children
		}
		if in.Notes != nil {
			r.Notes = strings.TrimSpace(*in.Notes)
		}
		r.UpdatedAt = s.now()
		if err := s.store.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, fmt.Sprintf("patch reservation %d", id))
	}
	logger.WithContext(ctx, s.log).Info("reservation updated", zap.Uint64("reservation_id", id), zap.Int64("total_cents", out.TotalCents))
	return out, nil
}

// transition is the single write path for status changes.  It re-reads
// the reservation under the room lock, resolves the action against the
// transition table, lets skip veto the change, applies mutate and
// publishes event after commit.  A no-op transition writes nothing and
// publishes nothing.
type transition struct {
	action model.Action
	event  queue.EventType
	reason string
	// skip returns true to leave the reservation untouched without error.
	skip   func(r *model.Reservation, now time.Time) bool
	mutate func(r *model.Reservation, now time.Time) error
}

func (s *ReservationService) apply(ctx context.Context, actor model.Actor, id uint64, t transition) (*model.Reservation, bool, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, false, s.wrap(err, fmt.Sprintf("reservation %d", id))
	}
	if err := authorize(actor, current); err != nil {
		return nil, false, err
	}

	var out *model.Reservation
	changed := false
	err = s.store.RunInRoom(ctx, []string{current.RoomID}, func(ctx context.Context) error {
		r, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		out = r
		now := s.now()
		if t.skip != nil && t.skip(r, now) {
			return nil
		}
		to, noop, ok := model.NextStatus(r.Status, t.action)
		if !ok {
			return invalidTransition(r.Status, t.action)
		}
		if noop {
			return nil
		}
		if !r.Status.Occupying() && to.Occupying() {
			conflicts, err := s.guard.FindOverlaps(ctx, r.RoomID, r.CheckIn, r.CheckOut, r.ID)
			if err != nil {
				return internal("overlap check failed", err)
			}
			if len(conflicts) > 0 {
				return conflictError(conflicts)
			}
		}
		if t.mutate != nil {
			if err := t.mutate(r, now); err != nil {
				return err
			}
		}
		r.Status = to
		r.UpdatedAt = now
		if err := s.store.Update(ctx, r); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, s.wrap(err, fmt.Sprintf("%s reservation %d", t.action, id))
	}
	if changed {
		logger.WithContext(ctx, s.log).Info("reservation status changed",
			zap.Uint64("reservation_id", id), zap.String("action", string(t.action)), zap.String("status", string(out.Status)))
		if t.event != "" {
			s.publish(ctx, t.event, out, nil, t.reason)
		}
	}
	return out, changed, nil
}

func (s *ReservationService) run(ctx context.Context, actor model.Actor, id uint64, t transition) (*model.Reservation, error) {
	r, _, err := s.apply(ctx, actor, id, t)
	return r, err
}

// Confirm is the staff confirmation.  Confirming a reservation that is
// already confirmed or checked in is a no-op.
func (s *ReservationService) Confirm(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error) {
	if !actor.Privileged() {
		return nil, forbidden("only staff can confirm reservations")
	}
	return s.run(ctx, actor, id, transition{
		action: model.ActionConfirm,
		event:  queue.ReservationConfirmed,
		mutate: func(r *model.Reservation, now time.Time) error {
			r.ConfirmedAt = &now
			r.HoldExpiresAt = nil
			return nil
		},
	})
}

// ConfirmPayment applies a successful payment.  Only a pending
// reservation moves; anything else is left alone so replays and late
// events are harmless.  applied reports whether the status changed.
func (s *ReservationService) ConfirmPayment(ctx context.Context, id uint64, paymentRef string) (*model.Reservation, bool, error) {
	return s.apply(ctx, model.SystemActor("payment-consumer"), id, transition{
		action: model.ActionConfirm,
		event:  queue.ReservationConfirmed,
		skip: func(r *model.Reservation, _ time.Time) bool {
			return r.Status != model.StatusPendingPayment
		},
		mutate: func(r *model.Reservation, now time.Time) error {
			r.ConfirmedAt = &now
			r.HoldExpiresAt = nil
			r.PaymentCaptured = true
			if paymentRef != "" && r.PaymentRef == nil {
				ref := paymentRef
				r.PaymentRef = &ref
			}
			return nil
		},
	})
}

// Cancel cancels from any status but CHECKED_OUT and appends reason to
// the notes.
func (s *ReservationService) Cancel(ctx context.Context, actor model.Actor, id uint64, reason string) (*model.Reservation, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, fmt.Sprintf("reservation %d", id))
	}
	if err := authorize(actor, current); err != nil {
		return nil, err
	}
	if current.Status == model.StatusCheckedIn && !actor.Privileged() {
		return nil, forbidden("in-house reservations can only be cancelled by staff")
	}
	r, _, err := s.cancel(ctx, id, reason, nil, true)
	return r, err
}

func (s *ReservationService) cancel(ctx context.Context, id uint64, reason string, skip func(*model.Reservation, time.Time) bool, notify bool) (*model.Reservation, bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	t := transition{
		action: model.ActionCancel,
		reason: reason,
		skip:   skip,
		mutate: func(r *model.Reservation, now time.Time) error {
			r.CancelledAt = &now
			r.HoldExpiresAt = nil
			r.AppendNote(fmt.Sprintf("[%s] cancelled: %s", now.Format(time.RFC3339), reason))
			return nil
		},
	}
	if notify {
		t.event = queue.ReservationCancelled
	}
	return s.apply(ctx, model.SystemActor("reservations"), id, t)
}

// CheckIn moves a confirmed reservation in house.
func (s *ReservationService) CheckIn(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error) {
	if !actor.Privileged() {
		return nil, forbidden("only staff can check guests in")
	}
	return s.run(ctx, actor, id, transition{
		action: model.ActionCheckIn,
		event:  queue.ReservationCheckedIn,
		mutate: func(r *model.Reservation, now time.Time) error {
			r.CheckedInAt = &now
			return nil
		},
	})
}

// CheckOut closes an in-house reservation.
func (s *ReservationService) CheckOut(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error) {
	if !actor.Privileged() {
		return nil, forbidden("only staff can check guests out")
	}
	return s.run(ctx, actor, id, transition{
		action: model.ActionCheckOut,
		event:  queue.ReservationCheckedOut,
		mutate: func(r *model.Reservation, now time.Time) error {
			r.CheckedOutAt = &now
			return nil
		},
	})
}

// NoShow marks a confirmed guest who did not arrive.  It is only allowed
// once the check-in day has started.
func (s *ReservationService) NoShow(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error) {
	if !actor.Privileged() {
		return nil, forbidden("only staff can mark no-shows")
	}
	return s.run(ctx, actor, id, transition{
		action: model.ActionNoShow,
		event:  queue.ReservationNoShow,
		mutate: func(r *model.Reservation, now time.Time) error {
			if now.Before(r.CheckIn) {
				return validationError("no-show can only be recorded from the check-in day on")
			}
			r.AppendNote(fmt.Sprintf("[%s] marked no-show", now.Format(time.RFC3339)))
			return nil
		},
	})
}

// ExpireHold cancels a pending reservation whose payment hold has run
// out.  It re-checks both conditions under the lock, so a payment that
// lands first wins.  expired reports whether this call cancelled it.
func (s *ReservationService) ExpireHold(ctx context.Context, id uint64) (r *model.Reservation, expired bool, err error) {
	return s.cancel(ctx, id, "payment hold expired", func(r *model.Reservation, now time.Time) bool {
		return r.Status != model.StatusPendingPayment || r.HoldExpiresAt == nil || r.HoldExpiresAt.After(now)
	}, true)
}

// publish sends a reservation event and reports whether it went out.
// Failures are logged only: the state change is already committed.
func (s *ReservationService) publish(ctx context.Context, event queue.EventType, r *model.Reservation, occupied *bool, reason string) bool {
	if s.events == nil {
		return true
	}
	if occupied == nil {
		switch event {
		case queue.ReservationCheckedIn:
			occupied = boolPtr(true)
		case queue.ReservationCheckedOut:
			occupied = boolPtr(false)
		}
	}
	env, err := queue.NewEnvelope(event, queue.ReservationEvent{
		ReservationID: r.ID,
		Code:          r.Code,
		GuestID:       r.GuestID,
		RoomID:        r.RoomID,
		CheckIn:       r.CheckIn.Format(model.DateLayout),
		CheckOut:      r.CheckOut.Format(model.DateLayout),
		Status:        string(r.Status),
		TotalCents:    r.TotalCents,
		Currency:      r.Currency,
		Occupied:      occupied,
		Reason:        reason,
	}, logger.CorrelationID(ctx))
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("event publish failed",
			zap.String("event", string(event)), zap.Uint64("reservation_id", r.ID), zap.Error(err))
		return false
	}
	return true
}

func boolPtr(b bool) *bool { return &b }

// wrap turns store errors into service errors, leaving service errors as
// they are.
func (s *ReservationService) wrap(err error, what string) error {
	var se *Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	default:
		return internal(what, err)
	}
}
