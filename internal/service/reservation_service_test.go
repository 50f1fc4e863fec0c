package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/hotel-reservations/internal/config"
	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/pricing"
	"github.com/iliyamo/hotel-reservations/internal/queue"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var (
	staff    = model.Actor{ID: "staff-1", Role: model.RoleStaff}
	guest1   = model.Actor{ID: "g1", Role: model.RoleGuest}
	guest2   = model.Actor{ID: "g2", Role: model.RoleGuest}
	noPrepay = false
)

type fixture struct {
	svc      *ReservationService
	store    *memReservations
	events   *recordingPublisher
	payments *fakePayments
	contacts *fakeContacts
	clock    *clock
}

type fixtureOption func(*ReservationDeps, *fixture)

func withPayments(err error) fixtureOption {
	return func(d *ReservationDeps, f *fixture) {
		f.payments = &fakePayments{err: err}
		d.Payments = f.payments
	}
}

func withContacts(details model.ContactDetails, err error) fixtureOption {
	return func(d *ReservationDeps, f *fixture) {
		f.contacts = &fakeContacts{details: details, err: err}
		d.Contacts = f.contacts
	}
}

func pricingConfig() config.PricingConfig {
	return config.PricingConfig{
		HighSeasonMonths:     []time.Month{time.June, time.July, time.August},
		LowSeasonMonths:      []time.Month{time.January, time.February},
		HighSeasonMultiplier: 1.25,
		LowSeasonMultiplier:  0.85,
		HighDemandThreshold:  0.8,
		LowDemandThreshold:   0.4,
		HighDemandMultiplier: 1.3,
		LowDemandMultiplier:  0.9,
		TaxRate:              0.12,
		FeeRate:              0.02,
		Promos:               map[string]float64{"WELCOME10": 0.10},
		DefaultCurrency:      "USD",
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemReservations(),
		events: &recordingPublisher{},
		clock:  &clock{t: time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)},
	}
	d := ReservationDeps{
		Store: f.store,
		Rooms: fakeRooms{
			"R1": {ID: "R1", PriceCents: 10000, Currency: "USD", Available: true},
			"R2": {ID: "R2", PriceCents: 15000, Currency: "USD", Available: true},
			"R9": {ID: "R9", PriceCents: 9000, Currency: "USD", Available: false},
		},
		Pricing: pricing.NewEngine(pricingConfig(), nil, nil),
		Events:  f.events,
		Config: config.ReservationConfig{
			RequirePrepayment: true,
			HoldTTL:           30 * time.Minute,
			DefaultSource:     "direct",
			PaymentProvider:   "stripe",
			StepAttempts:      2,
			StepBackoff:       time.Millisecond,
		},
		Now: f.clock.now,
	}
	for _, o := range opts {
		o(&d, f)
	}
	f.svc = NewReservationService(d)
	return f
}

func day(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func stay(room, in, out string) CreateInput {
	return CreateInput{GuestID: "g1", RoomID: room, CheckIn: day(in), CheckOut: day(out), Adults: 2}
}

func (f *fixture) create(t *testing.T, actor model.Actor, in CreateInput) *model.Reservation {
	t.Helper()
	res, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res.Reservation
}

func conflictCodes(t *testing.T, err error) []string {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	details, ok := se.Details.(map[string]any)
	if !ok {
		t.Fatalf("details = %#v", se.Details)
	}
	codes, _ := details["conflicting_codes"].([]string)
	return codes
}

func TestQuoteTwoNightsNoAdjustments(t *testing.T) {
	f := newFixture(t)
	q, err := f.svc.Quote(context.Background(), QuoteInput{RoomID: "R1", CheckIn: day("2025-12-12"), CheckOut: day("2025-12-14")})
	if err != nil {
		t.Fatal(err)
	}
	if q.Nights != 2 || q.SubtotalCents != 20000 || q.TaxesCents != 2400 || q.FeesCents != 400 || q.TotalCents != 22800 {
		t.Fatalf("quote = %+v", q)
	}
	if q.Currency != "USD" {
		t.Fatalf("currency = %s", q.Currency)
	}
}

func TestQuoteValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Quote(context.Background(), QuoteInput{RoomID: "R1", CheckIn: day("2025-12-14"), CheckOut: day("2025-12-14")})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("same-day stay: %v", err)
	}
	_, err = f.svc.Quote(context.Background(), QuoteInput{RoomID: "nope", CheckIn: day("2025-12-12"), CheckOut: day("2025-12-14")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown room: %v", err)
	}
}

func TestCreateConfirmedWithoutPrepayment(t *testing.T) {
	f := newFixture(t)
	in := stay("R1", "2025-12-12", "2025-12-14")
	in.RequiresPrepayment = &noPrepay
	r := f.create(t, staff, in)

	if r.Status != model.StatusConfirmed || r.ConfirmedAt == nil || r.HoldExpiresAt != nil {
		t.Fatalf("reservation = %+v", r)
	}
	if r.TotalCents != 22800 || r.Nights != 2 || r.Source != "direct" {
		t.Fatalf("pricing/source not stored: %+v", r)
	}
	if !strings.HasPrefix(r.Code, "RSV-20251201-") || len(r.Code) != len("RSV-20251201-XXXX") {
		t.Fatalf("code = %s", r.Code)
	}
	if got := f.events.events(); len(got) != 1 || got[0] != queue.ReservationCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestCreateRejectsOverlapNamingBlocker(t *testing.T) {
	f := newFixture(t)
	a := stay("R1", "2025-12-12", "2025-12-14")
	a.RequiresPrepayment = &noPrepay
	ra := f.create(t, staff, a)

	_, err := f.svc.Create(context.Background(), staff, stay("R1", "2025-12-13", "2025-12-15"))
	codes := conflictCodes(t, err)
	if len(codes) != 1 || codes[0] != ra.Code {
		t.Fatalf("conflicting codes = %v, want [%s]", codes, ra.Code)
	}

	// back-to-back stays share no night
	f.create(t, staff, stay("R1", "2025-12-14", "2025-12-16"))
	// other rooms are unaffected
	f.create(t, staff, stay("R2", "2025-12-12", "2025-12-14"))
}

func TestCreateIgnoresCancelledReservations(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, staff, stay("R1", "2025-12-12", "2025-12-14"))
	if _, err := f.svc.Cancel(context.Background(), staff, r.ID, "guest changed plans"); err != nil {
		t.Fatal(err)
	}
	f.create(t, staff, stay("R1", "2025-12-12", "2025-12-14"))
}

func TestConcurrentCreatesBookOnce(t *testing.T) {
	f := newFixture(t)
	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, conflicts := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := stay("R1", "2025-12-12", "2025-12-14")
			if i%2 == 1 {
				in = stay("R1", "2025-12-13", "2025-12-15")
			}
			_, err := f.svc.Create(context.Background(), staff, in)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 || conflicts != n-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := stay("R1", "2025-12-12", "2025-12-14")
	in.Adults = 0
	if _, err := f.svc.Create(ctx, staff, in); !errors.Is(err, ErrValidation) {
		t.Fatalf("adults=0: %v", err)
	}
	if _, err := f.svc.Create(ctx, staff, stay("R1", "2025-12-14", "2025-12-12")); !errors.Is(err, ErrValidation) {
		t.Fatalf("reversed dates: %v", err)
	}
	if _, err := f.svc.Create(ctx, staff, stay("R404", "2025-12-12", "2025-12-14")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown room: %v", err)
	}
	if _, err := f.svc.Create(ctx, staff, stay("R9", "2025-12-12", "2025-12-14")); !errors.Is(err, ErrConflict) {
		t.Fatalf("unavailable room: %v", err)
	}
	other := stay("R1", "2025-12-12", "2025-12-14")
	other.GuestID = "g1"
	if _, err := f.svc.Create(ctx, guest2, other); !errors.Is(err, ErrForbidden) {
		t.Fatalf("booking for someone else: %v", err)
	}
}

func TestCreateGuestDefaultsToSubject(t *testing.T) {
	f := newFixture(t)
	in := stay("R1", "2025-12-12", "2025-12-14")
	in.GuestID = ""
	r := f.create(t, guest2, in)
	if r.GuestID != "g2" {
		t.Fatalf("guest = %s", r.GuestID)
	}
}

func TestCreatePendingHoldsAndCreatesIntent(t *testing.T) {
	f := newFixture(t, withPayments(nil))
	res, err := f.svc.Create(context.Background(), guest1, stay("R1", "2025-12-12", "2025-12-14"))
	if err != nil {
		t.Fatal(err)
	}
	r := res.Reservation
	if r.Status != model.StatusPendingPayment {
		t.Fatalf("status = %s", r.Status)
	}
	if r.HoldExpiresAt == nil || !r.HoldExpiresAt.Equal(f.clock.now().Add(30*time.Minute)) {
		t.Fatalf("hold = %v", r.HoldExpiresAt)
	}
	if res.ClientSecret != "secret_"+r.Code {
		t.Fatalf("client secret = %q", res.ClientSecret)
	}
	stored := f.store.get(r.ID)
	if stored.PaymentRef == nil || *stored.PaymentRef != "pi_"+r.Code {
		t.Fatalf("payment ref not stored: %+v", stored.PaymentRef)
	}
	if len(res.Degraded) != 0 {
		t.Fatalf("degraded = %v", res.Degraded)
	}
}

func TestCreateCompensatesFailedPaymentIntent(t *testing.T) {
	f := newFixture(t, withPayments(errBoom))
	_, err := f.svc.Create(context.Background(), guest1, stay("R1", "2025-12-12", "2025-12-14"))
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if f.payments.calls != 2 {
		t.Fatalf("intent attempts = %d", f.payments.calls)
	}
	rows, _, _ := f.store.List(context.Background(), model.ReservationFilter{})
	if len(rows) != 1 || rows[0].Status != model.StatusCancelled {
		t.Fatalf("rows = %+v", rows)
	}
	if !strings.Contains(rows[0].Notes, "payment intent creation failed") {
		t.Fatalf("notes = %q", rows[0].Notes)
	}
	if len(f.events.events()) != 0 {
		t.Fatalf("events = %v", f.events.events())
	}
	// the room is free again
	again := stay("R1", "2025-12-12", "2025-12-14")
	again.RequiresPrepayment = &noPrepay
	f.create(t, staff, again)
}

func TestCreateContactEnrichment(t *testing.T) {
	f := newFixture(t, withContacts(model.ContactDetails{Email: "g1@example.com", PhoneNumber: "+100"}, nil))
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	stored := f.store.get(r.ID)
	if stored.GuestEmail == nil || *stored.GuestEmail != "g1@example.com" || stored.GuestPhone == nil {
		t.Fatalf("contact not stored: %+v %+v", stored.GuestEmail, stored.GuestPhone)
	}
}

func TestCreateContactTimeoutIsDegraded(t *testing.T) {
	f := newFixture(t, withContacts(model.ContactDetails{}, queue.ErrRPCTimeout))
	res, err := f.svc.Create(context.Background(), guest1, stay("R1", "2025-12-12", "2025-12-14"))
	if err != nil {
		t.Fatal(err)
	}
	if f.contacts.calls != 1 {
		t.Fatalf("timeouts must not be retried, calls = %d", f.contacts.calls)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != StepContactEnrichment {
		t.Fatalf("degraded = %v", res.Degraded)
	}
	if res.Reservation.GuestEmail != nil {
		t.Fatal("no contact expected")
	}
}

func TestCreatePublishFailureKeepsReservation(t *testing.T) {
	f := newFixture(t)
	f.events.err = errBoom
	res, err := f.svc.Create(context.Background(), guest1, stay("R1", "2025-12-12", "2025-12-14"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != StepEventPublish {
		t.Fatalf("degraded = %v", res.Degraded)
	}
	if _, err := f.svc.Get(context.Background(), guest1, res.Reservation.ID); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentSucceededConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	h := NewPaymentEventHandler(f.svc, nil)

	env, err := queue.NewEnvelope(queue.PaymentSucceeded, queue.PaymentEvent{
		PaymentID: "pay_1", ReservationID: r.ID, AmountCents: r.TotalCents,
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), env); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}
	got := f.store.get(r.ID)
	if got.Status != model.StatusConfirmed || !got.PaymentCaptured || got.HoldExpiresAt != nil {
		t.Fatalf("reservation = %+v", got)
	}
	if got.PaymentRef == nil || *got.PaymentRef != "pay_1" {
		t.Fatalf("payment ref = %v", got.PaymentRef)
	}
	events := f.events.events()
	if len(events) != 2 || events[1] != queue.ReservationConfirmed {
		t.Fatalf("events = %v", events)
	}
}

func TestPaymentFailureAndRefundOnlyLog(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	h := NewPaymentEventHandler(f.svc, nil)
	for _, ev := range []queue.EventType{queue.PaymentInitiated, queue.PaymentFailed, queue.PaymentRefunded} {
		env, _ := queue.NewEnvelope(ev, queue.PaymentEvent{PaymentID: "pay_1", ReservationID: r.ID, AmountCents: 100}, "")
		if err := h.Handle(context.Background(), env); err != nil {
			t.Fatalf("%s: %v", ev, err)
		}
	}
	if got := f.store.get(r.ID); got.Status != model.StatusPendingPayment {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestPaymentForUnknownReservationIsRejected(t *testing.T) {
	f := newFixture(t)
	h := NewPaymentEventHandler(f.svc, nil)
	env, _ := queue.NewEnvelope(queue.PaymentSucceeded, queue.PaymentEvent{PaymentID: "pay_9", ReservationID: 404}, "")
	if err := h.Handle(context.Background(), env); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	bad, _ := queue.NewEnvelope(queue.PaymentSucceeded, map[string]any{"reservationId": 1}, "")
	if err := h.Handle(context.Background(), bad); !errors.Is(err, queue.ErrMalformedEvent) {
		t.Fatalf("err = %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))

	if _, err := f.svc.CheckIn(ctx, staff, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("check-in while pending: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, guest1, r.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("guest confirm: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, staff, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Confirm(ctx, staff, r.ID); err != nil {
		t.Fatalf("confirm twice: %v", err)
	}
	in, err := f.svc.CheckIn(ctx, staff, r.ID)
	if err != nil || in.Status != model.StatusCheckedIn || in.CheckedInAt == nil {
		t.Fatalf("check-in: %+v %v", in, err)
	}
	out, err := f.svc.CheckOut(ctx, staff, r.ID)
	if err != nil || out.Status != model.StatusCheckedOut || out.CheckedOutAt == nil {
		t.Fatalf("check-out: %+v %v", out, err)
	}
	for name, fn := range map[string]func() (*model.Reservation, error){
		"cancel":  func() (*model.Reservation, error) { return f.svc.Cancel(ctx, staff, r.ID, "late") },
		"confirm": func() (*model.Reservation, error) { return f.svc.Confirm(ctx, staff, r.ID) },
		"checkin": func() (*model.Reservation, error) { return f.svc.CheckIn(ctx, staff, r.ID) },
	} {
		if _, err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s after check-out: %v", name, err)
		}
	}

	want := []queue.EventType{queue.ReservationCreated, queue.ReservationConfirmed, queue.ReservationCheckedIn, queue.ReservationCheckedOut}
	got := f.events.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v", got)
		}
	}
	checkedIn, err := f.events.sent[2].Reservation()
	if err != nil || checkedIn.Occupied == nil || !*checkedIn.Occupied {
		t.Fatalf("check-in payload = %+v %v", checkedIn, err)
	}
	checkedOut, _ := f.events.sent[3].Reservation()
	if checkedOut.Occupied == nil || *checkedOut.Occupied {
		t.Fatalf("check-out payload = %+v", checkedOut)
	}
}

func TestInvalidTransitionNamesStates(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	_, err := f.svc.CheckOut(context.Background(), staff, r.ID)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindInvalidTransition {
		t.Fatalf("err = %v", err)
	}
	d := se.Details.(map[string]any)
	if d["current"] != model.StatusPendingPayment || d["requested"] != model.ActionCheckOut {
		t.Fatalf("details = %v", d)
	}
}

func TestCancelStampsReasonAndPublishes(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	c, err := f.svc.Cancel(context.Background(), guest1, r.ID, "found a cheaper hotel")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != model.StatusCancelled || c.CancelledAt == nil || !strings.Contains(c.Notes, "found a cheaper hotel") {
		t.Fatalf("cancelled = %+v", c)
	}
	env := f.events.sent[len(f.events.sent)-1]
	payload, _ := env.Reservation()
	if env.Event != queue.ReservationCancelled || payload.Reason != "found a cheaper hotel" {
		t.Fatalf("event = %s %+v", env.Event, payload)
	}
	if _, err := f.svc.Cancel(context.Background(), guest2, r.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cancel someone else's: %v", err)
	}
}

func TestNoShowWaitsForCheckInDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := stay("R1", "2025-12-12", "2025-12-14")
	in.RequiresPrepayment = &noPrepay
	r := f.create(t, staff, in)

	if _, err := f.svc.NoShow(ctx, staff, r.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("early no-show: %v", err)
	}
	f.clock.advance(11 * 24 * time.Hour)
	ns, err := f.svc.NoShow(ctx, staff, r.ID)
	if err != nil || ns.Status != model.StatusNoShow {
		t.Fatalf("no-show: %+v %v", ns, err)
	}

	// the room is free while the reservation is a no-show; someone takes it
	other := f.create(t, staff, stay("R1", "2025-12-13", "2025-12-14"))
	if _, err := f.svc.Confirm(ctx, staff, r.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("reinstating over a new booking: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, staff, other.ID, "moved"); err != nil {
		t.Fatal(err)
	}
	back, err := f.svc.Confirm(ctx, staff, r.ID)
	if err != nil || back.Status != model.StatusConfirmed {
		t.Fatalf("reinstate: %+v %v", back, err)
	}
}

func TestPatchRechecksOverlapAndReprices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, staff, stay("R1", "2025-12-12", "2025-12-14"))
	c := f.create(t, staff, stay("R1", "2025-12-14", "2025-12-16"))

	newIn := day("2025-12-13")
	_, err := f.svc.Patch(ctx, staff, c.ID, PatchInput{CheckIn: &newIn})
	codes := conflictCodes(t, err)
	if len(codes) != 1 || codes[0] != a.Code {
		t.Fatalf("codes = %v", codes)
	}

	// shifting within its own old range does not conflict with itself
	in, out := day("2025-12-11"), day("2025-12-14")
	moved, err := f.svc.Patch(ctx, staff, a.ID, PatchInput{CheckIn: &in, CheckOut: &out})
	if err != nil {
		t.Fatal(err)
	}
	if moved.Nights != 3 || moved.TotalCents != 34200 {
		t.Fatalf("moved = nights %d total %d", moved.Nights, moved.TotalCents)
	}

	room := "R2"
	switched, err := f.svc.Patch(ctx, staff, c.ID, PatchInput{RoomID: &room})
	if err != nil {
		t.Fatal(err)
	}
	if switched.RoomID != "R2" || switched.BaseRateCents != 15000 {
		t.Fatalf("switched = %+v", switched)
	}

	adults := 0
	if _, err := f.svc.Patch(ctx, staff, a.ID, PatchInput{Adults: &adults}); !errors.Is(err, ErrValidation) {
		t.Fatalf("adults=0: %v", err)
	}
}

func TestPatchAfterCheckInOnlyExtends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := stay("R1", "2025-12-12", "2025-12-14")
	in.RequiresPrepayment = &noPrepay
	r := f.create(t, staff, in)
	if _, err := f.svc.CheckIn(ctx, staff, r.ID); err != nil {
		t.Fatal(err)
	}
	newIn := day("2025-12-11")
	if _, err := f.svc.Patch(ctx, staff, r.ID, PatchInput{CheckIn: &newIn}); !errors.Is(err, ErrValidation) {
		t.Fatalf("moving check-in: %v", err)
	}
	newOut := day("2025-12-15")
	ext, err := f.svc.Patch(ctx, staff, r.ID, PatchInput{CheckOut: &newOut})
	if err != nil || ext.Nights != 3 {
		t.Fatalf("extend: %+v %v", ext, err)
	}
}

func TestGuestsOnlySeeTheirOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	in := stay("R2", "2025-12-12", "2025-12-14")
	in.GuestID = "g2"
	f.create(t, guest2, in)

	if _, err := f.svc.Get(ctx, guest2, r.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("get: %v", err)
	}
	if _, err := f.svc.GetByCode(ctx, guest2, strings.ToLower(r.Code)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("get by code: %v", err)
	}
	if got, err := f.svc.GetByCode(ctx, guest1, r.Code); err != nil || got.ID != r.ID {
		t.Fatalf("own by code: %v", err)
	}
	list, total, err := f.svc.List(ctx, guest2, model.ReservationFilter{GuestID: "g1"})
	if err != nil || total != 1 || list[0].GuestID != "g2" {
		t.Fatalf("list = %+v total=%d err=%v", list, total, err)
	}
	_, total, _ = f.svc.List(ctx, staff, model.ReservationFilter{})
	if total != 2 {
		t.Fatalf("staff total = %d", total)
	}
	if _, _, err := f.svc.List(ctx, staff, model.ReservationFilter{Status: "LOST"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad status: %v", err)
	}
	if _, err := f.svc.Get(ctx, staff, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestSweeperExpiresUnpaidHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unpaid := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	paid := f.create(t, guest1, stay("R2", "2025-12-12", "2025-12-14"))
	if _, _, err := f.svc.ConfirmPayment(ctx, paid.ID, "pay_2"); err != nil {
		t.Fatal(err)
	}

	sw := NewHoldSweeper(f.store, f.svc, time.Minute, nil)
	sw.now = f.clock.now
	if n, err := sw.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v", n, err)
	}
	f.clock.advance(31 * time.Minute)
	if n, err := sw.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	got := f.store.get(unpaid.ID)
	if got.Status != model.StatusCancelled || !strings.Contains(got.Notes, "payment hold expired") {
		t.Fatalf("unpaid = %+v", got)
	}
	if f.store.get(paid.ID).Status != model.StatusConfirmed {
		t.Fatal("paid reservation must survive")
	}

	// a payment landing after expiry does not resurrect the booking
	h := NewPaymentEventHandler(f.svc, nil)
	env, _ := queue.NewEnvelope(queue.PaymentSucceeded, queue.PaymentEvent{PaymentID: "pay_late", ReservationID: unpaid.ID}, "")
	if err := h.Handle(ctx, env); err != nil {
		t.Fatal(err)
	}
	if f.store.get(unpaid.ID).Status != model.StatusCancelled {
		t.Fatal("late payment changed a cancelled reservation")
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	sw := NewHoldSweeper(f.store, f.svc, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sw.Run(ctx); close(done) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestReservationCodeFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c := NewReservationCode(time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC))
		if !strings.HasPrefix(c, "RSV-20250309-") || len(c) != 17 {
			t.Fatalf("code = %s", c)
		}
		seen[c] = true
	}
	if len(seen) < 45 {
		t.Fatalf("codes not random enough: %d distinct", len(seen))
	}
}

func TestStepPolicy(t *testing.T) {
	calls := 0
	err := StepPolicy{Attempts: 3, Backoff: time.Millisecond}.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}

	calls = 0
	err = StepPolicy{Attempts: 5, Backoff: time.Millisecond}.Run(context.Background(), func(context.Context) error {
		calls++
		return permanent(errBoom)
	})
	if !errors.Is(err, errBoom) || calls != 1 {
		t.Fatalf("permanent: calls=%d err=%v", calls, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = StepPolicy{Attempts: 3, Backoff: time.Hour}.Run(ctx, func(context.Context) error { return errBoom })
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errBoom) {
		t.Fatalf("cancelled: %v", err)
	}
}

func TestQuoteReportsAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := QuoteInput{RoomID: "R1", CheckIn: day("2025-12-12"), CheckOut: day("2025-12-14")}
	q, err := f.svc.Quote(ctx, in)
	if err != nil || !q.Available || len(q.ConflictingCodes) != 0 {
		t.Fatalf("free room: %+v %v", q, err)
	}
	booked := f.create(t, staff, stay("R1", "2025-12-13", "2025-12-15"))
	q, err = f.svc.Quote(ctx, in)
	if err != nil || q.Available || len(q.ConflictingCodes) != 1 || q.ConflictingCodes[0] != booked.Code {
		t.Fatalf("booked room: %+v %v", q, err)
	}
	if q.TotalCents != 22800 {
		t.Fatalf("price still quoted: %+v", q.Quote)
	}
	q, _ = f.svc.Quote(ctx, QuoteInput{RoomID: "R9", CheckIn: day("2025-12-12"), CheckOut: day("2025-12-14")})
	if q.Available {
		t.Fatal("room closed upstream must not be available")
	}
}

func TestCreateKeepsCancelCommittedDuringEnrichment(t *testing.T) {
	f := newFixture(t, withPayments(nil), withContacts(model.ContactDetails{Email: "g1@example.com"}, nil))
	ctx := context.Background()
	f.contacts.during = func() {
		rows, _, _ := f.store.List(ctx, model.ReservationFilter{})
		if _, err := f.svc.Cancel(ctx, staff, rows[0].ID, "guest called"); err != nil {
			t.Errorf("cancel during enrichment: %v", err)
		}
	}
	res, err := f.svc.Create(ctx, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	if err != nil {
		t.Fatal(err)
	}
	stored := f.store.get(res.Reservation.ID)
	if stored.Status != model.StatusCancelled || stored.CancelledAt == nil {
		t.Fatalf("cancel overwritten: status %s cancelled_at %v", stored.Status, stored.CancelledAt)
	}
	if stored.GuestEmail == nil || *stored.GuestEmail != "g1@example.com" {
		t.Fatalf("contact not saved: %v", stored.GuestEmail)
	}
	if res.Reservation.Status != model.StatusCancelled {
		t.Fatalf("result status = %s", res.Reservation.Status)
	}
	// the room stays free
	again := stay("R1", "2025-12-12", "2025-12-14")
	again.RequiresPrepayment = &noPrepay
	f.create(t, staff, again)
}

func TestCreatePassesGuestEmailToIntent(t *testing.T) {
	f := newFixture(t, withPayments(nil), withContacts(model.ContactDetails{Email: "g1@example.com"}, nil))
	f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))
	if f.payments.last.Email != "g1@example.com" {
		t.Fatalf("intent email = %q", f.payments.last.Email)
	}
}

func TestPatchRefusesReservationMovedConcurrently(t *testing.T) {
	var ms *movingStore
	f := newFixture(t, func(d *ReservationDeps, f *fixture) {
		ms = &movingStore{memReservations: f.store}
		d.Store = ms
	})
	ctx := context.Background()
	in := stay("R1", "2025-12-12", "2025-12-14")
	in.RequiresPrepayment = &noPrepay
	r := f.create(t, staff, in)

	moveTo := func(room string) func() {
		return func() {
			row := f.store.get(r.ID)
			row.RoomID = room
			if err := f.store.Update(ctx, &row); err != nil {
				t.Errorf("move: %v", err)
			}
		}
	}
	adults := 3
	ms.arm(moveTo("R2"))
	if _, err := f.svc.Patch(ctx, staff, r.ID, PatchInput{Adults: &adults}); !errors.Is(err, ErrConflict) {
		t.Fatalf("adults-only patch after move: %v", err)
	}

	out := day("2025-12-15")
	ms.arm(moveTo("R1"))
	if _, err := f.svc.Patch(ctx, staff, r.ID, PatchInput{CheckOut: &out}); !errors.Is(err, ErrConflict) {
		t.Fatalf("date patch after move: %v", err)
	}
	if got := f.store.get(r.ID); got.RoomID != "R1" || !got.CheckOut.Equal(day("2025-12-14")) {
		t.Fatalf("row rewritten: room %s check_out %v", got.RoomID, got.CheckOut)
	}

	// a fresh attempt sees the new room and succeeds
	patched, err := f.svc.Patch(ctx, staff, r.ID, PatchInput{Adults: &adults})
	if err != nil || patched.RoomID != "R1" || patched.Adults != 3 {
		t.Fatalf("retry: %+v %v", patched, err)
	}
}

func TestPatchRefusesRepriceWhileIntentExists(t *testing.T) {
	f := newFixture(t, withPayments(nil))
	ctx := context.Background()
	r := f.create(t, guest1, stay("R1", "2025-12-12", "2025-12-14"))

	out := day("2025-12-15")
	_, err := f.svc.Patch(ctx, guest1, r.ID, PatchInput{CheckOut: &out})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("reprice with open intent: %v", err)
	}
	if got := f.store.get(r.ID); got.TotalCents != 22800 || !got.CheckOut.Equal(day("2025-12-14")) {
		t.Fatalf("row changed: %+v", got)
	}
	adults := 1
	if _, err := f.svc.Patch(ctx, guest1, r.ID, PatchInput{Adults: &adults}); err != nil {
		t.Fatalf("price-neutral patch: %v", err)
	}
}
