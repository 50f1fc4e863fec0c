package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/payment"
	"github.com/iliyamo/hotel-reservations/internal/queue"
	"github.com/iliyamo/hotel-reservations/internal/repository"
	"github.com/iliyamo/hotel-reservations/internal/rooms"
)

type lockedKey struct{}

// memReservations is an in-memory ReservationStore.  RunInRoom takes one
// mutex per room, in sorted order, like the MySQL row locks do.
type memReservations struct {
	mu     sync.Mutex
	rooms  map[string]*sync.Mutex
	rows   map[uint64]model.Reservation
	nextID uint64
}

func newMemReservations() *memReservations {
	return &memReservations{rooms: map[string]*sync.Mutex{}, rows: map[uint64]model.Reservation{}}
}

func (m *memReservations) roomLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rooms[id]
	if !ok {
		l = &sync.Mutex{}
		m.rooms[id] = l
	}
	return l
}

func (m *memReservations) RunInRoom(ctx context.Context, roomIDs []string, fn func(ctx context.Context) error) error {
	if ctx.Value(lockedKey{}) != nil {
		return fn(ctx)
	}
	ids := append([]string(nil), roomIDs...)
	sort.Strings(ids)
	prev := ""
	for _, id := range ids {
		if id == prev {
			continue
		}
		prev = id
		l := m.roomLock(id)
		l.Lock()
		defer l.Unlock()
	}
	return fn(context.WithValue(ctx, lockedKey{}, true))
}

func (m *memReservations) FindOverlaps(_ context.Context, q model.OverlapQuery) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, r := range m.rows {
		if r.RoomID != q.RoomID || r.ID == q.ExcludeID {
			continue
		}
		match := false
		for _, s := range q.Statuses {
			if r.Status == s {
				match = true
			}
		}
		if match && r.CheckIn.Before(q.CheckOut) && r.CheckOut.After(q.CheckIn) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memReservations) Insert(_ context.Context, r *model.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.rows {
		if x.Code == r.Code {
			return repository.ErrDuplicate
		}
	}
	m.nextID++
	r.ID = m.nextID
	m.rows[r.ID] = *r
	return nil
}

func (m *memReservations) Update(_ context.Context, r *model.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; !ok {
		return repository.ErrNotFound
	}
	m.rows[r.ID] = *r
	return nil
}

func (m *memReservations) GetByID(_ context.Context, id uint64) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *memReservations) GetByCode(_ context.Context, code string) (*model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Code == code {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memReservations) List(_ context.Context, f model.ReservationFilter) ([]model.Reservation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Reservation{}
	for _, r := range m.rows {
		if f.GuestID != "" && r.GuestID != f.GuestID {
			continue
		}
		if f.RoomID != "" && r.RoomID != f.RoomID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(r.Code, f.Search) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memReservations) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, r := range m.rows {
		if r.Status == model.StatusPendingPayment && r.HoldExpiresAt != nil && !r.HoldExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memReservations) get(id uint64) model.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

// memBilling is an in-memory BillingStore.  Update works on a copy so an
// error from fn leaves the stored record untouched.
type memBilling struct {
	mu      sync.Mutex
	records map[string]model.Billing
	nextID  uint64
}

func newMemBilling() *memBilling { return &memBilling{records: map[string]model.Billing{}} }

func cloneBilling(b model.Billing) model.Billing {
	b.Ledger = append([]model.LedgerEntry(nil), b.Ledger...)
	return b
}

func (m *memBilling) assignIDs(b *model.Billing) {
	for i := range b.Ledger {
		if b.Ledger[i].ID == 0 {
			m.nextID++
			b.Ledger[i].ID = m.nextID
			b.Ledger[i].BillingID = b.ID
		}
	}
}

func (m *memBilling) Create(_ context.Context, b *model.Billing) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[b.PaymentRef]; ok {
		return false, nil
	}
	m.nextID++
	b.ID = m.nextID
	m.assignIDs(b)
	m.records[b.PaymentRef] = cloneBilling(*b)
	return true, nil
}

func (m *memBilling) Get(_ context.Context, ref string) (*model.Billing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.records[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneBilling(b)
	return &c, nil
}

func (m *memBilling) List(_ context.Context, f model.BillingFilter) ([]model.Billing, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Billing{}
	for _, b := range m.records {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.ReservationID != 0 && b.ReservationID != f.ReservationID {
			continue
		}
		b.Ledger = nil
		out = append(out, b)
	}
	return out, int64(len(out)), nil
}

func (m *memBilling) Update(_ context.Context, ref string, fn func(b *model.Billing) error) (*model.Billing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.records[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cloneBilling(b)
	if err := fn(&c); err != nil {
		return nil, err
	}
	m.assignIDs(&c)
	m.records[ref] = cloneBilling(c)
	return &c, nil
}

// movingStore runs before once, ahead of the next RunInRoom, to simulate
// a write that lands between a caller's first read and its locked section.
type movingStore struct {
	*memReservations
	mu     sync.Mutex
	before func()
}

func (m *movingStore) arm(fn func()) {
	m.mu.Lock()
	m.before = fn
	m.mu.Unlock()
}

func (m *movingStore) RunInRoom(ctx context.Context, roomIDs []string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	before := m.before
	m.before = nil
	m.mu.Unlock()
	if before != nil {
		before()
	}
	return m.memReservations.RunInRoom(ctx, roomIDs, fn)
}

type fakeRooms map[string]model.Room

func (f fakeRooms) EnsureRoomExists(_ context.Context, id string) (model.Room, error) {
	r, ok := f[id]
	if !ok {
		return model.Room{}, rooms.ErrRoomNotFound
	}
	return r, nil
}

type fakePayments struct {
	mu    sync.Mutex
	calls int
	last  payment.IntentRequest
	err   error
}

func (f *fakePayments) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return payment.Intent{}, f.err
	}
	return payment.Intent{ID: "pi_" + req.ReservationCode, ClientSecret: "secret_" + req.ReservationCode}, nil
}

type fakeContacts struct {
	details model.ContactDetails
	err     error
	calls   int
	// during runs inside the lookup, before it answers
	during func()
}

func (f *fakeContacts) GetContactDetails(context.Context, string, time.Duration) (model.ContactDetails, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return f.details, f.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []queue.Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, env queue.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *recordingPublisher) events() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, 0, len(p.sent))
	for _, e := range p.sent {
		out = append(out, e.Event)
	}
	return out
}

var errBoom = errors.New("boom")
