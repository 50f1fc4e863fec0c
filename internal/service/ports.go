package service

import (
	"context"
	"time"

	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/payment"
	"github.com/iliyamo/hotel-reservations/internal/queue"
)

// ReservationStore is implemented by repository.ReservationRepo.
type ReservationStore interface {
	// RunInRoom runs fn while holding the write lock of every room in
	// roomIDs.  Store calls made with the context passed to fn share one
	// transaction that commits when fn returns nil.
	RunInRoom(ctx context.Context, roomIDs []string, fn func(ctx context.Context) error) error
	FindOverlaps(ctx context.Context, q model.OverlapQuery) ([]model.Reservation, error)
	Insert(ctx context.Context, r *model.Reservation) error
	Update(ctx context.Context, r *model.Reservation) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	GetByCode(ctx context.Context, code string) (*model.Reservation, error)
	List(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, int64, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
}

// BillingStore is implemented by repository.BillingRepo.
type BillingStore interface {
	Create(ctx context.Context, b *model.Billing) (created bool, err error)
	Get(ctx context.Context, ref string) (*model.Billing, error)
	List(ctx context.Context, f model.BillingFilter) ([]model.Billing, int64, error)
	Update(ctx context.Context, ref string, fn func(b *model.Billing) error) (*model.Billing, error)
}

// RoomLookup is implemented by rooms.Client.
type RoomLookup interface {
	EnsureRoomExists(ctx context.Context, roomID string) (model.Room, error)
}

// Quoter is implemented by pricing.Engine.
type Quoter interface {
	Calculate(ctx context.Context, roomID string, checkIn, checkOut time.Time, baseRateCents int64, currency, promoCode string) (model.Quote, error)
}

// PaymentPort is implemented by payment.Stripe.
type PaymentPort interface {
	CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error)
}

// ContactLookup is implemented by queue.ContactClient.
type ContactLookup interface {
	GetContactDetails(ctx context.Context, guestID string, timeout time.Duration) (model.ContactDetails, error)
}

// EventPublisher is implemented by queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, env queue.Envelope) error
}
