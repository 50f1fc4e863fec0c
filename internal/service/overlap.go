package service

import (
	"context"
	"time"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

// OverlapGuard answers "is this room free for these nights?" and, when it
// is not, which reservations are in the way.  It only reads; callers that
// write afterwards must run it inside ReservationStore.RunInRoom.
type OverlapGuard struct {
	store ReservationStore
}

func NewOverlapGuard(store ReservationStore) *OverlapGuard { return &OverlapGuard{store: store} }

// FindOverlaps returns the conflicting reservations.  statuses defaults to
// the occupying set; excludeID (0 for none) skips the reservation being
// changed.
func (g *OverlapGuard) FindOverlaps(ctx context.Context, roomID string, checkIn, checkOut time.Time, excludeID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error) {
	if len(statuses) == 0 {
		statuses = model.OccupyingStatuses
	}
	checkIn, checkOut = model.NormalizeDate(checkIn), model.NormalizeDate(checkOut)
	found, err := g.store.FindOverlaps(ctx, model.OverlapQuery{
		RoomID:    roomID,
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		ExcludeID: excludeID,
		Statuses:  statuses,
	})
	if err != nil {
		return nil, err
	}
	// the store filters already; re-checking keeps the half-open rule in
	// one place for every store implementation
	out := found[:0]
	for _, r := range found {
		if r.ID != excludeID && model.RangesOverlap(r.CheckIn, r.CheckOut, checkIn, checkOut) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Available is FindOverlaps reduced to a boolean plus the conflict set.
func (g *OverlapGuard) Available(ctx context.Context, roomID string, checkIn, checkOut time.Time, excludeID uint64) (bool, []model.Reservation, error) {
	conflicts, err := g.FindOverlaps(ctx, roomID, checkIn, checkOut, excludeID)
	if err != nil {
		return false, nil, err
	}
	return len(conflicts) == 0, conflicts, nil
}

// conflictError names the reservations that block a request.
func conflictError(conflicts []model.Reservation) *Error {
	codes := make([]string, 0, len(conflicts))
	for _, r := range conflicts {
		codes = append(codes, r.Code)
	}
	return conflict("room is already booked for the requested dates", map[string]any{"conflicting_codes": codes})
}
