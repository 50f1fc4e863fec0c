package model

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPendingPayment ReservationStatus = "PENDING_PAYMENT"
	StatusConfirmed      ReservationStatus = "CONFIRMED"
	StatusCancelled      ReservationStatus = "CANCELLED"
	StatusCheckedIn      ReservationStatus = "CHECKED_IN"
	StatusCheckedOut     ReservationStatus = "CHECKED_OUT"
	StatusNoShow         ReservationStatus = "NO_SHOW"
)

// OccupyingStatuses block other bookings of the same room for overlapping dates.
var OccupyingStatuses = []ReservationStatus{StatusPendingPayment, StatusConfirmed, StatusCheckedIn}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed, StatusCancelled,
		StatusCheckedIn, StatusCheckedOut, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCheckedOut
}

// Occupying reports whether s is one of OccupyingStatuses.
func (s ReservationStatus) Occupying() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Action names a requested lifecycle transition.
type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
	ActionNoShow   Action = "no_show"
)

// transitions maps action -> current status -> resulting status.  A
// status that maps onto itself is an accepted no-op (confirming something
// already confirmed or in house).
var transitions = map[Action]map[ReservationStatus]ReservationStatus{
	ActionConfirm: {
		StatusPendingPayment: StatusConfirmed,
		StatusNoShow:         StatusConfirmed,
		StatusConfirmed:      StatusConfirmed,
		StatusCheckedIn:      StatusCheckedIn,
	},
	ActionCancel: {
		StatusPendingPayment: StatusCancelled,
		StatusConfirmed:      StatusCancelled,
		StatusCheckedIn:      StatusCancelled,
		StatusNoShow:         StatusCancelled,
	},
	ActionCheckIn: {
		StatusConfirmed: StatusCheckedIn,
	},
	ActionCheckOut: {
		StatusCheckedIn: StatusCheckedOut,
	},
	ActionNoShow: {
		StatusConfirmed: StatusNoShow,
	},
}

// NextStatus resolves action against from.  ok is false when the
// transition is illegal; noop is true when the reservation is already in
// the state the action would produce.
func NextStatus(from ReservationStatus, action Action) (to ReservationStatus, noop bool, ok bool) {
	to, ok = transitions[action][from]
	if !ok {
		return from, false, false
	}
	return to, to == from, true
}
