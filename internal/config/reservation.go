package config

import "time"

// ReservationConfig controls the reservation workflow.
type ReservationConfig struct {
	RequirePrepayment bool          // default for requests that do not say
	HoldTTL           time.Duration // how long PENDING_PAYMENT holds the room
	SweepInterval     time.Duration // hold sweeper tick; 0 disables the sweeper
	DefaultSource     string
	PaymentProvider   string        // provider name recorded on reservations
	StepAttempts      int           // retries for payment intent and contact steps
	StepBackoff       time.Duration // first delay between attempts, doubled each time
}

func LoadReservationConfig() ReservationConfig {
	attempts := envInt("RESERVATION_STEP_ATTEMPTS", 3)
	if attempts < 1 {
		attempts = 1
	}
	return ReservationConfig{
		RequirePrepayment: envBool("RESERVATION_REQUIRE_PREPAYMENT", true),
		HoldTTL:           envDur("RESERVATION_HOLD_TTL", 30*time.Minute),
		SweepInterval:     envDur("RESERVATION_SWEEP_INTERVAL", time.Minute),
		DefaultSource:     envStr("RESERVATION_DEFAULT_SOURCE", "direct"),
		PaymentProvider:   envStr("PAYMENT_PROVIDER", "stripe"),
		StepAttempts:      attempts,
		StepBackoff:       envDur("RESERVATION_STEP_BACKOFF", 200*time.Millisecond),
	}
}
