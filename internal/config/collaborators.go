package config

import "time"

// CollaboratorsConfig points at the services the reservation core calls
// synchronously.
type CollaboratorsConfig struct {
	RoomsURL        string
	RoomsTimeout    time.Duration
	StripeSecretKey string // empty disables the payment port
}

func LoadCollaboratorsConfig() CollaboratorsConfig {
	return CollaboratorsConfig{
		RoomsURL:        must("ROOMS_SERVICE_URL"),
		RoomsTimeout:    envDur("ROOMS_SERVICE_TIMEOUT", 3*time.Second),
		StripeSecretKey: envStr("STRIPE_SECRET_KEY", ""),
	}
}
