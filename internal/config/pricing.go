package config

import (
	"log"
	"strconv"
	"strings"
	"time"
)

// PricingConfig holds the tunables of the pricing engine.  Rates are
// fractions (0.12 == 12%).
type PricingConfig struct {
	HighSeasonMonths     []time.Month
	LowSeasonMonths      []time.Month
	HighSeasonMultiplier float64
	LowSeasonMultiplier  float64
	HighDemandThreshold  float64
	LowDemandThreshold   float64
	HighDemandMultiplier float64
	LowDemandMultiplier  float64
	TaxRate              float64
	FeeRate              float64
	Promos               map[string]float64 // upper-case code -> discount fraction
	DefaultCurrency      string
}

// LoadPricingConfig reads PRICING_* variables.  PRICING_PROMOS is a comma
// separated list of CODE:PERCENT pairs, e.g. "WELCOME10:10,VIP:15".
func LoadPricingConfig() PricingConfig {
	return PricingConfig{
		HighSeasonMonths:     parseMonths("PRICING_HIGH_SEASON_MONTHS", "6,7,8"),
		LowSeasonMonths:      parseMonths("PRICING_LOW_SEASON_MONTHS", "1,2"),
		HighSeasonMultiplier: envFloat("PRICING_HIGH_SEASON_MULTIPLIER", 1.25),
		LowSeasonMultiplier:  envFloat("PRICING_LOW_SEASON_MULTIPLIER", 0.85),
		HighDemandThreshold:  envFloat("PRICING_HIGH_DEMAND_THRESHOLD", 0.8),
		LowDemandThreshold:   envFloat("PRICING_LOW_DEMAND_THRESHOLD", 0.4),
		HighDemandMultiplier: envFloat("PRICING_HIGH_DEMAND_MULTIPLIER", 1.3),
		LowDemandMultiplier:  envFloat("PRICING_LOW_DEMAND_MULTIPLIER", 0.9),
		TaxRate:              envFloat("PRICING_TAX_RATE", 0.12),
		FeeRate:              envFloat("PRICING_FEE_RATE", 0.02),
		Promos:               parsePromos(envStr("PRICING_PROMOS", "WELCOME10:10")),
		DefaultCurrency:      strings.ToUpper(envStr("DEFAULT_CURRENCY", "USD")),
	}
}

func parseMonths(key, def string) []time.Month {
	var out []time.Month
	for _, p := range envList(key, def) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 12 {
			log.Fatalf("invalid month %q in %s", p, key)
		}
		out = append(out, time.Month(n))
	}
	return out
}

func parsePromos(s string) map[string]float64 {
	out := map[string]float64{}
	for _, p := range strings.Split(s, ",") {
		code, pct, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || code == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || v <= 0 || v >= 100 {
			log.Fatalf("invalid promo percentage %q for %s", pct, code)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = v / 100
	}
	return out
}
