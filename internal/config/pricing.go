package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig carries the operator-tunable overage pricing tables.
// Meter keys map to a unit price and optional tier table, both in minor
// currency units.
type PricingConfig struct {
	Currency string `mapstructure:"currency"`

	// FlagUnbilledHardCap controls what happens when a HARD-enforced
	// policy has overage billing NONE and usage exceeds the cap:
	// true surfaces a flagged zero-amount line item (invoice stays
	// DRAFT for review), false allows the overage silently.
	FlagUnbilledHardCap bool `mapstructure:"flagUnbilledHardCap"`

	Meters map[string]MeterPricing `mapstructure:"meters"`
}

// MeterPricing prices one meter's overage.
type MeterPricing struct {
	UnitPriceMinor int64       `mapstructure:"unitPriceMinor"`
	Tiers          []TierPrice `mapstructure:"tiers"`
}

// TierPrice is one ascending tier boundary. UpTo is the cumulative
// quantity ceiling for the tier; the last tier's rate applies to any
// remainder above the highest boundary.
type TierPrice struct {
	UpTo           int64 `mapstructure:"upTo"`
	UnitPriceMinor int64 `mapstructure:"unitPriceMinor"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency:            "USD",
		FlagUnbilledHardCap: true,
		Meters:              map[string]MeterPricing{},
	}
}

// PricingHolder hot-reloads the pricing file without restarting the
// scheduler.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/meterline/config")
	v.AddConfigPath("/etc/meterline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultPricingConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		if err := v.UnmarshalKey("overage", &cfg); err != nil {
			return nil, err
		}
		if err := validatePricingConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPricingConfig()
		if err := v.UnmarshalKey("overage", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Store replaces the held config. Intended for tests.
func (h *PricingHolder) Store(cfg PricingConfig) {
	h.current.Store(cfg)
}

func validatePricingConfig(cfg PricingConfig) error {
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("overage.currency cannot be empty")
	}
	for meter, pricing := range cfg.Meters {
		if pricing.UnitPriceMinor < 0 {
			return errors.New("overage.meters." + meter + ".unitPriceMinor cannot be negative")
		}
		var prev int64
		for _, tier := range pricing.Tiers {
			if tier.UpTo <= prev {
				return errors.New("overage.meters." + meter + ".tiers must have ascending upTo boundaries")
			}
			if tier.UnitPriceMinor < 0 {
				return errors.New("overage.meters." + meter + ".tiers unit price cannot be negative")
			}
			prev = tier.UpTo
		}
	}
	return nil
}
