package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ModelPolicy caps one model's call volume and spend for a calendar day.
type ModelPolicy struct {
	ModelID          string  `mapstructure:"modelId"`
	RequestsPerMin   float64 `mapstructure:"requestsPerMin"`
	TokensPerDay     int64   `mapstructure:"tokensPerDay"`
	DailyCostCeiling float64 `mapstructure:"dailyCostCeiling"`
	// UnitPricePer1K is the estimated cost per 1,000 tokens, in cost units.
	UnitPricePer1K float64 `mapstructure:"unitPricePer1K"`
}

type ModelCatalog struct {
	Models []ModelPolicy `mapstructure:"models"`
}

func (c ModelCatalog) Lookup(modelID string) (ModelPolicy, bool) {
	for _, m := range c.Models {
		if m.ModelID == modelID {
			return m, true
		}
	}
	return ModelPolicy{}, false
}

func DefaultModelCatalog() ModelCatalog {
	return ModelCatalog{
		Models: []ModelPolicy{
			{
				ModelID:          "claude-sonnet-4-20250514",
				RequestsPerMin:   30,
				TokensPerDay:     2_000_000,
				DailyCostCeiling: 50,
				UnitPricePer1K:   0.015,
			},
			{
				ModelID:          "gpt-4o",
				RequestsPerMin:   30,
				TokensPerDay:     2_000_000,
				DailyCostCeiling: 50,
				UnitPricePer1K:   0.01,
			},
		},
	}
}

type ModelCatalogHolder struct {
	current atomic.Value // holds ModelCatalog
}

func NewModelCatalogHolder() (*ModelCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("models")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/planforge/config")
	v.AddConfigPath("/etc/planforge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PLANFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultModelCatalog()
		v.SetDefault("catalog.models", defaults.Models)
	}

	var cfg ModelCatalog
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return nil, err
	}
	if err := validateModelCatalog(cfg); err != nil {
		return nil, err
	}

	holder := &ModelCatalogHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ModelCatalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Printf("[model-catalog] reload failed: %v", err)
			return
		}
		if err := validateModelCatalog(updated); err != nil {
			log.Printf("[model-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[model-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

func NewModelCatalogHolderFrom(cfg ModelCatalog) *ModelCatalogHolder {
	holder := &ModelCatalogHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ModelCatalogHolder) Get() ModelCatalog {
	return h.current.Load().(ModelCatalog)
}

func validateModelCatalog(cfg ModelCatalog) error {
	if len(cfg.Models) == 0 {
		return errors.New("catalog.models cannot be empty")
	}
	for _, m := range cfg.Models {
		if strings.TrimSpace(m.ModelID) == "" {
			return errors.New("catalog.models entry missing modelId")
		}
		if m.UnitPricePer1K < 0 {
			return errors.New("catalog.models unitPricePer1K cannot be negative")
		}
	}
	return nil
}
