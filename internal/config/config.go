package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"profitcalc/internal/calculator"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PROFIT_"

type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	ResultCache ResultCacheConfig `yaml:"result_cache"`
	Log         LogConfig         `yaml:"log"`
}

// EngineConfig selects and parameterises the calculation backend.
type EngineConfig struct {
	Selection     calculator.Kind   `yaml:"selection" env:"ENGINE"`
	FallbackOrder []calculator.Kind `yaml:"fallback_order" env:"FALLBACK_ORDER" envSeparator:","`
	CacheEnabled  bool              `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	BatchSize     int               `yaml:"batch_size" env:"BATCH_SIZE"`

	Validation ValidationConfig `yaml:"validation" envPrefix:"VALIDATION_"`
	Formula    WorkbookConfig   `yaml:"formula" envPrefix:"FORMULA_"`
	Bridge     WorkbookConfig   `yaml:"bridge" envPrefix:"BRIDGE_"`
}

type ValidationConfig struct {
	Enabled bool              `yaml:"enabled" env:"ENABLED"`
	Engines []calculator.Kind `yaml:"comparison_engines" env:"ENGINES" envSeparator:","`
	// Tolerance is a fraction: 0.01 flags differences above 1%.
	Tolerance float64 `yaml:"tolerance" env:"TOLERANCE"`
}

// WorkbookConfig locates the spreadsheet document of a document backed
// engine.
type WorkbookConfig struct {
	Path          string `yaml:"workbook" env:"WORKBOOK"`
	CalcSheet     string `yaml:"calc_sheet" env:"CALC_SHEET"`
	ShippingSheet string `yaml:"shipping_sheet" env:"SHIPPING_SHEET"`
}

type ResultCacheConfig struct {
	Enabled  bool          `yaml:"enabled" env:"RESULT_CACHE_ENABLED"`
	Addr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	Password string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"redis_db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"RESULT_CACHE_TTL"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
}

func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Selection:     calculator.KindAuto,
			FallbackOrder: []calculator.Kind{calculator.KindBridge, calculator.KindRule},
			CacheEnabled:  true,
			BatchSize:     100,
			Validation: ValidationConfig{
				Engines:   []calculator.Kind{calculator.KindRule},
				Tolerance: 0.01,
			},
			Formula: WorkbookConfig{
				CalcSheet:     "Calculator",
				ShippingSheet: "Shipping",
			},
			Bridge: WorkbookConfig{
				CalcSheet:     "Calculator",
				ShippingSheet: "Shipping",
			},
		},
		ResultCache: ResultCacheConfig{
			Addr: "localhost:6379",
			TTL:  time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	errs = append(errs, c.Engine.validate()...)

	if c.ResultCache.Enabled {
		if c.ResultCache.Addr == "" {
			errs = append(errs, errors.New("result_cache.redis_addr is required when the cache is enabled"))
		}
		if c.ResultCache.TTL < 0 {
			errs = append(errs, fmt.Errorf("result_cache.ttl must not be negative (got %s)", c.ResultCache.TTL))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func (e EngineConfig) validate() []error {
	var errs []error

	if e.Selection != calculator.KindAuto && !e.Selection.Concrete() {
		errs = append(errs, fmt.Errorf("engine.selection %q is unknown", e.Selection))
	}
	if e.Selection == calculator.KindAuto && len(e.FallbackOrder) == 0 {
		errs = append(errs, errors.New("engine.fallback_order must not be empty when selection is auto"))
	}
	for _, k := range e.FallbackOrder {
		if !k.Concrete() {
			errs = append(errs, fmt.Errorf("engine.fallback_order contains %q", k))
		}
	}
	if e.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("engine.batch_size must be at least 1 (got %d)", e.BatchSize))
	}

	v := e.Validation
	if v.Tolerance < 0 || v.Tolerance > 1 {
		errs = append(errs, fmt.Errorf("engine.validation.tolerance must be within [0, 1] (got %v)", v.Tolerance))
	}
	if v.Enabled && len(v.Engines) == 0 {
		errs = append(errs, errors.New("engine.validation.comparison_engines must not be empty when validation is enabled"))
	}
	for _, k := range v.Engines {
		if !k.Concrete() {
			errs = append(errs, fmt.Errorf("engine.validation.comparison_engines contains %q", k))
		}
	}

	if e.Uses(calculator.KindFormula) && e.Formula.Path == "" {
		errs = append(errs, errors.New("engine.formula.workbook is required when the formula engine is used"))
	}
	if e.Uses(calculator.KindBridge) && e.Bridge.Path == "" {
		errs = append(errs, errors.New("engine.bridge.workbook is required when the bridge engine is used"))
	}
	return errs
}

// Uses reports whether k is selected explicitly or listed as a comparison
// engine. Fallback candidates are not counted.
func (e EngineConfig) Uses(k calculator.Kind) bool {
	if e.Selection == k {
		return true
	}
	return e.Validation.Enabled && slices.Contains(e.Validation.Engines, k)
}

// Identity is a stable key for engines built from this configuration.
func (e EngineConfig) Identity() string {
	join := func(kinds []calculator.Kind) string {
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = string(k)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("sel=%s;order=%s;batch=%d;val=%t;cmp=%s;tol=%g;formula=%s|%s|%s;bridge=%s|%s|%s",
		e.Selection, join(e.FallbackOrder), e.BatchSize,
		e.Validation.Enabled, join(e.Validation.Engines), e.Validation.Tolerance,
		e.Formula.Path, e.Formula.CalcSheet, e.Formula.ShippingSheet,
		e.Bridge.Path, e.Bridge.CalcSheet, e.Bridge.ShippingSheet)
}
