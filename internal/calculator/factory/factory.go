// Package factory builds calculation engines from configuration. It picks a
// backend, falls back when automatic selection cannot build one, wraps the
// result for validation and result caching, and caches built engines.
package factory

import (
	"errors"
	"fmt"
	"sync"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/bridge"
	"profitcalc/internal/calculator/cache"
	"profitcalc/internal/calculator/formula"
	"profitcalc/internal/calculator/rules"
	"profitcalc/internal/calculator/validation"
	"profitcalc/internal/config"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Name identifies the factory in construction errors.
const Name = "engine_factory"

// Builder constructs one backend.
type Builder func(cfg config.EngineConfig, logger *zap.Logger) (calculator.Engine, error)

type Factory struct {
	mu       sync.Mutex
	cache    map[string]calculator.Engine
	builders map[calculator.Kind]Builder

	// available reports whether a backend can run on this platform, and why
	// not.
	available func(calculator.Kind) (bool, string)
	store     cache.Store
	logger    *zap.Logger
}

type Option func(*Factory)

// WithBuilder replaces the constructor of one backend.
func WithBuilder(kind calculator.Kind, b Builder) Option {
	return func(f *Factory) { f.builders[kind] = b }
}

// WithAvailability replaces the platform check used by automatic selection.
func WithAvailability(fn func(calculator.Kind) (bool, string)) Option {
	return func(f *Factory) { f.available = fn }
}

// WithResultStore wraps every built engine in a result cache backed by s.
func WithResultStore(s cache.Store) Option {
	return func(f *Factory) { f.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

func New(opts ...Option) *Factory {
	f := &Factory{
		cache: make(map[string]calculator.Engine),
		builders: map[calculator.Kind]Builder{
			calculator.KindRule:    buildRule,
			calculator.KindFormula: buildFormula,
			calculator.KindBridge:  buildBridge,
		},
		available: platformAvailable,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func platformAvailable(k calculator.Kind) (bool, string) {
	if k == calculator.KindBridge && !bridge.Supported() {
		return false, bridge.ErrUnsupportedPlatform.Error()
	}
	return true, ""
}

func buildRule(_ config.EngineConfig, logger *zap.Logger) (calculator.Engine, error) {
	return rules.New(logger), nil
}

func buildFormula(cfg config.EngineConfig, logger *zap.Logger) (calculator.Engine, error) {
	return formula.New(formula.Config{
		WorkbookPath:  cfg.Formula.Path,
		CalcSheet:     cfg.Formula.CalcSheet,
		ShippingSheet: cfg.Formula.ShippingSheet,
	}, logger)
}

func buildBridge(cfg config.EngineConfig, logger *zap.Logger) (calculator.Engine, error) {
	return bridge.New(bridge.Config{
		WorkbookPath:  cfg.Bridge.Path,
		CalcSheet:     cfg.Bridge.CalcSheet,
		ShippingSheet: cfg.Bridge.ShippingSheet,
	}, logger)
}

type createOptions struct {
	forceNew bool
}

type CreateOption func(*createOptions)

// ForceNew builds a fresh engine even when an equal configuration is cached.
// The fresh engine is not cached; the caller owns it and must Close it.
func ForceNew() CreateOption {
	return func(o *createOptions) { o.forceNew = true }
}

// CreateEngine returns an engine for cfg. With cfg.CacheEnabled the engine is
// cached under cfg.Identity() and owned by the factory: callers must not
// Close it, ClearCache does. Otherwise the caller owns the engine.
func (f *Factory) CreateEngine(cfg config.EngineConfig, opts ...CreateOption) (calculator.Engine, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := cfg.Identity()
	useCache := cfg.CacheEnabled && !o.forceNew
	if useCache {
		if e, ok := f.cache[key]; ok {
			f.logger.Debug("Engine served from factory cache", zap.String("engine", e.EngineInfo().Name))
			return e, nil
		}
	}

	e, err := f.build(cfg)
	if err != nil {
		return nil, err
	}
	if useCache {
		f.cache[key] = e
	}
	return e, nil
}

// ClearCache closes every cached engine and empties the cache.
func (f *Factory) ClearCache() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for key, e := range f.cache {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.EngineInfo().Name, err))
		}
		delete(f.cache, key)
	}
	f.logger.Debug("Factory cache cleared", zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// Cached reports the number of cached engines.
func (f *Factory) Cached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}

func (f *Factory) build(cfg config.EngineConfig) (calculator.Engine, error) {
	primary, err := f.resolve(cfg)
	if err != nil {
		return nil, err
	}

	engine := primary
	if cfg.Validation.Enabled {
		comparisons, err := f.buildComparisons(cfg)
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		v, err := validation.New(primary, comparisons, cfg.Validation.Tolerance, f.logger)
		if err != nil {
			closeAll(append(comparisons, primary))
			return nil, err
		}
		engine = v
	}

	if f.store != nil {
		engine = cache.New(engine, f.store, f.logger, cache.WithNamespace(ResultNamespace(engine.EngineInfo(), cfg)))
	}

	info := engine.EngineInfo()
	f.logger.Info("Engine created",
		zap.String("engine", info.Name),
		zap.String("kind", info.Kind.String()),
		zap.Strings("capabilities", info.Capabilities))
	return engine, nil
}

// ResultNamespace keys cached results by the engine name and the whole
// configuration that built it, so engines from different configurations
// never read each other's results from a shared store.
func ResultNamespace(info calculator.Info, cfg config.EngineConfig) string {
	return fmt.Sprintf("%s@%016x", info.Name, xxhash.Sum64String(cfg.Identity()))
}

// resolve builds the primary backend. An explicit selection is built or
// fails; automatic selection walks the fallback order.
func (f *Factory) resolve(cfg config.EngineConfig) (calculator.Engine, error) {
	if cfg.Selection != calculator.KindAuto {
		return f.buildKind(cfg.Selection, cfg)
	}

	var errs []error
	for _, c := range f.candidates(cfg) {
		if ok, reason := c.available(); !ok {
			f.logger.Info("Skipping engine",
				zap.String("kind", c.kind.String()),
				zap.String("reason", reason))
			errs = append(errs, fmt.Errorf("%s: %s", c.kind, reason))
			continue
		}

		e, err := c.build()
		if err != nil {
			f.logger.Warn("Engine construction failed, falling back",
				zap.String("kind", c.kind.String()),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}

		f.logger.Info("Engine selected automatically",
			zap.String("kind", c.kind.String()),
			zap.Int("skipped", len(errs)))
		return e, nil
	}
	return nil, calculator.NewConstructionError(Name,
		fmt.Errorf("no engine in fallback order could be built: %w", errors.Join(errs...)))
}

type candidate struct {
	kind      calculator.Kind
	available func() (bool, string)
	build     func() (calculator.Engine, error)
}

func (f *Factory) candidates(cfg config.EngineConfig) []candidate {
	out := make([]candidate, 0, len(cfg.FallbackOrder))
	for _, k := range cfg.FallbackOrder {
		out = append(out, candidate{
			kind:      k,
			available: func() (bool, string) { return f.available(k) },
			build:     func() (calculator.Engine, error) { return f.buildKind(k, cfg) },
		})
	}
	return out
}

func (f *Factory) buildKind(k calculator.Kind, cfg config.EngineConfig) (calculator.Engine, error) {
	b, ok := f.builders[k]
	if !ok {
		return nil, calculator.NewConstructionError(Name, fmt.Errorf("unknown engine %q", k))
	}
	e, err := b(cfg, f.logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (f *Factory) buildComparisons(cfg config.EngineConfig) ([]calculator.Engine, error) {
	out := make([]calculator.Engine, 0, len(cfg.Validation.Engines))
	for _, k := range cfg.Validation.Engines {
		e, err := f.buildKind(k, cfg)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("comparison engine %s: %w", k, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func closeAll(engines []calculator.Engine) {
	for _, e := range engines {
		_ = e.Close()
	}
}
