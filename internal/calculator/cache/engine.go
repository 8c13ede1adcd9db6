// Package cache memoises profit results of an engine in an external store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"profitcalc/internal/calculator"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// DiagnosticKey marks whether a result was served from the store.
const DiagnosticKey = "cache_hit"

// Store is a JSON key/value store such as pkg/redis.Client.
type Store interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// Engine decorates another engine with a result cache. Store failures are
// logged and the calculation falls through to the wrapped engine. Diagnostic
// values of cached results come back JSON decoded.
type Engine struct {
	inner     calculator.Engine
	store     Store
	namespace string
	logger    *zap.Logger
}

type Option func(*Engine)

// WithNamespace sets the key namespace. Engines sharing a store must use
// distinct namespaces unless they compute identical results.
func WithNamespace(ns string) Option {
	return func(e *Engine) { e.namespace = ns }
}

func New(inner calculator.Engine, store Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	info := inner.EngineInfo()
	e := &Engine{
		inner:     inner,
		store:     store,
		namespace: Namespace(info),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.With(zap.String("engine", info.Name), zap.String("namespace", e.namespace))
	return e
}

// Namespace is the default key namespace of an engine: its name plus a hash
// of every detail it reports, so wrappers over different engines, documents
// or tolerances never share keys.
func Namespace(info calculator.Info) string {
	if len(info.Details) == 0 {
		return info.Name
	}
	h := xxhash.New()
	for _, k := range slices.Sorted(maps.Keys(info.Details)) {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(info.Details[k])
		_, _ = h.WriteString(";")
	}
	return fmt.Sprintf("%s@%016x", info.Name, h.Sum64())
}

// Key is the store key of in within an engine namespace.
func Key(namespace string, in calculator.Input) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("profit:%s:%016x", namespace, xxhash.Sum64(data)), nil
}

func (e *Engine) CalculateProfit(ctx context.Context, in calculator.Input) (calculator.Result, error) {
	if err := in.Validate(); err != nil {
		return calculator.Result{}, err
	}

	key, cached, ok := e.lookup(ctx, in)
	if ok {
		return cached, nil
	}

	res, err := e.inner.CalculateProfit(ctx, in)
	if err != nil {
		return calculator.Result{}, err
	}
	e.save(ctx, key, res)
	return res.WithDiagnostic(DiagnosticKey, false), nil
}

// CalculateBatch serves hits from the store and hands the misses to the
// wrapped engine, in one native batch when it supports that.
func (e *Engine) CalculateBatch(ctx context.Context, inputs []calculator.Input) []calculator.BatchItem {
	items := make([]calculator.BatchItem, len(inputs))
	keys := make([]string, len(inputs))
	var missIdx []int
	var missIn []calculator.Input

	for i, in := range inputs {
		items[i] = calculator.BatchItem{Index: i, Input: in}
		if err := in.Validate(); err != nil {
			items[i].Err = err
			continue
		}
		key, cached, ok := e.lookup(ctx, in)
		keys[i] = key
		if ok {
			items[i].Result = cached
			continue
		}
		missIdx = append(missIdx, i)
		missIn = append(missIn, in)
	}

	if len(missIn) == 0 {
		return items
	}

	var computed []calculator.BatchItem
	if native, ok := e.inner.(calculator.BatchCalculator); ok {
		computed = native.CalculateBatch(ctx, missIn)
	} else {
		computed = calculator.CalculateSequential(ctx, e.inner, missIn)
	}
	for j, c := range computed {
		i := missIdx[j]
		if c.Err != nil {
			items[i].Err = c.Err
			continue
		}
		e.save(ctx, keys[i], c.Result)
		items[i].Result = c.Result.WithDiagnostic(DiagnosticKey, false)
	}
	return items
}

// lookup returns the key for in and the cached result if there is one.
func (e *Engine) lookup(ctx context.Context, in calculator.Input) (string, calculator.Result, bool) {
	key, err := Key(e.namespace, in)
	if err != nil {
		e.logger.Warn("Failed to build cache key", zap.Error(err))
		return "", calculator.Result{}, false
	}

	var res calculator.Result
	found, err := e.store.GetJSON(ctx, key, &res)
	if err != nil {
		e.logger.Warn("Result cache unavailable, calculating directly", zap.String("key", key), zap.Error(err))
		return key, calculator.Result{}, false
	}
	if !found {
		return key, calculator.Result{}, false
	}
	e.logger.Debug("Result cache hit", zap.String("key", key))
	return key, res.WithDiagnostic(DiagnosticKey, true), true
}

func (e *Engine) save(ctx context.Context, key string, res calculator.Result) {
	if key == "" {
		return
	}
	if err := e.store.SetJSON(ctx, key, res); err != nil {
		e.logger.Warn("Failed to store result", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) CalculateShipping(ctx context.Context, weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) (float64, error) {
	return e.inner.CalculateShipping(ctx, weight, dims, listPrice, dt)
}

func (e *Engine) ValidateConnection(ctx context.Context) bool {
	return e.inner.ValidateConnection(ctx)
}

func (e *Engine) EngineInfo() calculator.Info {
	info := e.inner.EngineInfo()
	caps := append([]string{}, info.Capabilities...)
	for _, c := range []string{calculator.CapabilityCache, calculator.CapabilityBatch} {
		if !slices.Contains(caps, c) {
			caps = append(caps, c)
		}
	}
	info.Capabilities = caps
	return info
}

// Unwrap returns the decorated engine.
func (e *Engine) Unwrap() calculator.Engine { return e.inner }

// Close closes the wrapped engine. The store is owned by the caller.
func (e *Engine) Close() error { return e.inner.Close() }

var (
	_ calculator.Engine          = (*Engine)(nil)
	_ calculator.BatchCalculator = (*Engine)(nil)
)
