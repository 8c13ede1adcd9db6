package factory

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/cache"
	"profitcalc/internal/calculator/formula"
	"profitcalc/internal/calculator/rules"
	"profitcalc/internal/calculator/validation"
	"profitcalc/internal/calculator/workbook"
	"profitcalc/internal/config"
	"profitcalc/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var sample = calculator.Input{
	ListPrice: 2000, PurchasePrice: 800, CommissionRate: 15,
	Weight: 500, Length: 10, Width: 10, Height: 10, DeliveryType: calculator.Pickup,
}

type trackedEngine struct {
	*rules.Engine
	closed atomic.Bool
}

func (e *trackedEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// counter counts constructions of one backend and hands out tracked engines.
type counter struct {
	built   atomic.Int32
	err     error
	engines []*trackedEngine
}

func (c *counter) build(config.EngineConfig, *zap.Logger) (calculator.Engine, error) {
	c.built.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	e := &trackedEngine{Engine: rules.New(nil)}
	c.engines = append(c.engines, e)
	return e, nil
}

func ruleConfig() config.EngineConfig {
	cfg := config.Defaults().Engine
	cfg.Selection = calculator.KindRule
	return cfg
}

func bridgeless(k calculator.Kind) (bool, string) {
	if k == calculator.KindBridge {
		return false, "not supported here"
	}
	return true, ""
}

func TestCreateEngine_CachedByIdentity(t *testing.T) {
	rule := &counter{}
	f := New(WithBuilder(calculator.KindRule, rule.build))

	a, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)
	b, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.EqualValues(t, 1, rule.built.Load())
	assert.Equal(t, 1, f.Cached())

	other := ruleConfig()
	other.BatchSize = 7
	c, err := f.CreateEngine(other)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, f.Cached())
}

func TestCreateEngine_ForceNewBypassesCache(t *testing.T) {
	rule := &counter{}
	f := New(WithBuilder(calculator.KindRule, rule.build))

	a, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)
	b, err := f.CreateEngine(ruleConfig(), ForceNew())
	require.NoError(t, err)
	defer b.Close()

	assert.NotSame(t, a, b)
	assert.Equal(t, 1, f.Cached())

	c, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)
	assert.Same(t, a, c)
}

func TestCreateEngine_CacheDisabled(t *testing.T) {
	cfg := ruleConfig()
	cfg.CacheEnabled = false
	f := New()

	a, err := f.CreateEngine(cfg)
	require.NoError(t, err)
	b, err := f.CreateEngine(cfg)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Zero(t, f.Cached())
}

func TestClearCache_ClosesEngines(t *testing.T) {
	rule := &counter{}
	f := New(WithBuilder(calculator.KindRule, rule.build))

	a, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)
	require.NoError(t, f.ClearCache())

	require.Len(t, rule.engines, 1)
	assert.True(t, rule.engines[0].closed.Load())
	assert.Zero(t, f.Cached())

	b, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

type failingClose struct{ *rules.Engine }

func (failingClose) Close() error { return errors.New("stuck") }

func TestClearCache_JoinsCloseErrors(t *testing.T) {
	f := New(WithBuilder(calculator.KindRule, func(config.EngineConfig, *zap.Logger) (calculator.Engine, error) {
		return failingClose{rules.New(nil)}, nil
	}))
	_, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)

	err = f.ClearCache()
	assert.ErrorContains(t, err, "stuck")
	assert.Zero(t, f.Cached())
}

func TestCreateEngine_AutoSkipsUnsupportedBridge(t *testing.T) {
	bridge := &counter{}
	f := New(
		WithAvailability(bridgeless),
		WithBuilder(calculator.KindBridge, bridge.build),
	)

	e, err := f.CreateEngine(config.Defaults().Engine)
	require.NoError(t, err)
	assert.Equal(t, rules.Name, e.EngineInfo().Name)
	assert.Zero(t, bridge.built.Load())
}

func TestCreateEngine_AutoFallsBackOnConstructionFailure(t *testing.T) {
	bridge := &counter{err: calculator.NewConstructionError("bridge_engine", errors.New("no spreadsheet application"))}
	rule := &counter{}
	f := New(
		WithAvailability(func(calculator.Kind) (bool, string) { return true, "" }),
		WithBuilder(calculator.KindBridge, bridge.build),
		WithBuilder(calculator.KindRule, rule.build),
	)

	_, err := f.CreateEngine(config.Defaults().Engine)
	require.NoError(t, err)
	assert.EqualValues(t, 1, bridge.built.Load())
	assert.EqualValues(t, 1, rule.built.Load())
}

func TestCreateEngine_AutoWithoutViableCandidate(t *testing.T) {
	cfg := config.Defaults().Engine
	cfg.FallbackOrder = []calculator.Kind{calculator.KindBridge}
	f := New(WithAvailability(bridgeless))

	_, err := f.CreateEngine(cfg)
	assert.ErrorIs(t, err, calculator.ErrConstruction)
	assert.ErrorContains(t, err, "not supported here")
	assert.Zero(t, f.Cached())
}

func TestCreateEngine_ExplicitSelectionDoesNotFallBack(t *testing.T) {
	bridge := &counter{err: calculator.NewConstructionError("bridge_engine", errors.New("boom"))}
	rule := &counter{}
	f := New(
		WithBuilder(calculator.KindBridge, bridge.build),
		WithBuilder(calculator.KindRule, rule.build),
	)
	cfg := config.Defaults().Engine
	cfg.Selection = calculator.KindBridge

	_, err := f.CreateEngine(cfg)
	assert.ErrorIs(t, err, calculator.ErrConstruction)
	assert.Zero(t, rule.built.Load())
}

func TestCreateEngine_UnknownKind(t *testing.T) {
	cfg := ruleConfig()
	cfg.Selection = calculator.Kind("abacus")

	_, err := New().CreateEngine(cfg)
	assert.ErrorIs(t, err, calculator.ErrConstruction)
	assert.ErrorContains(t, err, `unknown engine "abacus"`)
}

func TestCreateEngine_Formula(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profit.xlsx")
	require.NoError(t, workbook.WriteTemplate(path, "", ""))

	cfg := config.Defaults().Engine
	cfg.Selection = calculator.KindFormula
	cfg.Formula.Path = path

	f := New()
	t.Cleanup(func() { _ = f.ClearCache() })

	e, err := f.CreateEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, formula.Name, e.EngineInfo().Name)

	res, err := e.CalculateProfit(context.Background(), sample)
	require.NoError(t, err)
	assert.InDelta(t, 788.5, res.ProfitAmount, 1e-9)
	assert.InDelta(t, 28.5, res.ShippingCost, 1e-9)
}

func TestCreateEngine_ValidationWrapsFreshEngines(t *testing.T) {
	rule := &counter{}
	f := New(WithBuilder(calculator.KindRule, rule.build))

	plain, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)

	cfg := ruleConfig()
	cfg.Validation.Enabled = true
	e, err := f.CreateEngine(cfg)
	require.NoError(t, err)

	v, ok := e.(*validation.Engine)
	require.True(t, ok)
	assert.NotSame(t, plain, v.Primary())
	assert.EqualValues(t, 3, rule.built.Load())

	res, err := e.CalculateProfit(context.Background(), sample)
	require.NoError(t, err)
	outcome, ok := validation.OutcomeOf(res)
	require.True(t, ok)
	assert.True(t, outcome.IsValid)
	assert.Equal(t, []string{rules.Name}, outcome.EnginesCompared)

	require.NoError(t, f.ClearCache())
	for _, built := range rule.engines {
		assert.True(t, built.closed.Load())
	}
}

func TestCreateEngine_ComparisonFailureClosesPrimary(t *testing.T) {
	rule := &counter{}
	f := New(WithBuilder(calculator.KindRule, rule.build))

	cfg := ruleConfig()
	cfg.Validation.Enabled = true
	cfg.Validation.Engines = []calculator.Kind{calculator.KindFormula}

	_, err := f.CreateEngine(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "comparison engine formula")
	require.Len(t, rule.engines, 1)
	assert.True(t, rule.engines[0].closed.Load())
}

func TestCreateEngine_ResultStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.New(mr.Addr(), "", 0, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	f := New(WithResultStore(store))
	e, err := f.CreateEngine(ruleConfig())
	require.NoError(t, err)
	assert.Contains(t, e.EngineInfo().Capabilities, calculator.CapabilityCache)

	ctx := context.Background()
	_, err = e.CalculateProfit(ctx, sample)
	require.NoError(t, err)
	res, err := e.CalculateProfit(ctx, sample)
	require.NoError(t, err)
	assert.Equal(t, true, res.DiagnosticInfo[cache.DiagnosticKey])
}

func TestCreateEngine_ResultStoreSeparatesConfigurations(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redis.New(mr.Addr(), "", 0, time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	path := filepath.Join(t.TempDir(), "profit.xlsx")
	require.NoError(t, workbook.WriteTemplate(path, "", ""))

	byRules := ruleConfig()
	byRules.Validation.Enabled = true
	byRules.Formula.Path = path

	byFormula := byRules
	byFormula.Selection = calculator.KindFormula

	f := New(WithResultStore(store))
	t.Cleanup(func() { _ = f.ClearCache() })
	ctx := context.Background()

	a, err := f.CreateEngine(byRules)
	require.NoError(t, err)
	b, err := f.CreateEngine(byFormula)
	require.NoError(t, err)
	assert.Equal(t, a.EngineInfo().Name, b.EngineInfo().Name)

	resA, err := a.CalculateProfit(ctx, sample)
	require.NoError(t, err)
	resB, err := b.CalculateProfit(ctx, sample)
	require.NoError(t, err)

	assert.Equal(t, rules.Name, resA.EngineUsed)
	assert.Equal(t, formula.Name, resB.EngineUsed)
	assert.Equal(t, false, resB.DiagnosticInfo[cache.DiagnosticKey])
	assert.Len(t, mr.Keys(), 2)

	hit, err := b.CalculateProfit(ctx, sample)
	require.NoError(t, err)
	assert.Equal(t, true, hit.DiagnosticInfo[cache.DiagnosticKey])
	assert.Equal(t, formula.Name, hit.EngineUsed)

	outcome, ok := validation.OutcomeOf(hit)
	require.True(t, ok)
	assert.True(t, outcome.IsValid)
	assert.Equal(t, []string{rules.Name}, outcome.EnginesCompared)
}
