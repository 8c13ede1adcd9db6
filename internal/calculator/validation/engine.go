// Package validation runs every calculation through a primary engine and a
// set of comparison engines, and attaches the disagreements to the primary
// result.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"profitcalc/internal/calculator"

	"go.uber.org/zap"
)

const (
	Name = "validation_engine"

	// DiagnosticKey is the Result.DiagnosticInfo key holding the Outcome.
	DiagnosticKey = "validation"
)

// Compared fields.
const (
	FieldProfitAmount = "profit_amount"
	FieldProfitRate   = "profit_rate"
	FieldShippingCost = "shipping_cost"
)

// Discrepancy records one field on which a comparison engine disagrees with
// the primary engine beyond the tolerance.
type Discrepancy struct {
	Field              string  `json:"field"`
	Engine             string  `json:"engine"`
	PrimaryValue       float64 `json:"primary_value"`
	ComparisonValue    float64 `json:"comparison_value"`
	AbsoluteDifference float64 `json:"absolute_difference"`
	PercentDifference  float64 `json:"percent_difference"`
}

// Outcome is attached to every validated result.
type Outcome struct {
	IsValid         bool              `json:"is_valid"`
	Discrepancies   []Discrepancy     `json:"discrepancies"`
	EnginesCompared []string          `json:"engines_compared"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// Engine is a calculator.Engine whose results carry an Outcome. It owns the
// wrapped engines and closes them on Close.
type Engine struct {
	primary     calculator.Engine
	comparisons []calculator.Engine
	tolerance   float64
	logger      *zap.Logger
}

// New wraps primary. tolerance is a fraction (0.01 = 1%).
func New(primary calculator.Engine, comparisons []calculator.Engine, tolerance float64, logger *zap.Logger) (*Engine, error) {
	if primary == nil {
		return nil, calculator.NewConstructionError(Name, errors.New("primary engine is required"))
	}
	if tolerance < 0 || math.IsNaN(tolerance) {
		return nil, calculator.NewConstructionError(Name, fmt.Errorf("tolerance must be non-negative (got %v)", tolerance))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		primary:     primary,
		comparisons: comparisons,
		tolerance:   tolerance,
		logger:      logger.With(zap.String("engine", Name)),
	}, nil
}

// CalculateProfit returns the primary engine's result with the comparison
// outcome under DiagnosticKey. Disagreement never turns into an error.
func (e *Engine) CalculateProfit(ctx context.Context, in calculator.Input) (calculator.Result, error) {
	res, err := e.primary.CalculateProfit(ctx, in)
	if err != nil {
		return calculator.Result{}, err
	}
	return e.attach(ctx, in, res), nil
}

// CalculateBatch hands the inputs to the primary engine in one native batch
// when it supports that, then compares each successful item.
func (e *Engine) CalculateBatch(ctx context.Context, inputs []calculator.Input) []calculator.BatchItem {
	var items []calculator.BatchItem
	if native, ok := e.primary.(calculator.BatchCalculator); ok {
		items = native.CalculateBatch(ctx, inputs)
	} else {
		items = calculator.CalculateSequential(ctx, e.primary, inputs)
	}
	for i := range items {
		if items[i].Err != nil {
			continue
		}
		items[i].Result = e.attach(ctx, items[i].Input, items[i].Result)
	}
	return items
}

func (e *Engine) attach(ctx context.Context, in calculator.Input, res calculator.Result) calculator.Result {
	outcome := e.compare(ctx, in, res)
	if !outcome.IsValid {
		e.logger.Warn("Engines disagree",
			zap.String("primary", res.EngineUsed),
			zap.Int("discrepancies", len(outcome.Discrepancies)),
			zap.Int("errors", len(outcome.Errors)),
			zap.Strings("fields", fieldsOf(outcome.Discrepancies)))
	}
	return res.WithDiagnostic(DiagnosticKey, outcome)
}

func (e *Engine) compare(ctx context.Context, in calculator.Input, primary calculator.Result) Outcome {
	out := Outcome{
		IsValid:         true,
		Discrepancies:   []Discrepancy{},
		EnginesCompared: make([]string, 0, len(e.comparisons)),
	}

	for _, c := range e.comparisons {
		name := c.EngineInfo().Name
		out.EnginesCompared = append(out.EnginesCompared, name)

		other, err := c.CalculateProfit(ctx, in)
		if err != nil {
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[name] = err.Error()
			out.IsValid = false
			continue
		}

		fields := []struct {
			name           string
			primary, other float64
		}{
			{FieldProfitAmount, primary.ProfitAmount, other.ProfitAmount},
			{FieldProfitRate, primary.ProfitRate, other.ProfitRate},
			{FieldShippingCost, primary.ShippingCost, other.ShippingCost},
		}
		for _, f := range fields {
			if d, ok := Compare(f.name, name, f.primary, f.other, e.tolerance); ok {
				out.Discrepancies = append(out.Discrepancies, d)
				out.IsValid = false
			}
		}
	}
	return out
}

// Compare returns a Discrepancy when the relative difference between the two
// values exceeds tolerance. A zero primary value has no relative scale, so
// the absolute difference is compared with tolerance instead and reported as
// 100%.
func Compare(field, engine string, primary, comparison, tolerance float64) (Discrepancy, bool) {
	abs := math.Abs(primary - comparison)
	d := Discrepancy{
		Field:              field,
		Engine:             engine,
		PrimaryValue:       primary,
		ComparisonValue:    comparison,
		AbsoluteDifference: abs,
	}

	if primary == 0 {
		if abs > tolerance {
			d.PercentDifference = 100
			return d, true
		}
		return Discrepancy{}, false
	}

	rel := abs / math.Abs(primary)
	if rel > tolerance {
		d.PercentDifference = rel * 100
		return d, true
	}
	return Discrepancy{}, false
}

func (e *Engine) CalculateShipping(ctx context.Context, weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) (float64, error) {
	return e.primary.CalculateShipping(ctx, weight, dims, listPrice, dt)
}

// ValidateConnection checks the primary engine. Unreachable comparison
// engines are logged; they only degrade the outcome.
func (e *Engine) ValidateConnection(ctx context.Context) bool {
	for _, c := range e.comparisons {
		if !c.ValidateConnection(ctx) {
			e.logger.Warn("Comparison engine unavailable", zap.String("comparison", c.EngineInfo().Name))
		}
	}
	return e.primary.ValidateConnection(ctx)
}

func (e *Engine) EngineInfo() calculator.Info {
	p := e.primary.EngineInfo()
	names := make([]string, len(e.comparisons))
	for i, c := range e.comparisons {
		names[i] = c.EngineInfo().Name
	}

	details := map[string]string{
		"primary":     p.Name,
		"comparisons": strings.Join(names, ","),
		"tolerance":   fmt.Sprintf("%g", e.tolerance),
	}
	for k, v := range p.Details {
		details["primary."+k] = v
	}

	return calculator.Info{
		Name:         Name,
		Kind:         p.Kind,
		Version:      p.Version,
		Description:  "Cross-engine validation around " + p.Name,
		Capabilities: withCapabilities(p.Capabilities, calculator.CapabilityBatch, calculator.CapabilityValidation),
		Details:      details,
	}
}

// Primary returns the engine whose results are returned to callers.
func (e *Engine) Primary() calculator.Engine { return e.primary }

func (e *Engine) Close() error {
	errs := []error{e.primary.Close()}
	for _, c := range e.comparisons {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// OutcomeOf extracts the validation outcome from a result. Results that went
// through JSON, such as result cache hits, carry the outcome as a decoded
// map; it is converted back.
func OutcomeOf(r calculator.Result) (Outcome, bool) {
	v, ok := r.Diagnostic(DiagnosticKey)
	if !ok {
		return Outcome{}, false
	}
	switch o := v.(type) {
	case Outcome:
		return o, true
	case map[string]any:
		data, err := json.Marshal(o)
		if err != nil {
			return Outcome{}, false
		}
		var out Outcome
		if err := json.Unmarshal(data, &out); err != nil {
			return Outcome{}, false
		}
		return out, true
	default:
		return Outcome{}, false
	}
}

func withCapabilities(base []string, extra ...string) []string {
	out := append([]string{}, base...)
	for _, c := range extra {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func fieldsOf(ds []Discrepancy) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Engine + "." + d.Field
	}
	return out
}

var (
	_ calculator.Engine          = (*Engine)(nil)
	_ calculator.BatchCalculator = (*Engine)(nil)
)
