// Package rules is the in-process calculation backend: the profit formula
// and the shipping tier table ported to Go with no external dependency.
package rules

import (
	"context"
	"fmt"
	"time"

	"profitcalc/internal/calculator"

	"go.uber.org/zap"
)

const (
	Name    = "rule_engine"
	Version = "1.0"
)

type Engine struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.With(zap.String("engine", Name))}
}

func (e *Engine) CalculateProfit(ctx context.Context, in calculator.Input) (calculator.Result, error) {
	const operation = "rules.CalculateProfit"

	start := time.Now()
	if err := ctx.Err(); err != nil {
		return calculator.Result{}, fmt.Errorf("%s: %w", operation, err)
	}
	if err := in.Validate(); err != nil {
		return calculator.Result{}, err
	}

	quote := LookupShipping(in.Weight, in.Dimensions(), in.ListPrice, in.DeliveryType)
	if !quote.Matched {
		e.logger.Warn("No shipping channel matched, using default rate",
			zap.Float64("weight", in.Weight),
			zap.Float64("list_price", in.ListPrice),
			zap.Float64("sum_dimensions", quote.SumDimensions),
			zap.Float64("max_dimension", quote.MaxDimension),
			zap.Stringer("delivery_type", in.DeliveryType))
	}

	b := calculator.ComputeProfit(in.ListPrice, in.PurchasePrice, quote.Cost, in.CommissionRate)

	diag := quote.Diagnostics()
	diag["label_fee"] = b.LabelFee
	diag["misc_fee"] = b.MiscFee

	return calculator.NewResult(in, Name, b.Profit, b.ProfitRate, b.Shipping, b.Commission, time.Since(start), diag), nil
}

func (e *Engine) CalculateShipping(ctx context.Context, weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rules.CalculateShipping: %w", err)
	}
	if err := calculator.ValidateParcel(weight, dims, listPrice); err != nil {
		return 0, err
	}
	return LookupShipping(weight, dims, listPrice, dt).Cost, nil
}

// ValidateConnection is always true; there is nothing external to reach.
func (e *Engine) ValidateConnection(context.Context) bool { return true }

func (e *Engine) EngineInfo() calculator.Info {
	return calculator.Info{
		Name:         Name,
		Kind:         calculator.KindRule,
		Version:      Version,
		Description:  "Deterministic profit formula and six-channel shipping table",
		Capabilities: []string{calculator.CapabilityProfit, calculator.CapabilityShipping},
		Details: map[string]string{
			"channels": fmt.Sprint(len(channels)),
		},
	}
}

func (e *Engine) Close() error { return nil }

var _ calculator.Engine = (*Engine)(nil)
