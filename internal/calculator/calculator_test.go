package calculator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() Input {
	return Input{
		BlackPrice:     120,
		GreenPrice:     110,
		ListPrice:      100,
		PurchasePrice:  40,
		CommissionRate: 12,
		Weight:         500,
		Length:         10,
		Width:          10,
		Height:         10,
		DeliveryType:   Pickup,
	}
}

func TestInputValidate(t *testing.T) {
	require.NoError(t, validInput().Validate())

	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
	}{
		{"negative black price", func(in *Input) { in.BlackPrice = -1 }, "black_price"},
		{"negative purchase price", func(in *Input) { in.PurchasePrice = -0.01 }, "purchase_price"},
		{"commission above range", func(in *Input) { in.CommissionRate = 100.5 }, "commission_rate"},
		{"commission below range", func(in *Input) { in.CommissionRate = -3 }, "commission_rate"},
		{"negative weight", func(in *Input) { in.Weight = -500 }, "weight"},
		{"negative height", func(in *Input) { in.Height = -1 }, "height"},
		{"nan list price", func(in *Input) { in.ListPrice = math.NaN() }, "list_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			err := in.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestInputValidate_BoundaryCommission(t *testing.T) {
	in := validInput()
	in.CommissionRate = 0
	assert.NoError(t, in.Validate())
	in.CommissionRate = 100
	assert.NoError(t, in.Validate())
}

func TestComputeProfit(t *testing.T) {
	b := ComputeProfit(2000, 800, 28.5, 15)

	assert.InDelta(t, 300, b.Commission, 1e-9)
	assert.InDelta(t, 80, b.MiscFee, 1e-9)
	assert.Equal(t, LabelFee, b.LabelFee)
	assert.InDelta(t, 2000-800-28.5-3-300-80, b.Profit, 1e-9)
	// Rate is relative to the purchase price.
	assert.InDelta(t, b.Profit/800*100, b.ProfitRate, 1e-9)
}

func TestComputeProfit_ZeroPurchasePrice(t *testing.T) {
	b := ComputeProfit(100, 0, 15.5, 10)
	assert.Greater(t, b.Profit, 0.0)
	assert.Zero(t, b.ProfitRate)
}

func TestNewResult_IsLoss(t *testing.T) {
	loss := NewResult(validInput(), "x", -0.01, 0, 0, 0, time.Millisecond, nil)
	assert.True(t, loss.IsLoss)

	gain := NewResult(validInput(), "x", 0, 0, 0, 0, time.Millisecond, nil)
	assert.False(t, gain.IsLoss)
}

func TestResultWithDiagnostic_DoesNotMutateOriginal(t *testing.T) {
	r := NewResult(validInput(), "x", 1, 1, 1, 1, 0, map[string]any{"a": 1})
	r2 := r.WithDiagnostic("b", 2)

	_, ok := r.Diagnostic("b")
	assert.False(t, ok)
	v, ok := r2.Diagnostic("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Rule_Engine ")
	require.NoError(t, err)
	assert.Equal(t, KindRule, k)

	_, err = ParseKind("abacus")
	assert.Error(t, err)
}

func TestParseDeliveryType(t *testing.T) {
	dt, err := ParseDeliveryType("PICKUP")
	require.NoError(t, err)
	assert.Equal(t, Pickup, dt)

	dt, err = ParseDeliveryType("")
	require.NoError(t, err)
	assert.Equal(t, DeliveryUnspecified, dt)
	assert.False(t, dt.IsPickup())

	_, err = ParseDeliveryType("drone")
	assert.Error(t, err)
}

// stubEngine fails for inputs whose list price equals failOn.
type stubEngine struct {
	failOn float64
	calls  int
}

func (s *stubEngine) CalculateProfit(ctx context.Context, in Input) (Result, error) {
	s.calls++
	if in.ListPrice == s.failOn {
		return Result{}, NewCalculationError("stub", errors.New("boom"))
	}
	return NewResult(in, "stub", in.ListPrice, 0, 0, 0, 0, nil), nil
}

func (s *stubEngine) CalculateShipping(context.Context, float64, Dimensions, float64, DeliveryType) (float64, error) {
	return 0, nil
}
func (s *stubEngine) ValidateConnection(context.Context) bool { return true }
func (s *stubEngine) EngineInfo() Info                        { return Info{Name: "stub"} }
func (s *stubEngine) Close() error                            { return nil }

type nativeStub struct {
	stubEngine
	chunks []int
}

func (n *nativeStub) CalculateBatch(ctx context.Context, inputs []Input) []BatchItem {
	n.chunks = append(n.chunks, len(inputs))
	return CalculateSequential(ctx, &n.stubEngine, inputs)
}

func TestBatchCalculate_IsolatesFailures(t *testing.T) {
	e := &stubEngine{failOn: 2}
	inputs := []Input{{ListPrice: 1}, {ListPrice: 2}, {ListPrice: 3}}

	items := BatchCalculate(context.Background(), e, inputs, 0, nil)

	require.Len(t, items, 3)
	assert.True(t, items[0].OK())
	assert.False(t, items[1].OK())
	assert.ErrorIs(t, items[1].Err, ErrCalculation)
	assert.True(t, items[2].OK())
	assert.Equal(t, 3.0, items[2].Result.ProfitAmount)
	assert.Equal(t, 3, e.calls)
}

func TestBatchCalculate_UsesNativeBatchingInChunks(t *testing.T) {
	e := &nativeStub{}
	inputs := make([]Input, 5)
	for i := range inputs {
		inputs[i].ListPrice = float64(i + 10)
	}

	items := BatchCalculate(context.Background(), e, inputs, 2, nil)

	require.Len(t, items, 5)
	assert.Equal(t, []int{2, 2, 1}, e.chunks)
	batchID := items[0].Result.DiagnosticInfo[BatchIDKey]
	assert.NotEmpty(t, batchID)
	for i, item := range items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, inputs[i], item.Input)
		assert.Equal(t, batchID, item.Result.DiagnosticInfo[BatchIDKey])
	}
}
