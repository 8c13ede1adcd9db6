package formula

import (
	"context"
	"path/filepath"
	"testing"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/rules"
	"profitcalc/internal/calculator/workbook"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTemplateEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profit.xlsx")
	require.NoError(t, workbook.WriteTemplate(path, "", ""))

	e, err := New(Config{WorkbookPath: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

type figures struct {
	Profit, Rate, Shipping, Commission float64
	IsLoss                             bool
}

func figuresOf(r calculator.Result) figures {
	return figures{r.ProfitAmount, r.ProfitRate, r.ShippingCost, r.CommissionAmount, r.IsLoss}
}

func TestEngine_MatchesRuleEngine(t *testing.T) {
	fe := newTemplateEngine(t)
	re := rules.New(nil)
	ctx := context.Background()

	inputs := []calculator.Input{
		{ListPrice: 100, PurchasePrice: 40, CommissionRate: 12, Weight: 500, Length: 10, Width: 10, Height: 10, DeliveryType: calculator.Pickup},
		{ListPrice: 100, PurchasePrice: 40, CommissionRate: 12, Weight: 500, Length: 10, Width: 10, Height: 10, DeliveryType: calculator.Delivery},
		{ListPrice: 100, PurchasePrice: 90, CommissionRate: 20, Weight: 600, Length: 10, Width: 10, Height: 10, DeliveryType: calculator.Pickup},
		{BlackPrice: 2100, GreenPrice: 2050, ListPrice: 2000, PurchasePrice: 800, CommissionRate: 15, Weight: 500, Length: 10, Width: 10, Height: 10, DeliveryType: calculator.Pickup},
		{ListPrice: 2000, PurchasePrice: 800, CommissionRate: 15, Weight: 500, Length: 10, Width: 10, Height: 10, DeliveryType: calculator.Delivery},
		{ListPrice: 5000, PurchasePrice: 2500, CommissionRate: 18, Weight: 3000, Length: 100, Width: 50, Height: 40},
		{ListPrice: 10000, PurchasePrice: 0, CommissionRate: 9, Weight: 1000, Length: 20, Width: 20, Height: 20, DeliveryType: calculator.Pickup},
		{ListPrice: 12000, PurchasePrice: 9000, CommissionRate: 25, Weight: 8000, Length: 150, Width: 100, Height: 60, DeliveryType: calculator.Delivery},
		// No channel matches: zero weight and a price between tiers.
		{ListPrice: 100, PurchasePrice: 10, CommissionRate: 5, Weight: 0, Length: 1, Width: 1, Height: 1, DeliveryType: calculator.Pickup},
		{ListPrice: 1500.5, PurchasePrice: 10, CommissionRate: 5, Weight: 300, Length: 1, Width: 1, Height: 1, DeliveryType: calculator.Delivery},
	}

	for _, in := range inputs {
		want, err := re.CalculateProfit(ctx, in)
		require.NoError(t, err)
		got, err := fe.CalculateProfit(ctx, in)
		require.NoError(t, err)

		if diff := cmp.Diff(figuresOf(want), figuresOf(got), cmpopts.EquateApprox(1e-9, 1e-9)); diff != "" {
			t.Errorf("input %+v: formula engine mismatch (-rule +formula):\n%s", in, diff)
		}
		assert.Equal(t, want.DiagnosticInfo["channel_index"], got.DiagnosticInfo["channel_index"])
		assert.Equal(t, want.DiagnosticInfo["default_shipping_used"], got.DiagnosticInfo["default_shipping_used"])
		assert.Equal(t, Name, got.EngineUsed)
	}
}

func TestEngine_CalculateShipping(t *testing.T) {
	fe := newTemplateEngine(t)
	ctx := context.Background()
	cube := calculator.Dimensions{Length: 10, Width: 10, Height: 10}

	tests := []struct {
		weight, price float64
		dt            calculator.DeliveryType
		want          float64
	}{
		{500, 100, calculator.Pickup, 15.5},
		{500, 2000, calculator.Pickup, 28.5},
		{500, 2000, calculator.Delivery, 32.0},
		{600, 100, calculator.Pickup, 33.2},
		{500, 100, calculator.Delivery, 15.5},
		{0, 100, calculator.Delivery, calculator.DefaultDeliveryShipping},
	}
	for _, tt := range tests {
		got, err := fe.CalculateShipping(ctx, tt.weight, cube, tt.price, tt.dt)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "weight=%v price=%v %s", tt.weight, tt.price, tt.dt)
	}
}

func TestEngine_RejectsInvalidInputBeforeWriting(t *testing.T) {
	fe := newTemplateEngine(t)
	_, err := fe.CalculateProfit(context.Background(), calculator.Input{ListPrice: 100, PurchasePrice: -5})
	assert.ErrorIs(t, err, calculator.ErrValidation)
}

func TestEngine_EmptyOutputCellReadsAsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profit.xlsx")
	require.NoError(t, workbook.WriteTemplate(path, "", ""))

	layout := workbook.DefaultLayout("", "")
	layout.Commission = workbook.CellRef{Sheet: workbook.DefaultCalcSheet, Cell: "Z99"}
	e, err := New(Config{WorkbookPath: path, Layout: layout}, nil)
	require.NoError(t, err)
	defer e.Close()

	res, err := e.CalculateProfit(context.Background(), calculator.Input{
		ListPrice: 100, PurchasePrice: 40, CommissionRate: 12, Weight: 500, Length: 10, Width: 10, Height: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, res.CommissionAmount)
	assert.NotZero(t, res.ProfitAmount)
}

func TestNew_ConstructionErrors(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, calculator.ErrConstruction)

	_, err = New(Config{WorkbookPath: filepath.Join(t.TempDir(), "missing.xlsx")}, nil)
	assert.ErrorIs(t, err, calculator.ErrConstruction)

	path := filepath.Join(t.TempDir(), "profit.xlsx")
	require.NoError(t, workbook.WriteTemplate(path, "", ""))
	_, err = New(Config{WorkbookPath: path, CalcSheet: "Nope"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, calculator.ErrConstruction)
	assert.Contains(t, err.Error(), `sheet "Nope" not found`)
}

func TestEngine_ConnectionAndClose(t *testing.T) {
	fe := newTemplateEngine(t)
	assert.True(t, fe.ValidateConnection(context.Background()))
	assert.Equal(t, calculator.KindFormula, fe.EngineInfo().Kind)

	require.NoError(t, fe.Close())
	assert.False(t, fe.ValidateConnection(context.Background()))
	_, err := fe.CalculateProfit(context.Background(), calculator.Input{})
	assert.ErrorIs(t, err, calculator.ErrCalculation)
	assert.NoError(t, fe.Close())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"15.5", 15.5, false},
		{"-3", -3, false},
		{"1E-3", 0.001, false},
		{"TRUE", 1, false},
		{"#VALUE!", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseNumber(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}
