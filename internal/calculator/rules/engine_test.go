package rules

import (
	"context"
	"testing"

	"profitcalc/internal/calculator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cube10 = calculator.Dimensions{Length: 10, Width: 10, Height: 10}

func TestLookupShipping(t *testing.T) {
	tests := []struct {
		name     string
		weight   float64
		dims     calculator.Dimensions
		price    float64
		dt       calculator.DeliveryType
		channel  string
		index    int
		cost     float64
		pair     string
		fallback bool
	}{
		{"light cheap pickup", 500, cube10, 100, calculator.Pickup, "economy-light", 1, 15.5, "pickup", false},
		{"mid price pickup", 500, cube10, 2000, calculator.Pickup, "small", 3, 28.5, "pickup", false},
		{"mid price delivery", 500, cube10, 2000, calculator.Delivery, "small", 3, 32.0, "delivery", false},
		{"heavy cheap pickup", 600, cube10, 100, calculator.Pickup, "economy-heavy", 2, 33.2, "pickup", false},
		{"delivery falls back to pickup", 500, cube10, 100, calculator.Delivery, "economy-light", 1, 15.5, "pickup", true},
		{"unspecified prices like delivery", 500, cube10, 2000, calculator.DeliveryUnspecified, "small", 3, 32.0, "delivery", false},
		{"standard delivery", 3000, calculator.Dimensions{Length: 100, Width: 50, Height: 40}, 5000, calculator.Delivery, "standard", 4, 39.5 + 3000*0.017, "delivery", false},
		{"premium light", 1000, cube10, 10000, calculator.Pickup, "premium-light", 5, 22 + 1000*0.025, "pickup", false},
		{"premium heavy delivery", 8000, calculator.Dimensions{Length: 150, Width: 100, Height: 60}, 10000, calculator.Delivery, "premium-heavy", 6, 65.5 + 8000*0.023, "delivery", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := LookupShipping(tt.weight, tt.dims, tt.price, tt.dt)

			require.True(t, q.Matched)
			assert.Equal(t, tt.channel, q.Channel)
			assert.Equal(t, tt.index, q.ChannelIndex)
			assert.InDelta(t, tt.cost, q.Cost, 1e-9)
			assert.Equal(t, tt.pair, q.RatePair)
			assert.Equal(t, tt.fallback, q.DeliveryFallback)
		})
	}
}

func TestLookupShipping_InclusiveBounds(t *testing.T) {
	// Upper bounds of the first channel are inclusive.
	q := LookupShipping(500, calculator.Dimensions{Length: 60, Width: 20, Height: 10}, 1500, calculator.Pickup)
	assert.Equal(t, 1, q.ChannelIndex)

	// One centimetre over the sum limit rules out channel 1, and no other
	// channel takes a 500 g parcel at this price.
	q = LookupShipping(500, calculator.Dimensions{Length: 60, Width: 20, Height: 11}, 1500, calculator.Pickup)
	assert.False(t, q.Matched)
}

func TestLookupShipping_DefaultWhenNothingMatches(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		price  float64
		dt     calculator.DeliveryType
		want   float64
	}{
		{"zero weight pickup", 0, 100, calculator.Pickup, calculator.DefaultPickupShipping},
		{"zero weight delivery", 0, 100, calculator.Delivery, calculator.DefaultDeliveryShipping},
		{"price in gap between tiers", 500, 1500.5, calculator.Pickup, calculator.DefaultPickupShipping},
		{"too heavy", 30000, 100, calculator.Delivery, calculator.DefaultDeliveryShipping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := LookupShipping(tt.weight, cube10, tt.price, tt.dt)
			assert.False(t, q.Matched)
			assert.Equal(t, "default", q.Channel)
			assert.Equal(t, tt.want, q.Cost)
			assert.Equal(t, true, q.Diagnostics()["default_shipping_used"])
		})
	}
}

func TestChannels_ReturnsCopy(t *testing.T) {
	cs := Channels()
	require.Len(t, cs, 6)
	cs[2].Delivery.Base = 1000
	cs[0].Name = "changed"

	again := Channels()
	assert.Equal(t, 19.5, again[2].Delivery.Base)
	assert.Equal(t, "economy-light", again[0].Name)
}

func TestEngine_CalculateProfit_Formula(t *testing.T) {
	e := New(nil)
	ctx := context.Background()

	prices := []float64{0, 100, 1500, 2000, 6999, 9000}
	purchases := []float64{0, 35, 700}
	rates := []float64{0, 8.5, 100}
	weights := []float64{0, 250, 600, 2500, 9000}

	for _, price := range prices {
		for _, purchase := range purchases {
			for _, rate := range rates {
				for _, weight := range weights {
					in := calculator.Input{
						ListPrice: price, PurchasePrice: purchase, CommissionRate: rate,
						Weight: weight, Length: 30, Width: 20, Height: 10,
						DeliveryType: calculator.Delivery,
					}
					res, err := e.CalculateProfit(ctx, in)
					require.NoError(t, err)

					commission := price * rate / 100
					misc := price * 0.04
					want := price - purchase - res.ShippingCost - calculator.LabelFee - commission - misc

					assert.InDelta(t, commission, res.CommissionAmount, 1e-9)
					assert.InDelta(t, want, res.ProfitAmount, 1e-9)
					assert.Equal(t, res.ProfitAmount < 0, res.IsLoss)
					if purchase == 0 {
						assert.Zero(t, res.ProfitRate)
					} else {
						assert.InDelta(t, res.ProfitAmount/purchase*100, res.ProfitRate, 1e-9)
					}
					assert.Equal(t, Name, res.EngineUsed)
					assert.Equal(t, in, res.InputSummary)
				}
			}
		}
	}
}

func TestEngine_CalculateProfit_Example(t *testing.T) {
	e := New(nil)
	in := calculator.Input{
		BlackPrice: 2100, GreenPrice: 2050, ListPrice: 2000, PurchasePrice: 800,
		CommissionRate: 15, Weight: 500, Length: 10, Width: 10, Height: 10,
		DeliveryType: calculator.Delivery,
	}

	res, err := e.CalculateProfit(context.Background(), in)
	require.NoError(t, err)

	assert.InDelta(t, 32.0, res.ShippingCost, 1e-9)
	assert.InDelta(t, 300, res.CommissionAmount, 1e-9)
	assert.InDelta(t, 2000-800-32-3-300-80, res.ProfitAmount, 1e-9)
	assert.InDelta(t, 785.0/800*100, res.ProfitRate, 1e-9)
	assert.False(t, res.IsLoss)
	assert.Equal(t, "small", res.DiagnosticInfo["channel"])
	assert.Equal(t, 80.0, res.DiagnosticInfo["misc_fee"])
}

func TestEngine_RejectsInvalidInput(t *testing.T) {
	e := New(nil)
	_, err := e.CalculateProfit(context.Background(), calculator.Input{ListPrice: 10, CommissionRate: 101})
	assert.ErrorIs(t, err, calculator.ErrValidation)

	_, err = e.CalculateShipping(context.Background(), -1, cube10, 10, calculator.Pickup)
	assert.ErrorIs(t, err, calculator.ErrValidation)
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).CalculateProfit(ctx, calculator.Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Info(t *testing.T) {
	e := New(nil)
	assert.True(t, e.ValidateConnection(context.Background()))
	assert.Equal(t, calculator.KindRule, e.EngineInfo().Kind)
	assert.NoError(t, e.Close())
}
