package rules

import (
	"profitcalc/internal/calculator"
)

// RatePair is a base fee plus a per-gram rate.
type RatePair struct {
	Base    float64
	PerGram float64
}

// Cost prices a parcel of the given weight.
func (r RatePair) Cost(weight float64) float64 {
	return r.Base + weight*r.PerGram
}

// Channel is one row of the shipping tier table. All bounds are inclusive.
// A nil Delivery means the channel has no delivery rate.
type Channel struct {
	Name             string
	WeightMin        float64
	WeightMax        float64
	SumDimensionsMax float64
	MaxDimension     float64
	PriceMin         float64
	PriceMax         float64
	Pickup           RatePair
	Delivery         *RatePair
}

// Matches reports whether the parcel satisfies every bound of the channel.
func (c Channel) Matches(weight float64, dims calculator.Dimensions, listPrice float64) bool {
	return dims.Max() <= c.MaxDimension &&
		dims.Sum() <= c.SumDimensionsMax &&
		listPrice >= c.PriceMin && listPrice <= c.PriceMax &&
		weight >= c.WeightMin && weight <= c.WeightMax
}

// Rate picks the rate pair for a delivery type. The second return value is
// true when delivery was requested but the channel only has a pickup rate.
func (c Channel) Rate(dt calculator.DeliveryType) (RatePair, bool) {
	if dt.IsPickup() {
		return c.Pickup, false
	}
	if c.Delivery == nil {
		return c.Pickup, true
	}
	return *c.Delivery, false
}

// channels is checked top to bottom and the first match wins. The rows
// overlap, so the order is part of the pricing rules.
var channels = [...]Channel{
	{
		Name: "economy-light", WeightMin: 1, WeightMax: 500,
		SumDimensionsMax: 90, MaxDimension: 60, PriceMin: 0, PriceMax: 1500,
		Pickup: RatePair{Base: 3, PerGram: 0.025},
	},
	{
		Name: "economy-heavy", WeightMin: 501, WeightMax: 25000,
		SumDimensionsMax: 150, MaxDimension: 60, PriceMin: 0, PriceMax: 1500,
		Pickup: RatePair{Base: 23, PerGram: 0.017},
	},
	{
		Name: "small", WeightMin: 1, WeightMax: 2000,
		SumDimensionsMax: 150, MaxDimension: 60, PriceMin: 1501, PriceMax: 7000,
		Pickup:   RatePair{Base: 16, PerGram: 0.025},
		Delivery: &RatePair{Base: 19.5, PerGram: 0.025},
	},
	{
		Name: "standard", WeightMin: 2001, WeightMax: 25000,
		SumDimensionsMax: 250, MaxDimension: 150, PriceMin: 1501, PriceMax: 7000,
		Pickup:   RatePair{Base: 36, PerGram: 0.017},
		Delivery: &RatePair{Base: 39.5, PerGram: 0.017},
	},
	{
		Name: "premium-light", WeightMin: 1, WeightMax: 5000,
		SumDimensionsMax: 250, MaxDimension: 150, PriceMin: 7001, PriceMax: 250000,
		Pickup:   RatePair{Base: 22, PerGram: 0.025},
		Delivery: &RatePair{Base: 25.5, PerGram: 0.025},
	},
	{
		Name: "premium-heavy", WeightMin: 5001, WeightMax: 25000,
		SumDimensionsMax: 310, MaxDimension: 150, PriceMin: 7001, PriceMax: 250000,
		Pickup:   RatePair{Base: 62, PerGram: 0.023},
		Delivery: &RatePair{Base: 65.5, PerGram: 0.023},
	},
}

// Channels returns a copy of the tier table in evaluation order.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	for i, c := range channels {
		if c.Delivery != nil {
			d := *c.Delivery
			c.Delivery = &d
		}
		out[i] = c
	}
	return out
}

// MatchChannel returns the first channel accepting the parcel and its
// 1-based position in the table.
func MatchChannel(weight float64, dims calculator.Dimensions, listPrice float64) (Channel, int, bool) {
	for i, c := range channels {
		if c.Matches(weight, dims, listPrice) {
			return c, i + 1, true
		}
	}
	return Channel{}, 0, false
}

// Quote is a priced shipping lookup together with how it was reached.
type Quote struct {
	Cost             float64
	Channel          string
	ChannelIndex     int
	Matched          bool
	RatePair         string
	DeliveryFallback bool
	MaxDimension     float64
	SumDimensions    float64
}

// Diagnostics renders the quote for Result.DiagnosticInfo.
func (q Quote) Diagnostics() map[string]any {
	return map[string]any{
		"channel":               q.Channel,
		"channel_index":         q.ChannelIndex,
		"rate_pair":             q.RatePair,
		"delivery_fallback":     q.DeliveryFallback,
		"default_shipping_used": !q.Matched,
		"max_dimension":         q.MaxDimension,
		"sum_dimensions":        q.SumDimensions,
	}
}

// LookupShipping prices a parcel from the tier table. When no channel
// matches, the fixed default for the delivery type is returned with
// Matched set to false.
func LookupShipping(weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) Quote {
	q := Quote{
		MaxDimension:  dims.Max(),
		SumDimensions: dims.Sum(),
	}

	c, idx, ok := MatchChannel(weight, dims, listPrice)
	if !ok {
		q.Channel = "default"
		q.Cost = calculator.DefaultShipping(dt)
		q.RatePair = "default"
		return q
	}

	rate, fallback := c.Rate(dt)
	q.Matched = true
	q.Channel = c.Name
	q.ChannelIndex = idx
	q.DeliveryFallback = fallback
	q.RatePair = "delivery"
	if dt.IsPickup() || fallback {
		q.RatePair = "pickup"
	}
	q.Cost = rate.Cost(weight)
	return q
}
