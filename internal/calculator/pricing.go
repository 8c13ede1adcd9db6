package calculator

// Fixed charges applied on top of shipping and commission.
const (
	LabelFee    = 3.0
	MiscFeeRate = 0.04
)

// Shipping cost used when no channel matches the parcel.
const (
	DefaultPickupShipping   = 20.0
	DefaultDeliveryShipping = 25.0
)

// Breakdown holds the intermediate amounts of the profit formula.
type Breakdown struct {
	Commission float64
	MiscFee    float64
	LabelFee   float64
	Shipping   float64
	Profit     float64
	ProfitRate float64
}

// ComputeProfit applies the profit formula to a list price, a purchase price,
// an already resolved shipping cost and a commission percentage.
//
// ProfitRate is relative to the purchase price, not the list price.
func ComputeProfit(listPrice, purchasePrice, shipping, commissionRate float64) Breakdown {
	b := Breakdown{
		Commission: listPrice * commissionRate / 100,
		MiscFee:    listPrice * MiscFeeRate,
		LabelFee:   LabelFee,
		Shipping:   shipping,
	}
	b.Profit = listPrice - purchasePrice - shipping - b.LabelFee - b.Commission - b.MiscFee
	b.ProfitRate = ProfitRate(b.Profit, purchasePrice)
	return b
}

// ProfitRate returns profit as a percentage of the purchase price, or 0 when
// the purchase price is not positive.
func ProfitRate(profit, purchasePrice float64) float64 {
	if purchasePrice > 0 {
		return profit / purchasePrice * 100
	}
	return 0
}

// DefaultShipping returns the fallback shipping cost for a delivery type.
func DefaultShipping(dt DeliveryType) float64 {
	if dt.IsPickup() {
		return DefaultPickupShipping
	}
	return DefaultDeliveryShipping
}
