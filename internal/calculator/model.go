package calculator

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// DeliveryType selects which rate pair of a shipping channel applies.
// The zero value is DeliveryUnspecified, which prices like Delivery.
type DeliveryType int

const (
	DeliveryUnspecified DeliveryType = iota
	Pickup
	Delivery
)

func (d DeliveryType) String() string {
	switch d {
	case Pickup:
		return "pickup"
	case Delivery:
		return "delivery"
	default:
		return "unspecified"
	}
}

// IsPickup reports whether the pickup rate pair should be used.
func (d DeliveryType) IsPickup() bool {
	return d == Pickup
}

func (d DeliveryType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DeliveryType) UnmarshalText(text []byte) error {
	parsed, err := ParseDeliveryType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDeliveryType accepts "pickup", "delivery" or an empty string.
func ParseDeliveryType(s string) (DeliveryType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unspecified":
		return DeliveryUnspecified, nil
	case "pickup":
		return Pickup, nil
	case "delivery", "courier":
		return Delivery, nil
	default:
		return DeliveryUnspecified, fmt.Errorf("unknown delivery type %q", s)
	}
}

// Dimensions of a parcel in centimeters.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Max returns the largest single side.
func (d Dimensions) Max() float64 {
	return max(d.Length, d.Width, d.Height)
}

// Sum returns length + width + height.
func (d Dimensions) Sum() float64 {
	return d.Length + d.Width + d.Height
}

// Input carries the parameters of one profit calculation. Prices share one
// currency unit, weight is in grams, dimensions in centimeters.
type Input struct {
	BlackPrice     float64      `json:"black_price"`
	GreenPrice     float64      `json:"green_price"`
	ListPrice      float64      `json:"list_price"`
	PurchasePrice  float64      `json:"purchase_price"`
	CommissionRate float64      `json:"commission_rate"`
	Weight         float64      `json:"weight"`
	Length         float64      `json:"length"`
	Width          float64      `json:"width"`
	Height         float64      `json:"height"`
	DeliveryType   DeliveryType `json:"delivery_type"`
}

func (in Input) Dimensions() Dimensions {
	return Dimensions{Length: in.Length, Width: in.Width, Height: in.Height}
}

// Result is produced once per calculation and is not modified afterwards;
// the With* helpers return copies.
type Result struct {
	ProfitAmount     float64        `json:"profit_amount"`
	ProfitRate       float64        `json:"profit_rate"`
	IsLoss           bool           `json:"is_loss"`
	ShippingCost     float64        `json:"shipping_cost"`
	CommissionAmount float64        `json:"commission_amount"`
	EngineUsed       string         `json:"engine_used"`
	CalculationTime  time.Duration  `json:"calculation_time"`
	InputSummary     Input          `json:"input_summary"`
	DiagnosticInfo   map[string]any `json:"diagnostic_info,omitempty"`
}

// NewResult assembles a Result and derives IsLoss from the profit amount.
func NewResult(in Input, engine string, profit, rate, shipping, commission float64, elapsed time.Duration, diag map[string]any) Result {
	return Result{
		ProfitAmount:     profit,
		ProfitRate:       rate,
		IsLoss:           profit < 0,
		ShippingCost:     shipping,
		CommissionAmount: commission,
		EngineUsed:       engine,
		CalculationTime:  elapsed,
		InputSummary:     in,
		DiagnosticInfo:   maps.Clone(diag),
	}
}

// WithDiagnostic returns a copy of r with key set in DiagnosticInfo.
func (r Result) WithDiagnostic(key string, value any) Result {
	diag := make(map[string]any, len(r.DiagnosticInfo)+1)
	maps.Copy(diag, r.DiagnosticInfo)
	diag[key] = value
	r.DiagnosticInfo = diag
	return r
}

// Diagnostic returns the diagnostic value stored under key.
func (r Result) Diagnostic(key string) (any, bool) {
	v, ok := r.DiagnosticInfo[key]
	return v, ok
}
