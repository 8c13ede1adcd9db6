package calculator

import "math"

// Validate checks every invariant of the input. The first violation is
// returned as a *ValidationError naming the field.
func (in Input) Validate() error {
	checks := []struct {
		field string
		value float64
	}{
		{"black_price", in.BlackPrice},
		{"green_price", in.GreenPrice},
		{"list_price", in.ListPrice},
		{"purchase_price", in.PurchasePrice},
	}
	for _, c := range checks {
		if err := nonNegative(c.field, c.value); err != nil {
			return err
		}
	}

	if err := finite("commission_rate", in.CommissionRate); err != nil {
		return err
	}
	if in.CommissionRate < 0 || in.CommissionRate > 100 {
		return &ValidationError{Field: "commission_rate", Value: in.CommissionRate, Reason: "must be within [0, 100]"}
	}

	return ValidateParcel(in.Weight, in.Dimensions(), in.ListPrice)
}

// ValidateParcel checks the arguments of a standalone shipping lookup.
func ValidateParcel(weight float64, dims Dimensions, listPrice float64) error {
	checks := []struct {
		field string
		value float64
	}{
		{"weight", weight},
		{"length", dims.Length},
		{"width", dims.Width},
		{"height", dims.Height},
		{"list_price", listPrice},
	}
	for _, c := range checks {
		if err := nonNegative(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if err := finite(field, v); err != nil {
		return err
	}
	if v < 0 {
		return &ValidationError{Field: field, Value: v, Reason: "must be non-negative"}
	}
	return nil
}

func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Value: v, Reason: "must be a finite number"}
	}
	return nil
}
