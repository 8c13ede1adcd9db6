// Package workbook describes where the profit model lives inside a
// spreadsheet and generates a reference workbook implementing it in formulas.
package workbook

import (
	"fmt"
	"slices"
)

const (
	DefaultCalcSheet     = "Calculator"
	DefaultShippingSheet = "Shipping"
)

// CellRef addresses one cell on a named sheet.
type CellRef struct {
	Sheet string `yaml:"sheet"`
	Cell  string `yaml:"cell"`
}

func (c CellRef) String() string { return c.Sheet + "!" + c.Cell }

// Layout maps calculation inputs and outputs to cells. Price and commission
// inputs sit on the calculation sheet, parcel inputs on the shipping sheet.
type Layout struct {
	BlackPrice     CellRef `yaml:"black_price"`
	GreenPrice     CellRef `yaml:"green_price"`
	ListPrice      CellRef `yaml:"list_price"`
	PurchasePrice  CellRef `yaml:"purchase_price"`
	CommissionRate CellRef `yaml:"commission_rate"`

	Weight   CellRef `yaml:"weight"`
	Length   CellRef `yaml:"length"`
	Width    CellRef `yaml:"width"`
	Height   CellRef `yaml:"height"`
	Delivery CellRef `yaml:"delivery"`

	Profit       CellRef `yaml:"profit"`
	ProfitRate   CellRef `yaml:"profit_rate"`
	Shipping     CellRef `yaml:"shipping"`
	Commission   CellRef `yaml:"commission"`
	ChannelIndex CellRef `yaml:"channel_index"`
}

// DefaultLayout is the layout produced by NewTemplate.
func DefaultLayout(calcSheet, shippingSheet string) Layout {
	if calcSheet == "" {
		calcSheet = DefaultCalcSheet
	}
	if shippingSheet == "" {
		shippingSheet = DefaultShippingSheet
	}
	calc := func(cell string) CellRef { return CellRef{Sheet: calcSheet, Cell: cell} }
	ship := func(cell string) CellRef { return CellRef{Sheet: shippingSheet, Cell: cell} }

	return Layout{
		BlackPrice:     calc("B2"),
		GreenPrice:     calc("B3"),
		ListPrice:      calc("B4"),
		PurchasePrice:  calc("B5"),
		CommissionRate: calc("B6"),

		Weight:   ship("Q2"),
		Length:   ship("Q3"),
		Width:    ship("Q4"),
		Height:   ship("Q5"),
		Delivery: ship("Q6"),

		Shipping:     calc("B8"),
		Commission:   calc("B10"),
		Profit:       calc("B12"),
		ProfitRate:   calc("B13"),
		ChannelIndex: ship("Q11"),
	}
}

// Sheets returns the distinct sheet names the layout refers to, sorted.
func (l Layout) Sheets() []string {
	var out []string
	for _, ref := range l.cells() {
		if ref.Sheet != "" && !slices.Contains(out, ref.Sheet) {
			out = append(out, ref.Sheet)
		}
	}
	slices.Sort(out)
	return out
}

// Validate reports the first required cell that is not set. ChannelIndex is
// optional.
func (l Layout) Validate() error {
	for name, ref := range l.required() {
		if ref.Sheet == "" || ref.Cell == "" {
			return fmt.Errorf("layout cell %s is not set", name)
		}
	}
	return nil
}

func (l Layout) required() map[string]CellRef {
	return map[string]CellRef{
		"black_price":     l.BlackPrice,
		"green_price":     l.GreenPrice,
		"list_price":      l.ListPrice,
		"purchase_price":  l.PurchasePrice,
		"commission_rate": l.CommissionRate,
		"weight":          l.Weight,
		"length":          l.Length,
		"width":           l.Width,
		"height":          l.Height,
		"delivery":        l.Delivery,
		"profit":          l.Profit,
		"profit_rate":     l.ProfitRate,
		"shipping":        l.Shipping,
		"commission":      l.Commission,
	}
}

func (l Layout) cells() []CellRef {
	refs := make([]CellRef, 0, 15)
	for _, ref := range l.required() {
		refs = append(refs, ref)
	}
	return append(refs, l.ChannelIndex)
}

// DeliveryFlag encodes a delivery type for the Delivery cell: 0 selects the
// pickup rate, 1 the delivery rate.
func DeliveryFlag(pickup bool) float64 {
	if pickup {
		return 0
	}
	return 1
}
