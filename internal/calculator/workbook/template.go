package workbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/rules"

	"github.com/xuri/excelize/v2"
)

// First data row of the channel table on the shipping sheet.
const firstChannelRow = 2

var channelHeaders = []string{
	"Channel", "Weight min, g", "Weight max, g", "Sum of sides max, cm", "Max side, cm",
	"Price min", "Price max", "Pickup base", "Pickup per gram",
	"Delivery base", "Delivery per gram", "Delivery available", "Match", "Cost",
}

// NewTemplate builds a workbook that computes profit and shipping with
// spreadsheet formulas only, laid out as DefaultLayout(calcSheet, shippingSheet).
// The caller owns the returned file and must Close it.
func NewTemplate(calcSheet, shippingSheet string) (*excelize.File, error) {
	const operation = "workbook.NewTemplate"

	if calcSheet == "" {
		calcSheet = DefaultCalcSheet
	}
	if shippingSheet == "" {
		shippingSheet = DefaultShippingSheet
	}
	if calcSheet == shippingSheet {
		return nil, fmt.Errorf("%s: calculation and shipping sheets must differ", operation)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), calcSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: rename sheet: %w", operation, err)
	}
	if _, err := f.NewSheet(shippingSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: create sheet: %w", operation, err)
	}

	w := &sheetWriter{f: f}
	writeCalcSheet(w, calcSheet, shippingSheet)
	writeShippingSheet(w, shippingSheet, calcSheet)
	if w.err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", operation, w.err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(calcSheet, "A1", "B1", style)
		_ = f.SetCellStyle(shippingSheet, "A1", "N1", style)
	}
	_ = f.SetColWidth(calcSheet, "A", "A", 22)
	_ = f.SetColWidth(shippingSheet, "P", "P", 22)
	f.SetActiveSheet(0)

	return f, nil
}

// WriteTemplate saves a NewTemplate workbook to path, creating parent
// directories as needed.
func WriteTemplate(path, calcSheet, shippingSheet string) error {
	f, err := NewTemplate(calcSheet, shippingSheet)
	if err != nil {
		return err
	}
	defer f.Close()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create template directory: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func writeCalcSheet(w *sheetWriter, sheet, shipping string) {
	ship := quoteSheet(shipping)

	w.value(sheet, "A1", "Parameter")
	w.value(sheet, "B1", "Value")

	rows := []struct {
		cell, label string
		value       any
		formula     string
	}{
		{"2", "Black price", 0.0, ""},
		{"3", "Green price", 0.0, ""},
		{"4", "List price", 0.0, ""},
		{"5", "Purchase price", 0.0, ""},
		{"6", "Commission rate, %", 0.0, ""},
		{"8", "Shipping cost", nil, "=" + ship + "!Q10"},
		{"9", "Label fee", calculator.LabelFee, ""},
		{"10", "Commission", nil, "=B4*B6/100"},
		{"11", "Misc fee", nil, fmt.Sprintf("=B4*%g", calculator.MiscFeeRate)},
		{"12", "Profit", nil, "=B4-B5-B8-B9-B10-B11"},
		{"13", "Profit rate, %", nil, "=IF(B5>0,B12/B5*100,0)"},
	}
	for _, r := range rows {
		w.value(sheet, "A"+r.cell, r.label)
		if r.formula != "" {
			w.formula(sheet, "B"+r.cell, r.formula)
		} else {
			w.value(sheet, "B"+r.cell, r.value)
		}
	}
}

func writeShippingSheet(w *sheetWriter, sheet, calc string) {
	for i, h := range channelHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		w.value(sheet, cell, h)
	}

	channels := rules.Channels()
	for i, c := range channels {
		row := firstChannelRow + i
		delivery, available := rules.RatePair{}, 0
		if c.Delivery != nil {
			delivery, available = *c.Delivery, 1
		}
		values := []any{
			c.Name, c.WeightMin, c.WeightMax, c.SumDimensionsMax, c.MaxDimension,
			c.PriceMin, c.PriceMax, c.Pickup.Base, c.Pickup.PerGram,
			delivery.Base, delivery.PerGram, available,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			w.value(sheet, cell, v)
		}
		w.formula(sheet, fmt.Sprintf("M%d", row), fmt.Sprintf(
			"=IF(AND($Q$8<=E%[1]d,$Q$9<=D%[1]d,$Q$7>=F%[1]d,$Q$7<=G%[1]d,$Q$2>=B%[1]d,$Q$2<=C%[1]d),1,0)", row))
		w.formula(sheet, fmt.Sprintf("N%d", row), fmt.Sprintf(
			"=IF(AND($Q$6=1,L%[1]d=1),J%[1]d+$Q$2*K%[1]d,H%[1]d+$Q$2*I%[1]d)", row))
	}

	inputs := []struct {
		row   int
		label string
		value any
	}{
		{2, "Weight, g", 0.0},
		{3, "Length, cm", 0.0},
		{4, "Width, cm", 0.0},
		{5, "Height, cm", 0.0},
		{6, "Delivery (1) / pickup (0)", 1.0},
	}
	for _, in := range inputs {
		w.value(sheet, fmt.Sprintf("P%d", in.row), in.label)
		w.value(sheet, fmt.Sprintf("Q%d", in.row), in.value)
	}

	w.value(sheet, "P7", "List price")
	w.formula(sheet, "Q7", "="+quoteSheet(calc)+"!B4")
	w.value(sheet, "P8", "Max side, cm")
	w.formula(sheet, "Q8", "=MAX(Q3:Q5)")
	w.value(sheet, "P9", "Sum of sides, cm")
	w.formula(sheet, "Q9", "=SUM(Q3:Q5)")
	w.value(sheet, "P10", "Shipping cost")
	w.formula(sheet, "Q10", "="+firstMatch(len(channels), "N%[1]d",
		fmt.Sprintf("IF($Q$6=1,%g,%g)", calculator.DefaultDeliveryShipping, calculator.DefaultPickupShipping)))
	w.value(sheet, "P11", "Matched channel")
	w.formula(sheet, "Q11", "="+firstMatch(len(channels), "%[2]d", "0"))
}

// firstMatch nests one IF per channel row so the first row with Match = 1
// supplies the value. pick is a format with the row as %[1]d and the
// 1-based channel number as %[2]d.
func firstMatch(n int, pick, otherwise string) string {
	expr := otherwise
	for i := n - 1; i >= 0; i-- {
		row := firstChannelRow + i
		expr = fmt.Sprintf("IF(M%d=1,%s,%s)", row, fmt.Sprintf(pick, row, i+1), expr)
	}
	return expr
}

func quoteSheet(name string) string {
	if strings.ContainsAny(name, " -'!()") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

// sheetWriter keeps the first error so the layout code reads top to bottom.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) value(sheet, cell string, v any) {
	if w.err == nil {
		w.err = w.f.SetCellValue(sheet, cell, v)
	}
}

// formula stores the expression without the leading "=", as OOXML expects.
func (w *sheetWriter) formula(sheet, cell, formula string) {
	if w.err == nil {
		w.err = w.f.SetCellFormula(sheet, cell, strings.TrimPrefix(formula, "="))
	}
}
