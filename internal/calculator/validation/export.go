package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet       = "Summary"
	discrepanciesSheet = "Discrepancies"
	fieldsSheet        = "Fields"
)

// ExportReport writes the report as a workbook with a summary, every
// discrepancy and the field frequency table.
func ExportReport(r Report, path string) error {
	const operation = "validation.ExportReport"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return fmt.Errorf("%s: failed to create sheet: %w", operation, err)
	}
	for _, name := range []string{discrepanciesSheet, fieldsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", operation, err)
		}
	}

	summary := [][]any{
		{"Report ID", r.ID},
		{"Generated at", r.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Primary engine", r.PrimaryEngine},
		{"Compared with", fmt.Sprint(r.EnginesCompared)},
		{"Tolerance, %", r.Tolerance * 100},
		{"Total inputs", r.Total},
		{"Valid", r.Valid},
		{"Invalid", r.Invalid},
		{"Failed", r.Failed},
		{"Valid rate, %", r.ValidRate() * 100},
	}
	if err := writeRows(f, summarySheet, nil, summary); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	var rows [][]any
	for _, item := range r.Items {
		if item.Error != "" {
			rows = append(rows, []any{item.Index, "", "", "", "", "", "", item.Error})
			continue
		}
		for _, d := range item.Outcome.Discrepancies {
			rows = append(rows, []any{
				item.Index, d.Engine, d.Field, d.PrimaryValue, d.ComparisonValue,
				d.AbsoluteDifference, d.PercentDifference, "",
			})
		}
		for engine, msg := range item.Outcome.Errors {
			rows = append(rows, []any{item.Index, engine, "", "", "", "", "", msg})
		}
	}
	headers := []string{
		"Input #", "Engine", "Field", "Primary value", "Comparison value",
		"Absolute difference", "Difference, %", "Error",
	}
	if err := writeRows(f, discrepanciesSheet, headers, rows); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	rows = rows[:0]
	for _, fc := range r.MostFrequentFields() {
		rows = append(rows, []any{fc.Field, fc.Count})
	}
	if err := writeRows(f, fieldsSheet, []string{"Field", "Discrepancies"}, rows); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), style)
		_ = f.SetCellStyle(discrepanciesSheet, "A1", "H1", style)
		_ = f.SetCellStyle(fieldsSheet, "A1", "B1", style)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)
	f.SetActiveSheet(0)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%s: failed to create reports directory: %w", operation, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%s: failed to save Excel file: %w", operation, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	first := 1
	if headers != nil {
		for col, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
		}
		first = 2
	}
	for i, row := range rows {
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, first+i)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
