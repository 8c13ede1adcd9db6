// Package formula evaluates a spreadsheet formula document in-process with
// excelize. Inputs are written to fixed cells, the formula graph is evaluated
// and the results are read back from fixed output cells.
package formula

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/workbook"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	Name    = "formula_engine"
	Version = "1.0"
)

type Config struct {
	WorkbookPath  string
	CalcSheet     string
	ShippingSheet string
	// Layout overrides the default cell positions. The zero value means
	// workbook.DefaultLayout(CalcSheet, ShippingSheet).
	Layout workbook.Layout
}

// Engine is safe for concurrent use; calls are serialised because inputs
// are written into the shared document.
type Engine struct {
	mu     sync.Mutex
	file   *excelize.File
	cfg    Config
	layout workbook.Layout
	logger *zap.Logger
}

// New loads the workbook and resolves its sheets. A missing document or an
// unresolvable sheet is a construction error.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkbookPath == "" {
		return nil, calculator.NewConstructionError(Name, errors.New("workbook path is not configured"))
	}
	if _, err := os.Stat(cfg.WorkbookPath); err != nil {
		return nil, calculator.NewConstructionError(Name, fmt.Errorf("workbook: %w", err))
	}

	f, err := excelize.OpenFile(cfg.WorkbookPath)
	if err != nil {
		return nil, calculator.NewConstructionError(Name, fmt.Errorf("open workbook: %w", err))
	}

	e, err := NewFromFile(f, cfg, logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

// NewFromFile wraps an already opened workbook. The engine takes ownership of
// f and closes it on Close.
func NewFromFile(f *excelize.File, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CalcSheet == "" {
		cfg.CalcSheet = workbook.DefaultCalcSheet
	}
	if cfg.ShippingSheet == "" {
		cfg.ShippingSheet = workbook.DefaultShippingSheet
	}

	layout := cfg.Layout
	if layout == (workbook.Layout{}) {
		layout = workbook.DefaultLayout(cfg.CalcSheet, cfg.ShippingSheet)
	}
	if err := layout.Validate(); err != nil {
		return nil, calculator.NewConstructionError(Name, err)
	}

	available := f.GetSheetList()
	for _, sheet := range layout.Sheets() {
		if !slices.Contains(available, sheet) {
			return nil, calculator.NewConstructionError(Name,
				fmt.Errorf("sheet %q not found (workbook has %s)", sheet, strings.Join(available, ", ")))
		}
	}

	e := &Engine{
		file:   f,
		cfg:    cfg,
		layout: layout,
		logger: logger.With(zap.String("engine", Name)),
	}
	e.logger.Info("Formula workbook loaded",
		zap.String("path", cfg.WorkbookPath),
		zap.String("calc_sheet", cfg.CalcSheet),
		zap.String("shipping_sheet", cfg.ShippingSheet))
	return e, nil
}

func (e *Engine) CalculateProfit(ctx context.Context, in calculator.Input) (calculator.Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return calculator.Result{}, fmt.Errorf("formula.CalculateProfit: %w", err)
	}
	if err := in.Validate(); err != nil {
		return calculator.Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writeInput(in); err != nil {
		return calculator.Result{}, calculator.NewCalculationError(Name, err)
	}

	r := &cellReader{e: e}
	profit := r.read(e.layout.Profit)
	rate := r.read(e.layout.ProfitRate)
	shipping := r.read(e.layout.Shipping)
	commission := r.read(e.layout.Commission)
	channel := 0.0
	if e.layout.ChannelIndex.Cell != "" {
		channel = r.read(e.layout.ChannelIndex)
	}
	if r.err != nil {
		return calculator.Result{}, calculator.NewCalculationError(Name, r.err)
	}

	diag := map[string]any{
		"workbook":              e.cfg.WorkbookPath,
		"channel_index":         int(channel),
		"default_shipping_used": e.layout.ChannelIndex.Cell != "" && channel == 0,
		"label_fee":             calculator.LabelFee,
		"misc_fee":              in.ListPrice * calculator.MiscFeeRate,
	}
	return calculator.NewResult(in, Name, profit, rate, shipping, commission, time.Since(start), diag), nil
}

func (e *Engine) CalculateShipping(ctx context.Context, weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("formula.CalculateShipping: %w", err)
	}
	if err := calculator.ValidateParcel(weight, dims, listPrice); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writeParcel(weight, dims, listPrice, dt); err != nil {
		return 0, calculator.NewCalculationError(Name, err)
	}
	r := &cellReader{e: e}
	cost := r.read(e.layout.Shipping)
	if r.err != nil {
		return 0, calculator.NewCalculationError(Name, r.err)
	}
	return cost, nil
}

// ValidateConnection evaluates the profit cell once to prove the formula
// graph is readable.
func (e *Engine) ValidateConnection(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return false
	}
	r := &cellReader{e: e}
	r.read(e.layout.Profit)
	if r.err != nil {
		e.logger.Warn("Formula workbook check failed", zap.Error(r.err))
		return false
	}
	return true
}

func (e *Engine) EngineInfo() calculator.Info {
	return calculator.Info{
		Name:         Name,
		Kind:         calculator.KindFormula,
		Version:      Version,
		Description:  "Spreadsheet formula document evaluated in-process",
		Capabilities: []string{calculator.CapabilityProfit, calculator.CapabilityShipping},
		Details: map[string]string{
			"workbook":       e.cfg.WorkbookPath,
			"calc_sheet":     e.cfg.CalcSheet,
			"shipping_sheet": e.cfg.ShippingSheet,
		},
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

func (e *Engine) writeInput(in calculator.Input) error {
	values := []struct {
		ref workbook.CellRef
		v   float64
	}{
		{e.layout.BlackPrice, in.BlackPrice},
		{e.layout.GreenPrice, in.GreenPrice},
		{e.layout.PurchasePrice, in.PurchasePrice},
		{e.layout.CommissionRate, in.CommissionRate},
	}
	for _, c := range values {
		if err := e.set(c.ref, c.v); err != nil {
			return err
		}
	}
	return e.writeParcel(in.Weight, in.Dimensions(), in.ListPrice, in.DeliveryType)
}

func (e *Engine) writeParcel(weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) error {
	values := []struct {
		ref workbook.CellRef
		v   float64
	}{
		{e.layout.ListPrice, listPrice},
		{e.layout.Weight, weight},
		{e.layout.Length, dims.Length},
		{e.layout.Width, dims.Width},
		{e.layout.Height, dims.Height},
		{e.layout.Delivery, workbook.DeliveryFlag(dt.IsPickup())},
	}
	for _, c := range values {
		if err := e.set(c.ref, c.v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) set(ref workbook.CellRef, v float64) error {
	if e.file == nil {
		return errors.New("engine is closed")
	}
	if err := e.file.SetCellValue(ref.Sheet, ref.Cell, v); err != nil {
		return fmt.Errorf("write %s: %w", ref, err)
	}
	return nil
}

// cellReader evaluates output cells and keeps the first error.
type cellReader struct {
	e   *Engine
	err error
}

func (r *cellReader) read(ref workbook.CellRef) float64 {
	if r.err != nil {
		return 0
	}
	if r.e.file == nil {
		r.err = errors.New("engine is closed")
		return 0
	}
	raw, err := r.e.file.CalcCellValue(ref.Sheet, ref.Cell, excelize.Options{RawCellValue: true})
	if err != nil {
		r.err = fmt.Errorf("evaluate %s: %w", ref, err)
		return 0
	}
	v, err := parseNumber(raw)
	if err != nil {
		r.err = fmt.Errorf("evaluate %s: %w", ref, err)
		return 0
	}
	return v
}

// parseNumber treats empty cells as 0 and rejects spreadsheet error values.
func parseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return 0, nil
	case strings.HasPrefix(raw, "#"):
		return 0, fmt.Errorf("formula error %s", raw)
	case strings.EqualFold(raw, "TRUE"):
		return 1, nil
	case strings.EqualFold(raw, "FALSE"):
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return v, nil
}

var _ calculator.Engine = (*Engine)(nil)
