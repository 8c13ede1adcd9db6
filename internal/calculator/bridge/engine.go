package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/workbook"

	"go.uber.org/zap"
)

const (
	Name    = "bridge_engine"
	Version = "1.0"
)

type Config struct {
	WorkbookPath  string
	CalcSheet     string
	ShippingSheet string
	Layout        workbook.Layout
	// Pool defaults to SharedPool().
	Pool *Pool
}

// Engine computes results in the live application. Calls are serialised
// because the inputs share the workbook's cells.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	path   string
	layout workbook.Layout
	lease  *Lease
	book   Workbook
	logger *zap.Logger
}

// New opens the workbook in the pooled application. On platforms without a
// driver it fails immediately with ErrUnsupportedPlatform.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pool == nil {
		if !Supported() {
			return nil, calculator.NewConstructionError(Name, ErrUnsupportedPlatform)
		}
		cfg.Pool = SharedPool()
	}
	if cfg.WorkbookPath == "" {
		return nil, calculator.NewConstructionError(Name, errors.New("workbook path is not configured"))
	}
	path, err := filepath.Abs(cfg.WorkbookPath)
	if err != nil {
		return nil, calculator.NewConstructionError(Name, fmt.Errorf("workbook: %w", err))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, calculator.NewConstructionError(Name, fmt.Errorf("workbook: %w", err))
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

	lease, err := cfg.Pool.Acquire()
	if err != nil {
		return nil, calculator.NewConstructionError(Name, err)
	}
	book, err := lease.App().OpenWorkbook(path)
	if err != nil {
		_ = lease.Release()
		return nil, calculator.NewConstructionError(Name, err)
	}

	if err := checkSheets(book, layout); err != nil {
		_ = book.Close()
		_ = lease.Release()
		return nil, calculator.NewConstructionError(Name, err)
	}

	e := &Engine{
		cfg:    cfg,
		path:   path,
		layout: layout,
		lease:  lease,
		book:   book,
		logger: logger.With(zap.String("engine", Name)),
	}
	e.logger.Info("Workbook opened in spreadsheet application",
		zap.String("path", path),
		zap.Int("refs", cfg.Pool.Refs()))
	return e, nil
}

func checkSheets(book Workbook, layout workbook.Layout) error {
	available, err := book.Sheets()
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	for _, sheet := range layout.Sheets() {
		if !slices.Contains(available, sheet) {
			return fmt.Errorf("sheet %q not found (workbook has %s)", sheet, strings.Join(available, ", "))
		}
	}
	return nil
}

func (e *Engine) CalculateProfit(ctx context.Context, in calculator.Input) (calculator.Result, error) {
	if err := ctx.Err(); err != nil {
		return calculator.Result{}, fmt.Errorf("bridge.CalculateProfit: %w", err)
	}
	if err := in.Validate(); err != nil {
		return calculator.Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calculate(in, false)
}

// CalculateBatch switches the application to manual calculation for the
// batch, so writing inputs does not trigger a recalculation per cell.
func (e *Engine) CalculateBatch(ctx context.Context, inputs []calculator.Input) []calculator.BatchItem {
	items := make([]calculator.BatchItem, len(inputs))
	for i, in := range inputs {
		items[i] = calculator.BatchItem{Index: i, Input: in}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.book == nil {
		for i := range items {
			items[i].Err = calculator.NewCalculationError(Name, errors.New("engine is closed"))
		}
		return items
	}

	if err := e.book.SetManualCalculation(true); err != nil {
		e.logger.Warn("Manual calculation unavailable, recalculating per write", zap.Error(err))
	} else {
		defer func() {
			if err := e.book.SetManualCalculation(false); err != nil {
				e.logger.Error("Failed to restore automatic calculation", zap.Error(err))
			}
		}()
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			items[i].Err = fmt.Errorf("bridge.CalculateBatch: %w", err)
			continue
		}
		if err := items[i].Input.Validate(); err != nil {
			items[i].Err = err
			continue
		}
		items[i].Result, items[i].Err = e.calculate(items[i].Input, true)
	}
	return items
}

func (e *Engine) calculate(in calculator.Input, batched bool) (calculator.Result, error) {
	start := time.Now()
	if e.book == nil {
		return calculator.Result{}, calculator.NewCalculationError(Name, errors.New("engine is closed"))
	}

	if err := e.writeInput(in); err != nil {
		return calculator.Result{}, calculator.NewCalculationError(Name, err)
	}
	if err := e.book.Recalculate(); err != nil {
		return calculator.Result{}, calculator.NewCalculationError(Name, err)
	}

	r := &cellReader{book: e.book}
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
		"workbook":              e.path,
		"channel_index":         int(channel),
		"default_shipping_used": e.layout.ChannelIndex.Cell != "" && channel == 0,
		"label_fee":             calculator.LabelFee,
		"misc_fee":              in.ListPrice * calculator.MiscFeeRate,
		"batched":               batched,
	}
	return calculator.NewResult(in, Name, profit, rate, shipping, commission, time.Since(start), diag), nil
}

func (e *Engine) CalculateShipping(ctx context.Context, weight float64, dims calculator.Dimensions, listPrice float64, dt calculator.DeliveryType) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("bridge.CalculateShipping: %w", err)
	}
	if err := calculator.ValidateParcel(weight, dims, listPrice); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.book == nil {
		return 0, calculator.NewCalculationError(Name, errors.New("engine is closed"))
	}
	if err := e.writeParcel(weight, dims, listPrice, dt); err != nil {
		return 0, calculator.NewCalculationError(Name, err)
	}
	if err := e.book.Recalculate(); err != nil {
		return 0, calculator.NewCalculationError(Name, err)
	}
	r := &cellReader{book: e.book}
	cost := r.read(e.layout.Shipping)
	if r.err != nil {
		return 0, calculator.NewCalculationError(Name, r.err)
	}
	return cost, nil
}

// ValidateConnection reads the profit cell through the application.
func (e *Engine) ValidateConnection(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.book == nil {
		return false
	}
	if _, err := e.book.Value(e.layout.Profit.Sheet, e.layout.Profit.Cell); err != nil {
		e.logger.Warn("Spreadsheet application check failed", zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) EngineInfo() calculator.Info {
	return calculator.Info{
		Name:        Name,
		Kind:        calculator.KindBridge,
		Version:     Version,
		Description: "Live spreadsheet application driven through automation",
		Capabilities: []string{
			calculator.CapabilityProfit,
			calculator.CapabilityShipping,
			calculator.CapabilityBatch,
		},
		Details: map[string]string{
			"workbook":       e.path,
			"calc_sheet":     e.cfg.CalcSheet,
			"shipping_sheet": e.cfg.ShippingSheet,
		},
	}
}

// Close closes the workbook and releases this engine's reference on the
// application. The application quits with the last reference.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.book == nil {
		return nil
	}
	var errs []error
	if err := e.book.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close workbook: %w", err))
	}
	if err := e.lease.Release(); err != nil {
		errs = append(errs, err)
	}
	e.book = nil
	e.logger.Info("Bridge engine closed", zap.Int("refs", e.cfg.Pool.Refs()))
	return errors.Join(errs...)
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
		if err := e.book.SetValue(c.ref.Sheet, c.ref.Cell, c.v); err != nil {
			return fmt.Errorf("write %s: %w", c.ref, err)
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
		if err := e.book.SetValue(c.ref.Sheet, c.ref.Cell, c.v); err != nil {
			return fmt.Errorf("write %s: %w", c.ref, err)
		}
	}
	return nil
}

type cellReader struct {
	book Workbook
	err  error
}

func (r *cellReader) read(ref workbook.CellRef) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.book.Value(ref.Sheet, ref.Cell)
	if err != nil {
		r.err = fmt.Errorf("read %s: %w", ref, err)
		return 0
	}
	return v
}

var (
	_ calculator.Engine          = (*Engine)(nil)
	_ calculator.BatchCalculator = (*Engine)(nil)
)
