//go:build windows

package bridge

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// XlCalculation values.
const (
	xlCalculationAutomatic = -4105
	xlCalculationManual    = -4135
)

// Supported reports whether this platform has an automation driver.
func Supported() bool { return true }

// platformLauncher starts a hidden Excel instance through COM.
func platformLauncher() (Application, error) {
	thread, err := newCOMThread()
	if err != nil {
		return nil, err
	}

	app := &excelApp{thread: thread}
	err = thread.do(func() error {
		unknown, err := oleutil.CreateObject("Excel.Application")
		if err != nil {
			return fmt.Errorf("create Excel.Application: %w", err)
		}
		defer unknown.Release()

		disp, err := unknown.QueryInterface(ole.IID_IDispatch)
		if err != nil {
			return fmt.Errorf("query IDispatch: %w", err)
		}
		app.disp = disp

		for _, prop := range []string{"Visible", "DisplayAlerts", "ScreenUpdating"} {
			if _, err := oleutil.PutProperty(disp, prop, false); err != nil {
				return fmt.Errorf("set %s: %w", prop, err)
			}
		}
		return nil
	})
	if err != nil {
		if app.disp != nil {
			_ = app.Quit()
		} else {
			thread.stop()
		}
		return nil, err
	}
	return app, nil
}

// comThread serialises COM calls onto one locked OS thread.
type comThread struct {
	mu     sync.Mutex
	calls  chan func()
	closed bool
}

func newCOMThread() (*comThread, error) {
	t := &comThread{calls: make(chan func())}
	ready := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
			var oleErr *ole.OleError
			// S_FALSE: already initialised on this thread.
			if !errors.As(err, &oleErr) || oleErr.Code() != 1 {
				ready <- fmt.Errorf("initialise COM: %w", err)
				return
			}
		}
		defer ole.CoUninitialize()

		ready <- nil
		for fn := range t.calls {
			fn()
		}
	}()

	if err := <-ready; err != nil {
		return nil, err
	}
	return t, nil
}

func (t *comThread) do(fn func() error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("spreadsheet application is closed")
	}
	errCh := make(chan error, 1)
	t.calls <- func() { errCh <- fn() }
	t.mu.Unlock()
	return <-errCh
}

func (t *comThread) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.calls)
	}
}

type excelApp struct {
	thread *comThread
	disp   *ole.IDispatch
}

func (a *excelApp) OpenWorkbook(path string) (Workbook, error) {
	b := &excelBook{app: a}
	err := a.thread.do(func() error {
		books, err := oleutil.GetProperty(a.disp, "Workbooks")
		if err != nil {
			return fmt.Errorf("get Workbooks: %w", err)
		}
		defer books.Clear()

		wb, err := oleutil.CallMethod(books.ToIDispatch(), "Open", path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		b.disp = wb.ToIDispatch()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (a *excelApp) Quit() error {
	err := a.thread.do(func() error {
		defer a.disp.Release()
		if _, err := oleutil.CallMethod(a.disp, "Quit"); err != nil {
			return fmt.Errorf("quit: %w", err)
		}
		return nil
	})
	a.thread.stop()
	return err
}

type excelBook struct {
	app  *excelApp
	disp *ole.IDispatch
}

func (b *excelBook) Sheets() ([]string, error) {
	var names []string
	err := b.app.thread.do(func() error {
		sheets, err := oleutil.GetProperty(b.disp, "Worksheets")
		if err != nil {
			return fmt.Errorf("get Worksheets: %w", err)
		}
		defer sheets.Clear()

		count, err := oleutil.GetProperty(sheets.ToIDispatch(), "Count")
		if err != nil {
			return fmt.Errorf("count worksheets: %w", err)
		}
		n, err := toFloat(count.Value())
		if err != nil {
			return err
		}

		for i := 1; i <= int(n); i++ {
			sheet, err := oleutil.GetProperty(sheets.ToIDispatch(), "Item", i)
			if err != nil {
				return fmt.Errorf("worksheet %d: %w", i, err)
			}
			name, err := oleutil.GetProperty(sheet.ToIDispatch(), "Name")
			sheet.Clear()
			if err != nil {
				return fmt.Errorf("worksheet %d name: %w", i, err)
			}
			names = append(names, name.ToString())
		}
		return nil
	})
	return names, err
}

// withRange runs fn with the IDispatch of sheet!cell.
func (b *excelBook) withRange(sheet, cell string, fn func(rng *ole.IDispatch) error) error {
	return b.app.thread.do(func() error {
		ws, err := oleutil.GetProperty(b.disp, "Worksheets", sheet)
		if err != nil {
			return fmt.Errorf("worksheet %s: %w", sheet, err)
		}
		defer ws.Clear()

		rng, err := oleutil.GetProperty(ws.ToIDispatch(), "Range", cell)
		if err != nil {
			return fmt.Errorf("range %s!%s: %w", sheet, cell, err)
		}
		defer rng.Clear()

		return fn(rng.ToIDispatch())
	})
}

func (b *excelBook) SetValue(sheet, cell string, v float64) error {
	return b.withRange(sheet, cell, func(rng *ole.IDispatch) error {
		if _, err := oleutil.PutProperty(rng, "Value", v); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
		}
		return nil
	})
}

func (b *excelBook) Value(sheet, cell string) (float64, error) {
	var out float64
	err := b.withRange(sheet, cell, func(rng *ole.IDispatch) error {
		v, err := oleutil.GetProperty(rng, "Value")
		if err != nil {
			return fmt.Errorf("read %s!%s: %w", sheet, cell, err)
		}
		defer v.Clear()

		out, err = toFloat(v.Value())
		if err != nil {
			return fmt.Errorf("read %s!%s: %w", sheet, cell, err)
		}
		return nil
	})
	return out, err
}

func (b *excelBook) Recalculate() error {
	return b.app.thread.do(func() error {
		if _, err := oleutil.CallMethod(b.app.disp, "CalculateFull"); err != nil {
			return fmt.Errorf("recalculate: %w", err)
		}
		return nil
	})
}

func (b *excelBook) SetManualCalculation(manual bool) error {
	mode := xlCalculationAutomatic
	if manual {
		mode = xlCalculationManual
	}
	return b.app.thread.do(func() error {
		if _, err := oleutil.PutProperty(b.app.disp, "Calculation", mode); err != nil {
			return fmt.Errorf("set calculation mode: %w", err)
		}
		return nil
	})
}

func (b *excelBook) Close() error {
	return b.app.thread.do(func() error {
		defer b.disp.Release()
		if _, err := oleutil.CallMethod(b.disp, "Close", false); err != nil {
			return fmt.Errorf("close workbook: %w", err)
		}
		return nil
	})
}
