// Package bridge drives a live spreadsheet application through automation.
// All engines in a process share one application instance, started on first
// use and quit when the last engine closes.
package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedPlatform is returned when no automation driver exists for the
// running operating system.
var ErrUnsupportedPlatform = errors.New("native spreadsheet automation is only available on windows")

// Application is a running spreadsheet application.
type Application interface {
	OpenWorkbook(path string) (Workbook, error)
	Quit() error
}

// Workbook is one document opened in an Application.
type Workbook interface {
	Sheets() ([]string, error)
	SetValue(sheet, cell string, v float64) error
	// Value returns the cell as a number. Empty cells read as 0.
	Value(sheet, cell string) (float64, error)
	Recalculate() error
	SetManualCalculation(manual bool) error
	Close() error
}

// Launcher starts a new Application.
type Launcher func() (Application, error)

// toFloat converts an automation cell value to a number.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected cell value of type %T", v)
	}
}
