package validation

import (
	"cmp"
	"context"
	"slices"
	"time"

	"profitcalc/internal/calculator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Report aggregates validation outcomes over a set of inputs.
type Report struct {
	ID              string         `json:"id"`
	GeneratedAt     time.Time      `json:"generated_at"`
	PrimaryEngine   string         `json:"primary_engine"`
	EnginesCompared []string       `json:"engines_compared"`
	Tolerance       float64        `json:"tolerance"`
	Total           int            `json:"total"`
	Valid           int            `json:"valid"`
	Invalid         int            `json:"invalid"`
	Failed          int            `json:"failed"`
	FieldFrequency  map[string]int `json:"field_frequency"`
	EngineFrequency map[string]int `json:"engine_frequency"`
	Items           []ReportItem   `json:"items"`
}

// ReportItem is the outcome for one input. Error is set when the primary
// engine failed and no comparison took place.
type ReportItem struct {
	Index   int               `json:"index"`
	Input   calculator.Input  `json:"input"`
	Result  calculator.Result `json:"result"`
	Outcome Outcome           `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// FieldCount is one row of the field frequency table.
type FieldCount struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// GenerateValidationReport validates every input in batches of batchSize
// (all at once when batchSize < 1). A primary engine failure on one input is
// counted as failed and does not stop the run.
func (e *Engine) GenerateValidationReport(ctx context.Context, inputs []calculator.Input, batchSize int) Report {
	info := e.EngineInfo()
	r := Report{
		ID:              uuid.NewString(),
		GeneratedAt:     time.Now().UTC(),
		PrimaryEngine:   info.Details["primary"],
		EnginesCompared: make([]string, 0, len(e.comparisons)),
		Tolerance:       e.tolerance,
		Total:           len(inputs),
		FieldFrequency:  make(map[string]int),
		EngineFrequency: make(map[string]int),
		Items:           make([]ReportItem, 0, len(inputs)),
	}
	for _, c := range e.comparisons {
		r.EnginesCompared = append(r.EnginesCompared, c.EngineInfo().Name)
	}

	for _, b := range calculator.BatchCalculate(ctx, e, inputs, batchSize, e.logger) {
		item := ReportItem{Index: b.Index, Input: b.Input}
		if b.Err != nil {
			item.Error = b.Err.Error()
			r.Failed++
			r.Items = append(r.Items, item)
			continue
		}

		item.Result = b.Result
		item.Outcome, _ = OutcomeOf(b.Result)
		if item.Outcome.IsValid {
			r.Valid++
		} else {
			r.Invalid++
		}
		for _, d := range item.Outcome.Discrepancies {
			r.FieldFrequency[d.Field]++
			r.EngineFrequency[d.Engine]++
		}
		for name := range item.Outcome.Errors {
			r.EngineFrequency[name]++
		}
		r.Items = append(r.Items, item)
	}

	e.logger.Info("Validation report generated",
		zap.String("report_id", r.ID),
		zap.Int("total", r.Total),
		zap.Int("valid", r.Valid),
		zap.Int("invalid", r.Invalid),
		zap.Int("failed", r.Failed))
	return r
}

// MostFrequentFields returns the field frequency table ordered from the most
// to the least disputed field, ties by name.
func (r Report) MostFrequentFields() []FieldCount {
	out := make([]FieldCount, 0, len(r.FieldFrequency))
	for f, n := range r.FieldFrequency {
		out = append(out, FieldCount{Field: f, Count: n})
	}
	slices.SortFunc(out, func(a, b FieldCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Field, b.Field)
	})
	return out
}

// ValidRate is the share of calculated inputs that passed validation.
func (r Report) ValidRate() float64 {
	calculated := r.Valid + r.Invalid
	if calculated == 0 {
		return 0
	}
	return float64(r.Valid) / float64(calculated)
}
