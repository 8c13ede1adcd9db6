package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"profitcalc/internal/calculator"
	"profitcalc/internal/calculator/validation"
	"profitcalc/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	validateEngine    string
	validateCompare   []string
	validateTolerance float64
	validateInputs    string
	validateOutput    string
)

// validateCmd compares engines over a set of inputs
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare the primary engine with other engines",
	Long: `Run every input through the primary engine and the comparison engines and
report the fields on which they disagree beyond the tolerance.

Inputs are read from a JSON array (--inputs) or, without one, a built-in set
covering every shipping channel and both delivery types.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVarP(&validateEngine, "engine", "e", "", "primary engine override")
	f.StringSliceVar(&validateCompare, "compare", nil, "comparison engines (default from configuration)")
	f.Float64Var(&validateTolerance, "tolerance", -1, "relative tolerance, 0.01 = 1% (default from configuration)")
	f.StringVarP(&validateInputs, "inputs", "i", "", "JSON file with an array of inputs")
	f.StringVarP(&validateOutput, "output", "o", "", "write the report to this .xlsx file")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ecfg, err := validationConfig(cfg, validateEngine, validateCompare, validateTolerance)
	if err != nil {
		return err
	}

	inputs := demoInputs()
	if validateInputs != "" {
		if inputs, err = readInputs(validateInputs); err != nil {
			return err
		}
	}

	e, err := engines.CreateEngine(ecfg)
	if err != nil {
		return err
	}
	v, ok := unwrapValidation(e)
	if !ok {
		return fmt.Errorf("engine %s does not validate", e.EngineInfo().Name)
	}

	report := v.GenerateValidationReport(cmd.Context(), inputs, ecfg.BatchSize)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Report %s\n", report.ID)
	fmt.Fprintf(out, "Primary: %s, compared with: %s, tolerance %.2f%%\n",
		report.PrimaryEngine, strings.Join(report.EnginesCompared, ", "), report.Tolerance*100)
	fmt.Fprintf(out, "Inputs: %d, valid: %d, invalid: %d, failed: %d (valid rate %.1f%%)\n",
		report.Total, report.Valid, report.Invalid, report.Failed, report.ValidRate()*100)
	for _, fc := range report.MostFrequentFields() {
		fmt.Fprintf(out, "  %-16s %d\n", fc.Field, fc.Count)
	}

	if validateOutput != "" {
		if err := validation.ExportReport(report, validateOutput); err != nil {
			return err
		}
		log.Info("Validation report exported", zap.String("path", validateOutput))
	}
	return nil
}

// validationConfig turns on validation and applies the command line
// overrides.
func validationConfig(c config.Config, primary string, compare []string, tolerance float64) (config.EngineConfig, error) {
	c.Engine.Validation.Enabled = true
	if len(compare) > 0 {
		kinds := make([]calculator.Kind, 0, len(compare))
		for _, s := range compare {
			k, err := calculator.ParseKind(s)
			if err != nil {
				return config.EngineConfig{}, err
			}
			kinds = append(kinds, k)
		}
		c.Engine.Validation.Engines = kinds
	}
	if tolerance >= 0 {
		c.Engine.Validation.Tolerance = tolerance
	}
	return engineConfig(c, primary)
}

type unwrapper interface {
	Unwrap() calculator.Engine
}

// unwrapValidation finds the validation engine under any decorators.
func unwrapValidation(e calculator.Engine) (*validation.Engine, bool) {
	for e != nil {
		if v, ok := e.(*validation.Engine); ok {
			return v, true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return nil, false
		}
		e = u.Unwrap()
	}
	return nil, false
}

func readInputs(path string) ([]calculator.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	var inputs []calculator.Input
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse inputs %s: %w", path, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs in %s", path)
	}
	return inputs, nil
}

// demoInputs covers each shipping channel, the default rate and both
// delivery types.
func demoInputs() []calculator.Input {
	base := []calculator.Input{
		{ListPrice: 1200, PurchasePrice: 500, CommissionRate: 12, Weight: 300, Length: 20, Width: 15, Height: 5},
		{ListPrice: 2000, PurchasePrice: 800, CommissionRate: 15, Weight: 500, Length: 10, Width: 10, Height: 10},
		{ListPrice: 3500, PurchasePrice: 2600, CommissionRate: 15, Weight: 1200, Length: 30, Width: 20, Height: 10},
		{ListPrice: 6000, PurchasePrice: 4000, CommissionRate: 18, Weight: 1800, Length: 40, Width: 30, Height: 20},
		{ListPrice: 12000, PurchasePrice: 7000, CommissionRate: 20, Weight: 4000, Length: 50, Width: 40, Height: 30},
		{ListPrice: 200000, PurchasePrice: 100000, CommissionRate: 10, Weight: 20000, Length: 50, Width: 50, Height: 50},
		{ListPrice: 900, PurchasePrice: 950, CommissionRate: 15, Weight: 90000, Length: 200, Width: 100, Height: 100},
	}
	out := make([]calculator.Input, 0, 2*len(base))
	for _, dt := range []calculator.DeliveryType{calculator.Pickup, calculator.Delivery} {
		for _, in := range base {
			in.DeliveryType = dt
			out = append(out, in)
		}
	}
	return out
}
