package main

import (
	"profitcalc/internal/calculator"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchEngine string
	batchInputs string
	batchSize   int
)

// batchCmd calculates many products in one run
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Calculate profit for a list of products",
	Long: `Calculate every input from a JSON array (--inputs) or, without one, the
built-in demo set. Engines that support it receive the inputs in batches of
engine.batch_size. A failing input is reported next to its index and does
not stop the run.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchEngine, "engine", "e", "", "engine override: auto, rule, formula or bridge")
	f.StringVarP(&batchInputs, "inputs", "i", "", "JSON file with an array of inputs")
	f.IntVar(&batchSize, "batch-size", 0, "inputs per batch (default from configuration)")
}

type batchLine struct {
	Index  int                `json:"index"`
	Result *calculator.Result `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ecfg, err := engineConfig(cfg, batchEngine)
	if err != nil {
		return err
	}
	size := ecfg.BatchSize
	if batchSize > 0 {
		size = batchSize
	}

	inputs := demoInputs()
	if batchInputs != "" {
		if inputs, err = readInputs(batchInputs); err != nil {
			return err
		}
	}

	e, err := engines.CreateEngine(ecfg)
	if err != nil {
		return err
	}

	items := calculator.BatchCalculate(cmd.Context(), e, inputs, size, log)

	lines := make([]batchLine, len(items))
	failed := 0
	for i, item := range items {
		lines[i].Index = item.Index
		if item.Err != nil {
			lines[i].Error = item.Err.Error()
			failed++
			continue
		}
		lines[i].Result = &item.Result
	}
	log.Info("Batch finished",
		zap.String("engine", e.EngineInfo().Name),
		zap.Int("inputs", len(items)),
		zap.Int("failed", failed),
		zap.Int("batch_size", size))
	return printJSON(cmd.OutOrStdout(), lines)
}
