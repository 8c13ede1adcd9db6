package main

import (
	"encoding/json"
	"fmt"
	"io"

	"profitcalc/internal/calculator"
	"profitcalc/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	calcEngine   string
	calcDelivery string
	calcShipping bool
	calcInput    calculator.Input
)

// calcCmd calculates profit for one product
var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Calculate profit and shipping for one product",
	Example: `  profitcalc calc --list-price 2000 --purchase-price 800 --commission 15 \
    --weight 500 --length 10 --width 10 --height 10 --delivery pickup`,
	Args: cobra.NoArgs,
	RunE: runCalc,
}

func init() {
	f := calcCmd.Flags()
	f.Float64Var(&calcInput.ListPrice, "list-price", 0, "list price")
	f.Float64Var(&calcInput.PurchasePrice, "purchase-price", 0, "purchase price")
	f.Float64Var(&calcInput.CommissionRate, "commission", 0, "commission rate in percent")
	f.Float64Var(&calcInput.BlackPrice, "black-price", 0, "black price (informational)")
	f.Float64Var(&calcInput.GreenPrice, "green-price", 0, "green price (informational)")
	f.Float64Var(&calcInput.Weight, "weight", 0, "weight in grams")
	f.Float64Var(&calcInput.Length, "length", 0, "length in centimeters")
	f.Float64Var(&calcInput.Width, "width", 0, "width in centimeters")
	f.Float64Var(&calcInput.Height, "height", 0, "height in centimeters")
	f.StringVar(&calcDelivery, "delivery", "", "pickup or delivery")
	f.StringVarP(&calcEngine, "engine", "e", "", "engine override: auto, rule, formula or bridge")
	f.BoolVar(&calcShipping, "shipping-only", false, "print only the shipping cost")
}

func runCalc(cmd *cobra.Command, _ []string) error {
	dt, err := calculator.ParseDeliveryType(calcDelivery)
	if err != nil {
		return err
	}
	in := calcInput
	in.DeliveryType = dt

	ecfg, err := engineConfig(cfg, calcEngine)
	if err != nil {
		return err
	}
	e, err := engines.CreateEngine(ecfg)
	if err != nil {
		return err
	}

	if calcShipping {
		cost, err := e.CalculateShipping(cmd.Context(), in.Weight, in.Dimensions(), in.ListPrice, in.DeliveryType)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", cost)
		return err
	}

	res, err := e.CalculateProfit(cmd.Context(), in)
	if err != nil {
		return err
	}
	log.Debug("Profit calculated",
		zap.String("engine", res.EngineUsed),
		zap.Float64("profit", res.ProfitAmount),
		zap.Duration("elapsed", res.CalculationTime))
	return printJSON(cmd.OutOrStdout(), res)
}

// engineConfig applies a command line engine override to the loaded
// configuration and revalidates it.
func engineConfig(c config.Config, override string) (config.EngineConfig, error) {
	if override != "" {
		k, err := calculator.ParseKind(override)
		if err != nil {
			return config.EngineConfig{}, err
		}
		c.Engine.Selection = k
	}
	if err := c.Validate(); err != nil {
		return config.EngineConfig{}, err
	}
	return c.Engine, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
