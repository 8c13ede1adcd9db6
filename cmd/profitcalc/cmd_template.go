package main

import (
	"fmt"

	"profitcalc/internal/calculator/workbook"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	templateCalcSheet     string
	templateShippingSheet string
)

// templateCmd writes the reference formula workbook
var templateCmd = &cobra.Command{
	Use:   "template <path.xlsx>",
	Short: "Write a formula workbook usable by the formula and bridge engines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if err := workbook.WriteTemplate(path, templateCalcSheet, templateShippingSheet); err != nil {
			return err
		}
		log.Info("Template written", zap.String("path", path))
		_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}

func init() {
	templateCmd.Flags().StringVar(&templateCalcSheet, "calc-sheet", workbook.DefaultCalcSheet, "name of the calculation sheet")
	templateCmd.Flags().StringVar(&templateShippingSheet, "shipping-sheet", workbook.DefaultShippingSheet, "name of the shipping sheet")
}
