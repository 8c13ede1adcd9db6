package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

var infoEngine string

// infoCmd describes the engine the configuration resolves to
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the selected engine and check that it works",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ecfg, err := engineConfig(cfg, infoEngine)
		if err != nil {
			return err
		}
		e, err := engines.CreateEngine(ecfg)
		if err != nil {
			return err
		}

		info := e.EngineInfo()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Engine:       %s (%s) v%s\n", info.Name, info.Kind, info.Version)
		fmt.Fprintf(out, "Description:  %s\n", info.Description)
		fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(info.Capabilities, ", "))

		keys := make([]string, 0, len(info.Details))
		for k := range info.Details {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %-20s %s\n", k, info.Details[k])
		}

		if !e.ValidateConnection(cmd.Context()) {
			return fmt.Errorf("engine %s failed its connection check", info.Name)
		}
		fmt.Fprintln(out, "Connection:   ok")
		return nil
	},
}

func init() {
	infoCmd.Flags().StringVarP(&infoEngine, "engine", "e", "", "engine override: auto, rule, formula or bridge")
}
