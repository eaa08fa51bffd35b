package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tbgwctl/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  withMetrics(runConfigShow),
	}
}

func runConfigShow(_ *cobra.Command, _ []string, cc *CLIContext) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, cc.Cfg.Redacted())
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}
