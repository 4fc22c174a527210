package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/seedr-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configuration after defaults, file, env and flags are merged",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if flagJSON {
					return printJSON(os.Stdout, resolvedCfg)
				}

				return config.RenderEffective(resolvedCfg, resolvedPath, os.Stdout)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path in use (it may not exist yet)",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				_, err := fmt.Fprintln(os.Stdout, resolvedPath)
				return err
			},
		},
	)

	return cmd
}
