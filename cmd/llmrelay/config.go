package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"llmrelay/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the config file path in use",
		Run: func(cmd *cobra.Command, args []string) {
			if p := resolveConfigPath(); p != "" {
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), "(none: defaults and environment only)")
		},
	})

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(resolveConfigPath())
			if err != nil {
				return err
			}
			return printConfig(cmd, config.Sanitize(cfg), format)
		},
	}
	show.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit non-zero on problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(resolveConfigPath()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	})

	return cmd
}

func printConfig(cmd *cobra.Command, cfg *config.Config, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml", "yml":
		data, err = yaml.Marshal(cfg)
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
