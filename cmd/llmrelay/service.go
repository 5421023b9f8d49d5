package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const unitName = "llmrelay.service"

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage a systemd user unit for the relay",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "unit",
		Short: "Print the systemd unit without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			wd, _ := os.Getwd()
			fmt.Fprintln(cmd.OutOrStdout(), renderUnit(execPath, resolveConfigPath(), wd))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the relay as a systemd user service",
		Long:  "Writes ~/.config/systemd/user/llmrelay.service. The unit runs in the current directory so .env files there are picked up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runtime.GOOS != "linux" {
				return fmt.Errorf("unsupported OS: %s (supported: linux)", runtime.GOOS)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("cannot determine working directory: %w", err)
			}
			unitPath, err := userUnitPath()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(unitPath, []byte(renderUnit(execPath, resolveConfigPath(), wd)), 0o644); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service installed: %s\n", unitPath)
			fmt.Fprintln(out, "To start:  systemctl --user start llmrelay")
			fmt.Fprintln(out, "To enable: systemctl --user enable llmrelay")
			fmt.Fprintln(out, "To stop:   systemctl --user stop llmrelay")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the systemd user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			unitPath, err := userUnitPath()
			if err != nil {
				return err
			}
			if err := os.Remove(unitPath); err != nil {
				return fmt.Errorf("remove unit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", unitPath)
			return nil
		},
	})

	return cmd
}

func userUnitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", unitName), nil
}

// renderUnit fills the unit template. An empty cfgPath omits --config.
func renderUnit(execPath, cfgPath, workDir string) string {
	execStart := execPath + " run"
	if cfgPath != "" {
		execStart += " --config " + cfgPath
	}
	unit := strings.ReplaceAll(systemdTemplate, "{{EXEC_START}}", execStart)
	return strings.ReplaceAll(unit, "{{WORKDIR}}", workDir)
}

const systemdTemplate = `[Unit]
Description=llmrelay Telegram to Ollama relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC_START}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
