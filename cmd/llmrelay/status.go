package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"llmrelay/internal/channel"
	"llmrelay/internal/config"
)

const statusCheckTimeout = 10 * time.Second

func statusCmd() *cobra.Command {
	var skipTelegram bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check configuration, Ollama reachability and the Telegram token",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "llmrelay status v%s\n\n", version)

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				printFail(out, "Configuration", err.Error())
				return fmt.Errorf("status: configuration invalid")
			}
			printPass(out, "Configuration", describeSource(resolveConfigPath()))

			failed := 0
			ctx, cancel := context.WithTimeout(cmd.Context(), statusCheckTimeout)
			defer cancel()

			if err := newOllama(cfg).Healthy(ctx); err != nil {
				printFail(out, "Ollama", err.Error())
				failed++
			} else {
				printPass(out, "Ollama", fmt.Sprintf("%s (model %s)", cfg.Ollama.URL, cfg.Ollama.Model))
			}

			if skipTelegram {
				printWarn(out, "Telegram", "skipped")
			} else if err := channel.NewTelegram(channel.TelegramConfig{
				Token:       cfg.Telegram.Token,
				APIEndpoint: cfg.Telegram.APIEndpoint,
				Logger:      logger,
			}).Connect(); err != nil {
				printFail(out, "Telegram", err.Error())
				failed++
			} else {
				printPass(out, "Telegram", "token accepted")
			}

			if failed > 0 {
				return fmt.Errorf("status: %d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipTelegram, "skip-telegram", false, "do not contact the Telegram API")
	return cmd
}

func describeSource(path string) string {
	if path == "" {
		return "defaults + environment"
	}
	return path
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  ✅ %-14s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  ❌ %-14s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  ⚠️  %-14s %s\n", check, detail)
}
