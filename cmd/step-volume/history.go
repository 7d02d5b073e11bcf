// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/step-volume/internal/history"
)

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded extraction runs",
		Long: `History prints the runs recorded in the history database, newest first.
Recording is enabled by setting --history-db or history_db in the config
file. Output is JSON by default; use --format yaml for YAML.`,
		Args: cobra.NoArgs,
		RunE: a.runHistory,
	}
	cmd.Flags().String("format", history.FormatJSON, "output format: json or yaml")
	cmd.Flags().Int("limit", 20, "maximum number of runs to list (0 lists all)")
	return cmd
}

func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	limit, _ := cmd.Flags().GetInt("limit")
	if format != history.FormatJSON && format != history.FormatYAML {
		return fmt.Errorf("--format must be %s or %s, got %q", history.FormatJSON, history.FormatYAML, format)
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return errors.New("no history database configured (set --history-db or history_db)")
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return history.Export(a.stdout, records, format)
}
