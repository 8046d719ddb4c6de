package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"clipper/internal/config"
	"clipper/internal/queue"
)

func newStatusCommand(configFlag *string) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the task queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()

			var statuses []queue.Status
			if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
				status, ok := queue.ParseStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown status %q", trimmed)
				}
				statuses = append(statuses, status)
			}

			tasks, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTaskTable(tasks))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show tasks with this status")
	return cmd
}

func renderTaskTable(tasks []*queue.Task) string {
	tw := table.NewWriter()
	if isatty.IsTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
	}

	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Transcribe", "Render", "Split", "Error"})
	for _, task := range tasks {
		title := task.Title
		if title == "" {
			title = task.SourceRef
		}
		tw.AppendRow(table.Row{
			shortID(task.ID),
			title,
			string(task.Status),
			formatPercent(task.TranscriptionProgress),
			formatPercent(task.RenderingProgress),
			formatPercent(task.SplittingProgress),
			task.ErrorMessage,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, WidthMax: 48},
	})
	return tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPercent(value float64) string {
	return fmt.Sprintf("%.0f%%", value)
}
