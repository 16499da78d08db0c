package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
	"github.com/telhawk-systems/telhawk-forensics/internal/dlq"
	"github.com/telhawk-systems/telhawk-forensics/pkg/output"
)

func (a *app) newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq <run-id|file>",
		Short: "Show documents rejected during a run",
		Long: `Read back the documents the search backend rejected during an ingest run.

The argument is either the run id printed by ingest, resolved against the
configured dead letter directory, or the path of a queue file.`,
		Example: `  thawk-forensics dlq 0b7c2f5e-3c1e-4d7a-9a55-0f0c5f3d7a10
  thawk-forensics dlq ./dlq/failed_0b7c2f5e.jsonl --limit 20 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: a.runDLQ,
	}
	cmd.Flags().Int("limit", 0, "maximum number of entries, 0 for all")
	cmd.Flags().String("path", "", "dead letter directory (overrides dlq.base_path)")
	cmd.Flags().StringP("output", "o", "table", "output format: table, json")
	return cmd
}

func (a *app) runDLQ(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("output")
	if dir, _ := cmd.Flags().GetString("path"); dir != "" {
		cfg.DLQ.BasePath = dir
	}

	path := args[0]
	if !strings.HasSuffix(path, ".jsonl") {
		path = dlq.RunFile(cfg.DLQ.BasePath, path)
	}

	docs, err := dlq.Read(cmd.Context(), a.fs, path, limit)
	if err != nil {
		return err
	}

	printer := &output.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
	switch format {
	case "json":
		return printer.JSON(docs)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(docs) == 0 {
		printer.Info("No rejected documents in %s", path)
		return nil
	}
	table := output.NewTable([]string{"TIME", "INDEX", "STATUS", "ERROR", "REASON"})
	for _, d := range docs {
		table.AddRow([]string{
			d.Timestamp.UTC().Format(time.RFC3339),
			d.Index,
			strconv.Itoa(d.Status),
			d.Error,
			d.Reason,
		})
	}
	table.Render(printer.Out)
	return nil
}
