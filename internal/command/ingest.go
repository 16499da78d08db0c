package command

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
	"github.com/telhawk-systems/telhawk-forensics/internal/dlq"
	"github.com/telhawk-systems/telhawk-forensics/internal/logging"
	"github.com/telhawk-systems/telhawk-forensics/internal/metrics"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer"
	"github.com/telhawk-systems/telhawk-forensics/internal/pipeline"
	"github.com/telhawk-systems/telhawk-forensics/internal/storage"
	"github.com/telhawk-systems/telhawk-forensics/pkg/output"
)

func (a *app) newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Normalize a timeline and index it",
		Long:  "Read a plaso JSON-lines timeline, normalize every record and bulk index the documents",
		Example: `  thawk-forensics ingest --case-name IR-2024 --machine-name WS01 --timeline timeline.jsonl
  thawk-forensics ingest --case-name IR-2024 --machine-name WS01 --timeline timeline.jsonl --dry-run`,
		RunE: a.runIngest,
	}

	addTargetFlags(cmd)
	cmd.Flags().String("timeline", "", "path to the plaso JSON-lines timeline")
	cmd.Flags().Int("chunk-size", 0, "documents per progress chunk")
	cmd.Flags().String("mode", "", "upload mode: parallel or streaming")
	cmd.Flags().Bool("dry-run", false, "print NDJSON to stdout instead of indexing")
	_ = cmd.MarkFlagRequired("timeline")
	return cmd
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("case-name", "", "investigation case name")
	cmd.Flags().String("machine-name", "", "examined machine name")
	cmd.Flags().String("es-hosts", "", "comma separated OpenSearch URLs")
	cmd.Flags().String("es-user", "", "OpenSearch username")
	cmd.Flags().String("es-pass", "", "OpenSearch password")
	cmd.Flags().Bool("verify-ssl", false, "verify the OpenSearch TLS certificate")
}

// loadConfig reads the config file and environment, then applies flags the
// user set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("case-name") {
		cfg.Case.Name, _ = flags.GetString("case-name")
	}
	if flags.Changed("machine-name") {
		cfg.Case.Machine, _ = flags.GetString("machine-name")
	}
	if flags.Changed("es-hosts") {
		hosts, _ := flags.GetString("es-hosts")
		cfg.OpenSearch.URLs = config.SplitList(hosts)
	}
	if flags.Changed("es-user") {
		cfg.OpenSearch.Username, _ = flags.GetString("es-user")
	}
	if flags.Changed("es-pass") {
		cfg.OpenSearch.Password, _ = flags.GetString("es-pass")
	}
	if flags.Changed("verify-ssl") {
		verify, _ := flags.GetBool("verify-ssl")
		cfg.OpenSearch.TLSSkipVerify = !verify
	}
	if flags.Lookup("chunk-size") != nil && flags.Changed("chunk-size") {
		cfg.Bulk.ChunkSize, _ = flags.GetInt("chunk-size")
	}
	if flags.Lookup("mode") != nil && flags.Changed("mode") {
		cfg.Bulk.Mode, _ = flags.GetString("mode")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Case.Name == "" || cfg.Case.Machine == "" {
		return nil, errors.New("case name and machine name are required")
	}
	return cfg, nil
}

func (a *app) runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	timelinePath, _ := cmd.Flags().GetString("timeline")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	logger := logging.Default()
	runID := uuid.NewString()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithRunID(ctx, runID)

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.NewServer(cfg.Metrics.Addr).Run(ctx); err != nil {
				logger.WarnContext(ctx, "metrics server stopped", logging.Error(err))
			}
		}()
	}

	f, err := pipeline.Open(a.fs, timelinePath)
	if err != nil {
		return err
	}
	defer f.Close()

	prefix := model.IndexPrefix(cfg.Case.Name, cfg.Case.Machine)
	logger.InfoContext(ctx, "starting ingest",
		logging.File(timelinePath),
		logging.Index(prefix),
		"mode", cfg.Bulk.Mode,
		"dry_run", dryRun,
	)

	printer := &output.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
	var (
		sink storage.Sink
		dead dlq.Writer = dlq.Discard{}
	)
	if dryRun {
		sink = storage.NewDryRunWriter(cmd.OutOrStdout())
		printer.Out = cmd.ErrOrStderr()
	} else {
		dead, err = dlq.New(ctx, cfg.DLQ, a.fs, runID)
		if err != nil {
			return fmt.Errorf("open dead letter queue: %w", err)
		}
		defer func() {
			if err := dead.Close(); err != nil {
				logger.WarnContext(ctx, "dead letter queue close failed", logging.Error(err))
			}
		}()
		writer, err := openBulkWriter(ctx, cfg, prefix, runID, dead, logger, printer)
		if err != nil {
			return err
		}
		sink = writer
	}

	p := pipeline.New(normalizer.NewDefaultRegistry(), prefix,
		pipeline.WithLogger(logger),
		pipeline.WithProgressEvery(uint64(cfg.Bulk.ChunkSize)*10),
	)

	start := time.Now()
	res, writeErr := sink.Write(ctx, p.Assignments(ctx, f))
	stats := p.Stats()

	logger.InfoContext(ctx, "ingest finished",
		logging.Count(stats.Processed),
		logging.Duration(time.Since(start).Milliseconds()),
		"documents", stats.Documents,
		"indexed", res.Indexed,
		"failed", res.Failed,
	)
	printSummary(printer, stats, res, time.Since(start))
	if report := dlq.Report(ctx, dead); report != nil {
		logger.InfoContext(ctx, "dead letter queue", "stats", report)
		printDeadLetters(printer, report)
	}

	if writeErr != nil {
		return fmt.Errorf("ingest %s: %w", timelinePath, writeErr)
	}
	if res.Failed > 0 {
		printer.Warn("%d documents were rejected", res.Failed)
	}
	return nil
}

func openBulkWriter(ctx context.Context, cfg *config.Config, prefix, runID string, dead dlq.Writer, logger *logging.Logger, printer *output.Printer) (*storage.BulkWriter, error) {
	client, err := storage.NewClient(cfg.OpenSearch)
	if err != nil {
		return nil, err
	}
	if err := storage.Ping(ctx, client); err != nil {
		return nil, err
	}

	if cfg.Templates.Enabled {
		errs := storage.NewTemplateManager(client, cfg.Templates, logger).Ensure(ctx, prefix)
		for _, err := range errs {
			printer.Warn("%v", err)
		}
	}

	return storage.NewBulkWriter(client, cfg.Bulk,
		storage.WithDeadLetter(dead),
		storage.WithBulkLogger(logger),
		storage.WithRunID(runID),
	), nil
}

func printSummary(p *output.Printer, stats pipeline.Stats, res storage.Result, elapsed time.Duration) {
	table := output.NewTable([]string{"METRIC", "VALUE"})
	for _, row := range []struct {
		name  string
		value uint64
	}{
		{"lines read", stats.Lines},
		{"blank lines", stats.Blank},
		{"malformed lines", stats.Malformed},
		{"records processed", stats.Processed},
		{"documents emitted", stats.Documents},
		{"error documents", stats.ErrorDocuments},
		{"indexed", res.Indexed},
		{"failed", res.Failed},
		{"dead lettered", res.DeadLetter},
	} {
		table.AddRow([]string{row.name, strconv.FormatUint(row.value, 10)})
	}
	table.Render(p.Out)
	p.Success("Run finished in %s", elapsed.Round(time.Millisecond))
}

// printDeadLetters renders the queue report as a key/value table.
func printDeadLetters(p *output.Printer, report map[string]any) {
	table := output.NewTable([]string{"DEAD LETTER QUEUE", "VALUE"})
	for _, key := range slices.Sorted(maps.Keys(report)) {
		table.AddRow([]string{key, fmt.Sprint(report[key])})
	}
	table.Render(p.Out)
}
