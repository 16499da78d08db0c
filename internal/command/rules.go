package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer"
	"github.com/telhawk-systems/telhawk-forensics/internal/normalizer/evtx"
	"github.com/telhawk-systems/telhawk-forensics/pkg/output"
)

// ruleRow is one line of the classification table as printed.
type ruleRow struct {
	Order    int    `json:"order" yaml:"order"`
	Parser   string `json:"parser,omitempty" yaml:"parser,omitempty"`
	Category string `json:"category" yaml:"category"`
	Pattern  string `json:"pattern" yaml:"pattern"`
	Family   string `json:"family" yaml:"family"`
}

// evtxRoute is one channel of the event log sub-dispatch table.
type evtxRoute struct {
	Channel  string `json:"channel" yaml:"channel"`
	EventIDs []int  `json:"event_ids" yaml:"event_ids"`
}

func (a *app) newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules [parser...]",
		Short: "Show the classification table",
		Long: `Print the ordered parser classification table. The first matching rule wins.

With parser names as arguments, print the category each one is classified as.
With --evtx, print the event ids that get a typed sub-document per channel;
other events keep the generic rendering.`,
		Example: `  thawk-forensics rules
  thawk-forensics rules --output yaml
  thawk-forensics rules winreg/windows_run winevtx
  thawk-forensics rules --evtx`,
		RunE: runRules,
	}
	cmd.Flags().StringP("output", "o", "table", "output format: table, json, yaml")
	cmd.Flags().Bool("evtx", false, "show event log routing by channel and event id")
	return cmd
}

func runRules(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	printer := &output.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
	if showEvtx, _ := cmd.Flags().GetBool("evtx"); showEvtx {
		return printEvtxRoutes(printer, format)
	}
	registry := normalizer.NewDefaultRegistry()

	rules := registry.Rules()
	var rows []ruleRow
	if len(args) > 0 {
		for _, parser := range args {
			c := registry.Classify(parser)
			row := ruleRow{Parser: parser, Category: string(c), Family: string(c.Family())}
			for i, rl := range rules {
				if rl.Pattern.MatchString(parser) {
					row.Order = i + 1
					row.Pattern = rl.Pattern.String()
					break
				}
			}
			rows = append(rows, row)
		}
	} else {
		for i, rl := range rules {
			rows = append(rows, ruleRow{
				Order:    i + 1,
				Category: string(rl.Category),
				Pattern:  rl.Pattern.String(),
				Family:   string(rl.Category.Family()),
			})
		}
	}

	switch format {
	case "json":
		return printer.JSON(rows)
	case "yaml":
		return printer.YAML(rows)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	headers := []string{"ORDER", "PATTERN", "CATEGORY", "FAMILY"}
	if len(args) > 0 {
		headers = append([]string{"PARSER"}, headers...)
	}
	table := output.NewTable(headers)
	for _, r := range rows {
		row := []string{strconv.Itoa(r.Order), r.Pattern, r.Category, r.Family}
		if len(args) > 0 {
			row = append([]string{r.Parser}, row...)
		}
		table.AddRow(row)
	}
	table.Render(printer.Out)
	return nil
}

func printEvtxRoutes(printer *output.Printer, format string) error {
	d := evtx.NewDispatcher(evtx.DefaultTables())
	var routes []evtxRoute
	for _, channel := range d.Channels() {
		routes = append(routes, evtxRoute{Channel: string(channel), EventIDs: d.EventIDs(channel)})
	}

	switch format {
	case "json":
		return printer.JSON(routes)
	case "yaml":
		return printer.YAML(routes)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	table := output.NewTable([]string{"CHANNEL", "EVENT IDS"})
	for _, r := range routes {
		ids := make([]string, len(r.EventIDs))
		for i, id := range r.EventIDs {
			ids[i] = strconv.Itoa(id)
		}
		table.AddRow([]string{r.Channel, strings.Join(ids, ", ")})
	}
	table.Render(printer.Out)
	return nil
}
