package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-forensics/internal/logging"
	"github.com/telhawk-systems/telhawk-forensics/internal/model"
	"github.com/telhawk-systems/telhawk-forensics/internal/storage"
	"github.com/telhawk-systems/telhawk-forensics/pkg/output"
)

func (a *app) newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Provision index templates",
		Long:  "Create or update one index template per index family for a case and machine",
		Example: `  thawk-forensics templates --case-name IR-2024 --machine-name WS01 --es-hosts https://localhost:9200
  thawk-forensics templates --case-name IR-2024 --machine-name WS01 --dry-run`,
		RunE: a.runTemplates,
	}
	addTargetFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "print the template bodies instead of sending them")
	return cmd
}

func (a *app) runTemplates(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	prefix := model.IndexPrefix(cfg.Case.Name, cfg.Case.Machine)
	printer := &output.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}

	if dryRun {
		manager := storage.NewTemplateManager(nil, cfg.Templates, nil)
		bodies := make(map[string]any, len(model.Families))
		for _, family := range model.Families {
			bodies[storage.TemplateName(prefix, family)] = manager.Template(prefix, family)
		}
		return printer.JSON(bodies)
	}

	logger := logging.Default()
	client, err := storage.NewClient(cfg.OpenSearch)
	if err != nil {
		return err
	}
	if err := storage.Ping(cmd.Context(), client); err != nil {
		return err
	}

	errs := storage.NewTemplateManager(client, cfg.Templates, logger).Ensure(cmd.Context(), prefix)
	for _, err := range errs {
		printer.Warn("%v", err)
	}
	if len(errs) == len(model.Families) {
		return fmt.Errorf("no index template could be provisioned")
	}
	printer.Success("Provisioned %d of %d index templates for %s", len(model.Families)-len(errs), len(model.Families), prefix)
	return nil
}
