// Package command implements the thawk-forensics command line.
package command

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-forensics/internal/config"
	"github.com/telhawk-systems/telhawk-forensics/internal/logging"
)

// Version is the CLI version.
const Version = "0.1.0"

type app struct {
	fs         afero.Fs
	configFile string
}

// Option configures the root command.
type Option func(*app)

// WithFs sets the filesystem timelines are read from and dead letters are
// written to.
func WithFs(fsys afero.Fs) Option {
	return func(a *app) {
		if fsys != nil {
			a.fs = fsys
		}
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "thawk-forensics",
		Short: "Forensic timeline normalizer",
		Long: `thawk-forensics turns a plaso JSON-lines timeline into search documents.

Every record is classified by its parser, reshaped per artefact type and
shipped to OpenSearch indices named <case>_<machine>_<family>.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// every subcommand logs through the process default
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			logging.SetDefault(logging.NewWithWriter(cmd.ErrOrStderr(),
				logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (YAML)")

	root.AddCommand(
		a.newIngestCommand(),
		a.newTemplatesCommand(),
		a.newRulesCommand(),
		a.newDLQCommand(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}
