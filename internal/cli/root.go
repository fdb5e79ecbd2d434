// Package cli implements the strata command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arkilian/strata/internal/app"
	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/config"
	"github.com/arkilian/strata/internal/logging"
	"github.com/arkilian/strata/internal/table"
)

// Version is set at build time.
var Version = "dev"

// globals holds the persistent flags and the resources opened for one
// command invocation.
type globals struct {
	configFile  string
	dataDir     string
	warehouse   string
	catalogType string
	catalogAddr string
	storageType string
	logLevel    string
	logFormat   string

	cfg    *config.Config
	logger zerolog.Logger
	app    *app.App
}

// loadConfig layers defaults, the config file, STRATA_* variables and
// flags, in that order.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(g.configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.DataDir, g.dataDir)
	set(&cfg.Warehouse, g.warehouse)
	set(&cfg.Catalog.Type, g.catalogType)
	set(&cfg.Catalog.Addr, g.catalogAddr)
	set(&cfg.Storage.Type, g.storageType)
	set(&cfg.Log.Level, g.logLevel)
	set(&cfg.Log.Format, g.logFormat)
	return cfg, nil
}

func (g *globals) open(cmd *cobra.Command) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	g.cfg, g.logger, g.app = cfg, logger, a
	return nil
}

func (g *globals) close() error {
	if g.app == nil {
		return nil
	}
	err := g.app.Close()
	g.app = nil
	return err
}

// closeOnError releases the app when a command fails, since cobra skips
// post-run hooks after an error.
func closeOnError(c *cobra.Command, g *globals) {
	for _, sub := range c.Commands() {
		closeOnError(sub, g)
	}
	if run := c.RunE; run != nil {
		c.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err != nil {
				_ = g.close()
			}
			return err
		}
	}
}

func (g *globals) tables() *table.Tables { return g.app.Tables() }

// load resolves a table argument. A name without a namespace is looked up
// in the default namespace.
func (g *globals) load(ctx context.Context, arg string) (*table.Table, error) {
	id, err := parseIdentifier(arg)
	if err != nil {
		return nil, err
	}
	return g.tables().Load(ctx, id)
}

func parseIdentifier(arg string) (catalog.Identifier, error) {
	if !strings.Contains(arg, ".") {
		arg = "default." + arg
	}
	return catalog.ParseIdentifier(arg)
}

// NewRootCommand builds the strata command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "strata",
		Short: "Table format engine over object storage",
		Long: `strata manages analytic tables stored as immutable data files on an
object store. Every write commits a new snapshot by swapping the table's
metadata pointer in the catalog, so readers always see a consistent table.

Examples:
  strata table create db.events --column id:long:required --column level:string --partition level
  strata append db.events --file rows.jsonl
  strata scan db.events --filter "level = 'error'"
  strata serve`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipOpen(cmd) {
				return nil
			}
			return g.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return g.close()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&g.configFile, "config", "", "path to a YAML or JSON config file")
	f.StringVar(&g.dataDir, "data-dir", "", "base directory for local state")
	f.StringVar(&g.warehouse, "warehouse", "", "key prefix of table locations")
	f.StringVar(&g.catalogType, "catalog", "", "catalog type: sqlite, object, remote")
	f.StringVar(&g.catalogAddr, "catalog-addr", "", "catalog server address (remote catalog)")
	f.StringVar(&g.storageType, "storage", "", "storage type: local, memory, s3")
	f.StringVar(&g.logLevel, "log-level", "", "log level")
	f.StringVar(&g.logFormat, "log-format", "", "log format: json, console")

	root.AddCommand(
		newTableCommand(g),
		newAppendCommand(g),
		newOverwriteCommand(g),
		newDeleteCommand(g),
		newScanCommand(g),
		newSnapshotsCommand(g),
		newAddColumnCommand(g),
		newDropColumnCommand(g),
		newRenameColumnCommand(g),
		newBranchCommand(g),
		newTagCommand(g),
		newRollbackCommand(g),
		newExpireCommand(g),
		newOrphansCommand(g),
		newCompactCommand(g),
		newServeCommand(g),
	)
	closeOnError(root, g)
	return root
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// skipOpen reports whether cmd runs without storage and a catalog.
func skipOpen(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
