// Package cli wires the crewforge commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"crewforge/internal/config"
	sqlitestore "crewforge/internal/store/sqlite"
)

type rootOptions struct {
	configPath string
	envFile    string
	dbPath     string
	quiet      bool
}

func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "crewforge",
		Short:        "crewforge - an LLM agent crew that builds and smoke tests a web server",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to crewforge.toml (default: ./crewforge.toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "dotenv file holding "+config.APIKeyEnv+" and "+config.OrgEnv)
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path override")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress diagnostic logs on stderr")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newRunsCmd(opts))
	cmd.AddCommand(newShowCmd(opts))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	return cfg, nil
}

func (o *rootOptions) logger(cmd *cobra.Command) *log.Logger {
	if o.quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
}

func openStore(ctx context.Context, dbPath string) (*sqlitestore.Store, error) {
	dbPath = filepath.Clean(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return store, nil
}
