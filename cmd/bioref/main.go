// Package main provides the bioref command line: it mirrors remote
// reference files and loads interchange files into the graph store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemshift/bioref/internal/config"
	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/pipeline"
	"github.com/systemshift/bioref/internal/server/subscriptions"
)

const (
	Version = "0.1.0"
	appName = "bioref"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	jsonOut    bool
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Mirror biological reference data into a graph store",
		Long: `bioref keeps a local mirror of remote reference files up to date and
loads ortholog and term-equivalence interchange files into a graph store
(Neo4j, SQLite or in-memory).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML, default $BIOREF_CONFIG)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "Print reports as JSON")

	cmd.AddCommand(fetchCmd(&g), loadCmd(&g), syncCmd(&g), sourcesCmd(&g))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

// setup loads configuration and opens the runner for one command.
func setup(ctx context.Context, g *globalFlags) (*pipeline.Runner, *logger.Logger, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}

	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}

	runner, closeStore, err := pipeline.Open(ctx, cfg, nil, log)
	if err != nil {
		log.Sync()
		return nil, nil, nil, err
	}
	subs := subscriptions.NewManager(cfg.Webhooks, nil, log)
	subs.Start()
	runner.WithEvents(subs)

	cleanup := func() {
		subs.Stop(10 * time.Second)
		if err := closeStore(context.Background()); err != nil {
			log.Warn("closing graph store", "error", err)
		}
		log.Sync()
	}
	return runner, log, cleanup, nil
}

func fetchCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch [source...]",
		Short: "Download configured sources that changed upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, cleanup, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer cleanup()
			return runFetch(cmd, g, runner, force, args)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download even when the local copy is current")
	return cmd
}

func runFetch(cmd *cobra.Command, g *globalFlags, runner *pipeline.Runner, force bool, names []string) error {
	reports, err := runner.FetchAll(cmd.Context(), force, names...)
	if err != nil {
		return err
	}
	if g.jsonOut {
		return printJSON(cmd, reports)
	}

	var failed int
	for _, r := range reports {
		status := "skipped"
		if r.Downloaded {
			status = "downloaded"
		}
		if r.Error != "" {
			status = "failed"
			failed++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %s\n", r.Source, status, r.Message)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(reports))
	}
	return nil
}

type loadFlags struct {
	delete      bool
	onlyChanged bool
	kind        string
}

func (f *loadFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.delete, "delete", false, "Truncate all collections before loading")
	cmd.Flags().BoolVar(&f.onlyChanged, "only-changed", false, "Skip the load when no interchange file changed since the last one")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Load only one data kind (terms or orthologs)")
	cmd.MarkFlagsMutuallyExclusive("kind", "delete")
	cmd.MarkFlagsMutuallyExclusive("kind", "only-changed")
}

func loadCmd(g *globalFlags) *cobra.Command {
	var lf loadFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load interchange files into the graph store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, cleanup, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer cleanup()
			return runLoad(cmd, g, runner, lf)
		},
	}
	lf.bind(cmd)
	return cmd
}

func runLoad(cmd *cobra.Command, g *globalFlags, runner *pipeline.Runner, lf loadFlags) error {
	var (
		reports []pipeline.LoadReport
		err     error
	)
	if lf.kind != "" {
		reports, err = runner.LoadKind(cmd.Context(), lf.kind)
	} else {
		reports, err = runner.Load(cmd.Context(), pipeline.LoadOptions{Delete: lf.delete, OnlyChanged: lf.onlyChanged})
	}
	if g.jsonOut {
		if perr := printJSON(cmd, reports); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	}

	for _, r := range reports {
		status := "ok"
		if r.Error != "" {
			status = "failed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-9s %-6s committed=%d batches=%d filtered=%d\n",
			r.File, r.Kind, status, r.Result.Committed, r.Result.Batches, r.Records.Filtered)
	}
	return err
}

func syncCmd(g *globalFlags) *cobra.Command {
	var (
		force bool
		lf    loadFlags
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every source, then load interchange files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, log, cleanup, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := runFetch(cmd, g, runner, force, nil); err != nil {
				log.Warn("fetch finished with failures", "error", err)
			}
			return runLoad(cmd, g, runner, lf)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download even when the local copy is current")
	lf.bind(cmd)
	return cmd
}

func sourcesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and their local copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, cleanup, err := setup(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer cleanup()

			sources := runner.Sources()
			if g.jsonOut {
				return printJSON(cmd, sources)
			}
			for _, s := range sources {
				watermark := "-"
				if s.Watermark != nil {
					watermark = s.Watermark.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-5s %-16s %s\n", s.Name, s.Protocol, watermark, s.Remote)
			}
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
