// Command studydesk runs the local study planner service and its
// maintenance commands.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/app"
	"github.com/jw6ventures/studydesk/internal/config"
	"github.com/jw6ventures/studydesk/internal/logging"
	"github.com/jw6ventures/studydesk/internal/store"
)

const storeLockTimeout = 2 * time.Second

// cli holds state shared by the subcommands.
type cli struct {
	configPath string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "studydesk",
		Short:        "Local-first study planner: tasks, timetable, goals and focus timer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logging.New(logging.Options{
				Level:       cfg.Log.Level,
				Development: cfg.Log.Development,
				Verbose:     c.verbose,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			for _, w := range cfg.Warnings() {
				log.Warn(w)
			}
			c.cfg, c.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(c.serveCmd(), c.exportCmd(), c.importCmd(), c.resetCmd())
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and the asset cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, c.cfg, c.log, app.Options{})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					c.log.Warn("close", zap.Error(err))
				}
			}()

			ln, err := net.Listen("tcp", c.cfg.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", c.cfg.ListenAddr, err)
			}
			return a.Run(ctx, ln)
		},
	}
}

func (c *cli) openStore() (*store.Store, error) {
	return store.Open(c.cfg.StorePath(), store.Options{Timeout: storeLockTimeout, Logger: c.log.Named("store")})
}

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSON backup of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := st.WriteBackup(cmd.Context(), w); err != nil {
				return err
			}
			c.log.Info("backup written", zap.String("out", out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the collections named in a JSON backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("open %s: %w", in, err)
			}
			defer f.Close()

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ReadBackup(cmd.Context(), f); err != nil {
				return err
			}
			c.log.Info("backup imported", zap.String("in", in))
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "backup file to import")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

var errNotConfirmed = errors.New("refusing to delete all data without --yes")

func (c *cli) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record. Preferences are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNotConfirmed
			}
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.ClearAll(cmd.Context()); err != nil {
				return err
			}
			c.log.Info("all data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all data")
	return cmd
}
