package main

import (
	"os"

	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/server"
	"github.com/mistakeknot/intercoord/internal/tools"
	"github.com/spf13/cobra"
)

// newSweepCmd creates the "intercoord sweep" subcommand, a one-shot run of
// the background sweeper for cron-driven deployments.
func newSweepCmd(logLevel *string) *cobra.Command {
	var (
		store      storeFlags
		policyPath string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Send review reminders, escalate timeouts and purge expired locks once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			cfg, err := loadPolicy(policyPath, logger)
			if err != nil {
				return err
			}
			s, err := store.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			svc := tools.NewServices(s, cfg, logger)
			report, err := server.NewSweeper(svc.Reviews, svc.Ledger, 0, logger).RunOnce(cmd.Context())
			if werr := writeJSON(cmd.OutOrStdout(), report); err == nil {
				err = werr
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&store.dbPath, "db", envOr("INTERCOORD_DB", defaultDBPath), "SQLite database path")
	f.StringVar(&store.dsn, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL DSN; overrides --db")
	f.StringVar(&policyPath, "policy", envOr("INTERCOORD_POLICY", policy.DefaultPath), "review policy file")
	return cmd
}
