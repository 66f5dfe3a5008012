package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/database"
	"github.com/emergent-company/tether/internal/storage"
	"github.com/emergent-company/tether/pkg/logger"
)

// Output formats
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type globalFlags struct {
	output  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "relaudit",
		Short: "Audit and repair the relationship graph",
		Long: `relaudit runs the relationship consistency auditor outside the server.

Configuration is read from the environment exactly as the server reads it
(DB_DRIVER, POSTGRES_*, SQLITE_PATH, AUDIT_*, STORAGE_*). A .env file in the
working directory is loaded first and .env.local overrides it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.output {
			case outputText, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (use text, json or yaml)", flags.output)
			}
		},
	}

	root.PersistentFlags().StringVarP(&flags.output, "output", "o", outputText, "output format (text, json, yaml)")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Minute, "abort the command after this long")

	root.AddCommand(
		newRunCmd(flags),
		newPairCmd(flags),
		newReportCmd(flags),
		newMigrateCmd(flags),
	)
	return root
}

// session holds what every command needs: configuration, a database and a
// logger that stays off stdout.
type session struct {
	cfg *config.Config
	db  *bun.DB
	log *slog.Logger
}

func openSession() (*session, error) {
	log := logger.NewWithWriter(os.Stderr)

	cfg, err := config.NewConfig(log)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, db: db, log: log}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

func (s *session) auditor() *consistency.Auditor {
	directory := users.NewService(users.NewRepository(s.db, s.log), s.log)
	queue := consistency.NewRepairQueue(s.db, s.cfg, s.log)
	return consistency.NewAuditor(relationships.NewRepository(s.db, s.log), directory, queue, s.cfg, s.log)
}

func (s *session) archive() (*consistency.Archive, error) {
	store, err := storage.NewService(s.cfg, s.log)
	if err != nil {
		return nil, err
	}
	return consistency.NewArchive(store, s.cfg, s.log), nil
}

// withSession opens a session for the duration of fn, bounded by the
// --timeout flag.
func withSession(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}
