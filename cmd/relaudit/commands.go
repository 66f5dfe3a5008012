package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/migrate"
	"github.com/emergent-company/tether/pkg/logger"
)

// errFindings makes `run --fail-on-findings` exit non-zero.
var errFindings = errors.New("audit found inconsistencies")

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		dryRun         bool
		batchSize      int
		archive        bool
		failOnFindings bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full consistency audit",
		Long: `Drain queued repairs, then scan every accepted edge and every edge
carrying a device-contact flag, fixing what is inconsistent.

With --dry-run nothing is written and the repair queue is left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize < 0 {
				return fmt.Errorf("--batch-size must not be negative")
			}
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				rep, err := s.auditor().Run(ctx, consistency.Options{DryRun: dryRun, BatchSize: batchSize})
				if err != nil {
					return err
				}
				if archive {
					a, err := s.archive()
					if err != nil {
						return err
					}
					key, err := a.Save(ctx, rep)
					if err != nil {
						return err
					}
					if key == "" {
						s.log.Warn("storage is not configured, report not archived")
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "archived: %s\n", key)
					}
				}
				if err := writeReport(cmd.OutOrStdout(), flags.output, rep); err != nil {
					return err
				}
				if failOnFindings && len(rep.Findings) > 0 {
					return errFindings
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report findings without writing")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "edges per scan page (default AUDIT_BATCH_SIZE)")
	cmd.Flags().BoolVar(&archive, "archive", false, "store the report in object storage")
	cmd.Flags().BoolVar(&failOnFindings, "fail-on-findings", false, "exit non-zero when anything was found")
	return cmd
}

func newPairCmd(flags *globalFlags) *cobra.Command {
	var intent string

	cmd := &cobra.Command{
		Use:   "pair <owner-id> <target-id>",
		Short: "Repair the relationship between two users",
		Long: `Bring both directed edges between two users back in line.

--intent accepted restores a friendship, --intent removed completes a removal.
Without an intent both directions are checked and accepted wins.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				rep, err := s.auditor().RepairPair(ctx, args[0], args[1], relationships.Status(intent))
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), flags.output, rep)
			})
		},
	}

	cmd.Flags().StringVar(&intent, "intent", "", "desired outcome (accepted, removed)")
	_ = cmd.RegisterFlagCompletionFunc("intent", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(relationships.StatusAccepted), string(relationships.StatusRemoved)}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report <key>",
		Short: "Print an archived audit report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, s *session) error {
				a, err := s.archive()
				if err != nil {
					return err
				}
				rep, err := a.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), flags.output, rep)
			})
		},
	}
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrator := func(s *session) (*migrate.Migrator, func(), error) {
		zl, err := logger.BuildZap()
		if err != nil {
			return nil, nil, err
		}
		return migrate.NewMigrator(s.db, s.cfg, zl), func() { _ = zl.Sync() }, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, flags, func(ctx context.Context, s *session) error {
					m, done, err := migrator(s)
					if err != nil {
						return err
					}
					defer done()
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, flags, func(ctx context.Context, s *session) error {
					m, done, err := migrator(s)
					if err != nil {
						return err
					}
					defer done()
					return m.Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, flags, func(ctx context.Context, s *session) error {
					m, done, err := migrator(s)
					if err != nil {
						return err
					}
					defer done()
					v, err := m.Version(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
	)
	return cmd
}
