package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otoedi/o3mig/internal/migrate"
	"github.com/otoedi/o3mig/internal/persistence"
	"github.com/otoedi/o3mig/pkg/configuration"
	"github.com/otoedi/o3mig/pkg/logging"
)

type migrateSummary struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	*migrate.Summary
}

func newMigrateCmd() *cobra.Command {
	var (
		code string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the v2 graph of one EDI party code into the v3 store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configuration.Use()
			if err != nil {
				return withCode(exitValidation, err)
			}
			if mode == "" {
				mode = cfg.Mode
			}
			runMode, err := migrate.ParseMode(mode)
			if err != nil {
				return withCode(exitUsage, err)
			}
			if code == "" {
				code, err = promptCode(cmd)
				if err != nil {
					return withCode(exitUsage, err)
				}
			}
			if code == "" {
				return withCode(exitUsage, fmt.Errorf("--code is required"))
			}

			log := logging.ConsoleLogger(cfg.LogrusLogLevel())
			ctx := cmd.Context()

			source, err := persistence.OpenMySQL(ctx, cfg.Source.ConnectionString())
			if err != nil {
				return withCode(exitSourceDB, err)
			}
			defer source.Close()

			target, err := persistence.OpenPostgres(ctx, cfg.Target.ConnectionString())
			if err != nil {
				return withCode(exitTargetDB, err)
			}
			defer target.Close()

			runID := uuid.NewString()
			log.WithField("run_id", runID).WithField("code", code).Info("starting migration")

			m := migrate.New(source, target, log, runMode)
			sum, err := m.Run(ctx, code)
			if err != nil {
				_ = writeJSONLine(migrateSummary{Status: "failed", RunID: runID, Summary: sum})
				return classifyRunError(err)
			}
			return writeJSONLine(migrateSummary{Status: "ok", RunID: runID, Summary: sum})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "EDI party code to migrate")
	cmd.Flags().StringVar(&mode, "mode", "", "error policy: strict or lenient (default from MIGRATION_MODE)")
	return cmd
}

// promptCode asks on stdin when --code was not given.
func promptCode(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Please type source party code to be migrated: ")
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read party code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func classifyRunError(err error) error {
	var conflict *migrate.ConflictError
	var unresolved *migrate.UnresolvedReferenceError
	if as(err, &conflict) || as(err, &unresolved) {
		return withCode(exitValidation, err)
	}
	return err
}
