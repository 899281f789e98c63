package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otoedi/o3mig/internal/migrate"
	"github.com/otoedi/o3mig/internal/persistence"
	"github.com/otoedi/o3mig/pkg/configuration"
	"github.com/otoedi/o3mig/pkg/logging"
)

type cloneSummary struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	*migrate.CloneSummary
}

func newCloneCmd() *cobra.Command {
	var (
		supplierID  int64
		relationIDs []int64
	)
	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone a migrated v3 supplier graph into another v3 store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configuration.Use()
			if err != nil {
				return withCode(exitValidation, err)
			}
			if supplierID == 0 {
				return withCode(exitUsage, fmt.Errorf("--supplier is required"))
			}
			if len(relationIDs) == 0 {
				return withCode(exitUsage, fmt.Errorf("--relations is required"))
			}
			if cfg.CloneSourceDSN == "" {
				return withCode(exitValidation, migrate.ErrMissingConfiguration)
			}

			log := logging.ConsoleLogger(cfg.LogrusLogLevel())
			ctx := cmd.Context()

			source, err := persistence.OpenCloneSource(ctx, cfg.CloneSourceDSN)
			if err != nil {
				return withCode(exitSourceDB, err)
			}
			defer source.Close()

			pool, err := persistence.OpenPool(ctx, cfg.Target.ConnectionString())
			if err != nil {
				return withCode(exitTargetDB, err)
			}
			defer pool.Close()

			runID := uuid.NewString()
			log.WithField("run_id", runID).WithField("supplier", supplierID).Info("starting clone")

			cloner := migrate.NewCloner(source, persistence.NewPgCloneTarget(pool), log)
			sum, err := cloner.Run(ctx, supplierID, relationIDs)
			if err != nil {
				_ = writeJSONLine(cloneSummary{Status: "failed", RunID: runID, CloneSummary: sum})
				return classifyRunError(err)
			}
			return writeJSONLine(cloneSummary{Status: "ok", RunID: runID, CloneSummary: sum})
		},
	}
	cmd.Flags().Int64Var(&supplierID, "supplier", 0, "supplier party id in the source store")
	cmd.Flags().Int64SliceVar(&relationIDs, "relations", nil, "relation ids to clone (comma separated)")
	return cmd
}
