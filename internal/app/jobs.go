package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/bizledger/internal/jobs"
	"github.com/dvloznov/bizledger/internal/reconcile"
	"github.com/rs/zerolog"
)

// BusinessReconciler runs one auto reconciliation pass.
type BusinessReconciler interface {
	Run(ctx context.Context, businessID string) (reconcile.MatchReport, error)
}

// AutoReconcileHandler adapts a reconciler to the job queue. The match report
// becomes the job result.
func AutoReconcileHandler(r BusinessReconciler, log zerolog.Logger) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		arJob, ok := job.(*jobs.AutoReconcileJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", arJob.JobID).
			Str("business_id", arJob.BusinessID).
			Str("trigger", arJob.Trigger).
			Msg("Processing auto reconciliation job")

		report, err := r.Run(ctx, arJob.BusinessID)
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", arJob.JobID).
				Str("business_id", arJob.BusinessID).
				Msg("Auto reconciliation failed")
			return err
		}

		arJob.Result = report
		return nil
	}
}
