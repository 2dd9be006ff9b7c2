package jobs

import (
	"context"
	"time"

	"github.com/anjiri1684/tutorhub/services"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RunBilling charges due subscriptions. It shares the run lock with
// POST /billing/run, so a run already started by the endpoint is skipped.
func RunBilling(svc *services.BillingService, log *zap.Logger) func() {
	log = log.Named("jobs.billing")
	return func() {
		log.Debug("Running job: charging due subscriptions...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		res, err := svc.RunBatch(ctx)
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			log.Info("billing run skipped, another run holds the lock")
			return
		case err != nil:
			log.Error("billing run failed", zap.Error(err))
			return
		}

		counts := map[string]int{}
		for _, r := range res.Results {
			counts[r.Status]++
		}
		log.Info("billing run finished",
			zap.Int("charged", counts[services.ResultCharged]),
			zap.Int("failed", counts[services.ResultFailed]),
			zap.Int("skipped", counts[services.ResultSkipped]))
	}
}
