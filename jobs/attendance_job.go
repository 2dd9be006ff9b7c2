package jobs

import (
	"context"
	"time"

	"github.com/anjiri1684/tutorhub/services"
	"go.uber.org/zap"
)

// CompleteEndedSessions closes bookings whose attendance window has passed
// so that they enter settlement.
func CompleteEndedSessions(svc *services.AttendanceService, log *zap.Logger) func() {
	log = log.Named("jobs.attendance")
	return func() {
		log.Debug("Running job: completing ended sessions...")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		n, err := svc.CompleteEndedSessions(ctx)
		if err != nil {
			log.Error("failed to complete ended sessions", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("completed ended sessions", zap.Int("count", n))
		}
	}
}
