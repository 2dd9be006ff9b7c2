package services

import (
	"context"
	"fmt"
	"time"

	"github.com/anjiri1684/tutorhub/metrics"
	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/anjiri1684/tutorhub/payments"
	"github.com/anjiri1684/tutorhub/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ResultCharged = "CHARGED"
	ResultFailed  = "FAILED"
	ResultSkipped = "SKIPPED"

	billingRunKey = "billing:run"
	retryBackoff  = 7 * 24 * time.Hour
)

// errClaimLost aborts a record transaction whose claim another run took over.
var errClaimLost = errors.New("subscription claim lost")

type BillingConfig struct {
	Workers       int
	BatchSize     int
	MaxRetries    int
	ChargeTimeout time.Duration
	// ClaimTTL defaults to twice the charge timeout plus 30s.
	ClaimTTL time.Duration
	Location *time.Location
}

type BillingParams struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Clock    Clock
	Locker   Locker
	Gateway  payments.Gateway
	Notifier notifications.Notifier
	Metrics  *metrics.Metrics
	Config   BillingConfig
}

type BillingService struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    Clock
	locker   Locker
	gateway  payments.Gateway
	notifier notifications.Notifier
	metrics  *metrics.Metrics
	cfg      BillingConfig
}

func NewBillingService(p BillingParams) *BillingService {
	cfg := p.Config
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 200
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 15 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2*cfg.ChargeTimeout + 30*time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &BillingService{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		clock:    p.Clock,
		locker:   p.Locker,
		gateway:  p.Gateway,
		notifier: p.Notifier,
		metrics:  p.Metrics,
		cfg:      cfg,
	}
}

type SubscriptionResult struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Status         string    `json:"status"`
	Amount         *Money    `json:"amount,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Reference      string    `json:"reference,omitempty"`
}

type BatchResult struct {
	Results []SubscriptionResult `json:"results"`
}

// NextPaymentDate is midnight of the first Monday of the calendar month
// after now, in loc.
func NextPaymentDate(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, loc)
	offset := (8 - int(first.Weekday())) % 7
	return first.AddDate(0, 0, offset).UTC()
}

// RunBatch charges every due subscription once. Subscriptions are processed
// independently; one failure never aborts the batch.
func (s *BillingService) RunBatch(ctx context.Context) (*BatchResult, error) {
	release, ok, err := s.locker.TryLock(ctx, billingRunKey, s.runLockTTL())
	if err != nil {
		return nil, errors.Wrap(err, "acquire billing run lock")
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	started := time.Now()
	defer func() { s.metrics.BillingRunSeconds.Observe(time.Since(started).Seconds()) }()

	now := s.clock.Now(ctx)
	var ids []uuid.UUID
	err = s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ?", []string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Where("next_payment_date IS NOT NULL AND next_payment_date <= ?", now).
		Where("payment_token IS NOT NULL AND payment_token <> ''").
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Order("next_payment_date").
		Limit(s.cfg.BatchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "select due subscriptions")
	}

	results := make([]SubscriptionResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = s.processOne(ctx, id)
			s.metrics.BillingCharges.WithLabelValues(results[i].Status).Inc()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("billing batch finished", zap.Int("subscriptions", len(ids)))
	return &BatchResult{Results: results}, nil
}

// runLockTTL covers a full batch at the worst-case charge time, since the
// workers drain the batch in ceil(BatchSize/Workers) rounds.
func (s *BillingService) runLockTTL() time.Duration {
	rounds := (s.cfg.BatchSize + s.cfg.Workers - 1) / s.cfg.Workers
	return time.Duration(rounds)*s.cfg.ChargeTimeout + s.cfg.ClaimTTL
}

func (s *BillingService) processOne(ctx context.Context, id uuid.UUID) SubscriptionResult {
	out := SubscriptionResult{SubscriptionID: id}
	db := s.db.WithContext(ctx)

	// the lease starts when this worker claims, not when the batch was selected
	now := s.clock.Now(ctx)
	token := uuid.NewString()
	claim := db.Model(&models.Subscription{}).
		Where("id = ? AND (claimed_until IS NULL OR claimed_until < ?)", id, now).
		Updates(map[string]interface{}{
			"claim_token":   token,
			"claimed_until": now.Add(s.cfg.ClaimTTL),
		})
	if claim.Error != nil {
		s.log.Error("failed to claim subscription", zap.Error(claim.Error), zap.String("subscription_id", id.String()))
		out.Status, out.Reason = ResultFailed, "storage error"
		return out
	}
	if claim.RowsAffected == 0 {
		out.Status, out.Reason = ResultSkipped, "claimed by another run"
		return out
	}

	var sub models.Subscription
	if err := db.Preload("Plan").First(&sub, "id = ?", id).Error; err != nil {
		s.releaseClaim(id, token)
		s.log.Error("failed to reload subscription", zap.Error(err), zap.String("subscription_id", id.String()))
		out.Status, out.Reason = ResultFailed, "storage error"
		return out
	}
	if !isDue(&sub, now) {
		s.releaseClaim(id, token)
		out.Status, out.Reason = ResultSkipped, "no longer due"
		return out
	}

	out.Reference = utils.NewChargeReference(now)
	amount := decimal.NewFromFloat(sub.Plan.Price).Round(2)

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
	res, chargeErr := s.gateway.Charge(chargeCtx, payments.ChargeRequest{
		Reference:    out.Reference,
		Amount:       amount,
		Currency:     sub.Plan.Currency,
		PaymentToken: *sub.PaymentToken,
		Description:  sub.Plan.Name,
	})
	cancel()

	if chargeErr != nil {
		chargeErr = classifyChargeError(chargeErr)
		return s.recordFailure(ctx, &sub, token, out, amount, chargeErr, now)
	}
	return s.recordSuccess(ctx, &sub, token, out, amount, res, now)
}

func isDue(sub *models.Subscription, now time.Time) bool {
	if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusPastDue {
		return false
	}
	if sub.NextPaymentDate == nil || sub.NextPaymentDate.After(now) {
		return false
	}
	return sub.PaymentToken != nil && *sub.PaymentToken != ""
}

func classifyChargeError(err error) error {
	var declined *payments.DeclinedError
	if errors.As(err, &declined) {
		return NewPaymentDeclined(declined.Reason, err)
	}
	return NewGatewayError(err)
}

func (s *BillingService) recordSuccess(ctx context.Context, sub *models.Subscription, token string, out SubscriptionResult, amount decimal.Decimal, res *payments.ChargeResult, now time.Time) SubscriptionResult {
	next := NextPaymentDate(now, s.cfg.Location)
	txnID := ""
	if res != nil {
		txnID = res.TransactionID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Subscription{}).
			Where("id = ? AND claim_token = ?", sub.ID, token).
			Updates(map[string]interface{}{
				"status":            models.SubscriptionStatusActive,
				"next_payment_date": next,
				"retry_count":       0,
				"last_charged_at":   now,
				"claim_token":       nil,
				"claimed_until":     nil,
			})
		if upd.Error != nil {
			return errors.Wrap(upd.Error, "advance subscription")
		}
		if upd.RowsAffected == 0 {
			return errClaimLost
		}

		if err := tx.Model(&models.Enrollment{}).
			Where("subscription_id = ? AND status = ?", sub.ID, models.EnrollmentStatusActive).
			Update("status", models.EnrollmentStatusExpired).Error; err != nil {
			return errors.Wrap(err, "expire previous enrollment")
		}
		enrollment := models.Enrollment{
			StudentID:        sub.UserID,
			CourseID:         sub.CourseID,
			SubscriptionID:   &sub.ID,
			PeriodStart:      now,
			PeriodEnd:        next,
			RemainingClasses: sub.Plan.ClassesPerPeriod,
			Status:           models.EnrollmentStatusActive,
		}
		if err := tx.Create(&enrollment).Error; err != nil {
			return errors.Wrap(err, "create enrollment")
		}

		attempt := s.attempt(sub, out.Reference, amount, now)
		attempt.Status = models.AttemptStatusCharged
		if txnID != "" {
			attempt.GatewayTxnID = &txnID
		}
		return errors.Wrap(tx.Create(&attempt).Error, "record billing attempt")
	})
	if errors.Is(err, errClaimLost) {
		s.log.Error("claim lost before the charge was recorded",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("reference", out.Reference),
			zap.String("gateway_txn_id", txnID))
		out.Status, out.Reason = ResultFailed, "claim lost; charged but not recorded"
		return out
	}
	if err != nil {
		// the gateway accepted the charge but nothing was written
		s.releaseClaim(sub.ID, token)
		s.log.Error("charged but failed to record", zap.Error(err),
			zap.String("subscription_id", sub.ID.String()),
			zap.String("reference", out.Reference),
			zap.String("gateway_txn_id", txnID))
		out.Status, out.Reason = ResultFailed, "charged but not recorded"
		return out
	}

	money := NewMoney(amount)
	out.Status, out.Amount = ResultCharged, &money
	s.log.Info("subscription charged",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("reference", out.Reference),
		zap.Time("next_payment_date", next))
	return out
}

func (s *BillingService) recordFailure(ctx context.Context, sub *models.Subscription, token string, out SubscriptionResult, amount decimal.Decimal, chargeErr error, now time.Time) SubscriptionResult {
	retries := sub.RetryCount + 1
	updates := map[string]interface{}{
		"retry_count":   retries,
		"claim_token":   nil,
		"claimed_until": nil,
	}
	pastDue := retries > s.cfg.MaxRetries
	if pastDue {
		updates["status"] = models.SubscriptionStatusPastDue
		updates["next_payment_date"] = nil
	} else {
		updates["next_payment_date"] = now.Add(retryBackoff)
	}

	kind := KindOf(chargeErr).String()
	reason := chargeErr.Error()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Subscription{}).
			Where("id = ? AND claim_token = ?", sub.ID, token).
			Updates(updates)
		if upd.Error != nil {
			return errors.Wrap(upd.Error, "record retry")
		}
		if upd.RowsAffected == 0 {
			return errClaimLost
		}
		attempt := s.attempt(sub, out.Reference, amount, now)
		attempt.Status = models.AttemptStatusFailed
		attempt.ErrorKind = &kind
		attempt.Reason = &reason
		return errors.Wrap(tx.Create(&attempt).Error, "record billing attempt")
	})
	switch {
	case errors.Is(err, errClaimLost):
		s.log.Error("claim lost before the failed charge was recorded",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("reference", out.Reference))
	case err != nil:
		s.releaseClaim(sub.ID, token)
		s.log.Error("failed to record declined charge", zap.Error(err), zap.String("subscription_id", sub.ID.String()))
	}

	s.log.Warn("subscription charge failed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("reference", out.Reference),
		zap.String("kind", kind),
		zap.Int("retry_count", retries),
		zap.Error(chargeErr))

	if pastDue && err == nil {
		s.alertAdmins(ctx, sub, reason)
	}
	out.Status, out.Reason = ResultFailed, reason
	return out
}

func (s *BillingService) attempt(sub *models.Subscription, reference string, amount decimal.Decimal, now time.Time) models.BillingAttempt {
	value, _ := amount.Float64()
	return models.BillingAttempt{
		SubscriptionID: sub.ID,
		Reference:      reference,
		Amount:         value,
		Currency:       sub.Plan.Currency,
		AttemptedAt:    now,
		Metadata: datatypes.JSONMap{
			"provider":    s.gateway.Name(),
			"plan_id":     sub.Plan.ID.String(),
			"retry_count": sub.RetryCount,
		},
	}
}

func (s *BillingService) releaseClaim(id uuid.UUID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]interface{}{"claim_token": nil, "claimed_until": nil}).Error
	if err != nil {
		s.log.Warn("failed to release subscription claim", zap.Error(err), zap.String("subscription_id", id.String()))
	}
}

func (s *BillingService) alertAdmins(ctx context.Context, sub *models.Subscription, reason string) {
	if s.notifier == nil {
		return
	}
	var admins []models.User
	if err := s.db.WithContext(ctx).Where("role = ? AND is_active = ?", models.RoleAdmin, true).Find(&admins).Error; err != nil {
		s.log.Warn("failed to load admins for past-due alert", zap.Error(err))
		return
	}
	subject := "Subscription is past due"
	body := fmt.Sprintf("<h1>Payment failed</h1><p>Subscription %s has exhausted its retries and is now past due.</p><p>Last error: %s</p>", sub.ID, reason)
	for _, admin := range admins {
		if err := s.notifier.Send(ctx, notifications.Message{ToName: admin.FullName, ToEmail: admin.Email, Subject: subject, HTML: body}); err != nil {
			s.log.Warn("failed to alert admin", zap.Error(err), zap.String("admin", admin.Email))
		}
	}
}

func (s *BillingService) ListPastDue(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.db.WithContext(ctx).Preload("Plan").
		Where("status = ?", models.SubscriptionStatusPastDue).
		Order("updated_at desc").Find(&out).Error
	return out, errors.Wrap(err, "list past-due subscriptions")
}

// Resume makes a subscription due again immediately with a fresh retry budget.
func (s *BillingService) Resume(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	db := s.db.WithContext(ctx)
	var sub models.Subscription
	if err := db.First(&sub, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "subscription")
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return nil, NewValidationError("a cancelled subscription cannot be resumed")
	}
	now := s.clock.Now(ctx)
	if err := db.Model(&models.Subscription{}).Where("id = ?", id).Updates(map[string]interface{}{
		"next_payment_date": now,
		"retry_count":       0,
	}).Error; err != nil {
		return nil, errors.Wrap(err, "resume subscription")
	}
	if err := db.Preload("Plan").First(&sub, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "subscription")
	}
	s.log.Info("subscription resumed", zap.String("subscription_id", id.String()))
	return &sub, nil
}
