package services

import (
	"context"
	"time"

	"github.com/anjiri1684/tutorhub/metrics"
	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/sessions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// autoCompleteDelay is how long after the attendance window closes an
// unfinished session is completed by the job.
const autoCompleteDelay = 5 * time.Minute

type AttendanceConfig struct {
	GraceBefore time.Duration
	GraceAfter  time.Duration
}

type AttendanceParams struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Clock   Clock
	Rooms   sessions.RoomProvider
	Metrics *metrics.Metrics
	Config  AttendanceConfig
}

type AttendanceService struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   Clock
	rooms   sessions.RoomProvider
	metrics *metrics.Metrics
	cfg     AttendanceConfig
}

func NewAttendanceService(p AttendanceParams) *AttendanceService {
	return &AttendanceService{
		db:      p.DB,
		log:     p.Log.Named("attendance.service"),
		clock:   p.Clock,
		rooms:   p.Rooms,
		metrics: p.Metrics,
		cfg:     p.Config,
	}
}

type AttendanceResult struct {
	Recorded        bool   `json:"recorded"`
	AlreadyMarked   bool   `json:"already_marked"`
	OutsideSchedule bool   `json:"outside_schedule"`
	MarkedAsPayable bool   `json:"marked_as_payable"`
	Message         string `json:"message,omitempty"`
}

// MarkAttendance records that party showed up. Attempts outside the
// schedule window change nothing and are reported in the result, not as an
// error. Repeated marks are absorbed by the (booking_id, party) unique index.
func (s *AttendanceService) MarkAttendance(ctx context.Context, bookingID uuid.UUID, party string, now time.Time) (AttendanceResult, error) {
	if party != models.PartyTeacher && party != models.PartyStudent {
		return AttendanceResult{}, NewValidationError("party must be TEACHER or STUDENT")
	}
	db := s.db.WithContext(ctx)

	var b models.Booking
	if err := db.First(&b, "id = ?", bookingID).Error; err != nil {
		return AttendanceResult{}, notFoundOr(err, "booking")
	}
	if b.Status == models.BookingStatusCancelled {
		return AttendanceResult{}, NewValidationError(MsgCancelledBooking)
	}

	if err := s.checkWindow(&b, now); errors.Is(err, ErrOutOfWindow) {
		s.metrics.AttendanceMarks.WithLabelValues(party, "outside_schedule").Inc()
		return AttendanceResult{OutsideSchedule: true, Message: err.Error()}, nil
	}

	rec := models.AttendanceRecord{
		BookingID: b.ID,
		Party:     party,
		Status:    models.AttendancePresent,
		MarkedAt:  now.UTC(),
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "booking_id"}, {Name: "party"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return AttendanceResult{}, errors.Wrap(res.Error, "record attendance")
	}

	payable, err := s.payable(db, b.ID)
	if err != nil {
		return AttendanceResult{}, err
	}

	out := AttendanceResult{MarkedAsPayable: payable}
	if res.RowsAffected == 1 {
		out.Recorded = true
		s.metrics.AttendanceMarks.WithLabelValues(party, "recorded").Inc()
		s.log.Info("attendance recorded",
			zap.String("booking_id", b.ID.String()),
			zap.String("party", party),
			zap.Bool("payable", payable))
	} else {
		out.AlreadyMarked = true
		s.metrics.AttendanceMarks.WithLabelValues(party, "duplicate").Inc()
	}
	return out, nil
}

// checkWindow returns an OutOfWindowError unless now falls inside the
// booking's attendance window, grace periods included.
func (s *AttendanceService) checkWindow(b *models.Booking, now time.Time) error {
	opens := b.StartsAt.Add(-s.cfg.GraceBefore)
	closes := b.EndsAt.Add(s.cfg.GraceAfter)
	if now.Before(opens) || now.After(closes) {
		return NewOutOfWindowError(MsgOutsideSchedule)
	}
	return nil
}

// ComputePayable is evaluated on every call; nothing about payability is stored.
func (s *AttendanceService) ComputePayable(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Booking{}).Where("id = ?", bookingID).Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "load booking")
	}
	if n == 0 {
		return false, NewNotFoundError("booking not found")
	}
	return s.payable(db, bookingID)
}

func (s *AttendanceService) payable(db *gorm.DB, bookingID uuid.UUID) (bool, error) {
	var n int64
	err := db.Model(&models.Booking{}).Scopes(PayableScope).Where("bookings.id = ?", bookingID).Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "evaluate payable")
	}
	return n > 0, nil
}

// CompleteSession closes a session. measured, when given, wins over the
// course duration, which wins over the slot length.
func (s *AttendanceService) CompleteSession(ctx context.Context, bookingID uuid.UUID, measured *int) (*models.Booking, error) {
	if measured != nil && *measured <= 0 {
		return nil, NewValidationError("measured duration must be positive")
	}
	db := s.db.WithContext(ctx)

	var b models.Booking
	if err := db.Preload("Course").First(&b, "id = ?", bookingID).Error; err != nil {
		return nil, notFoundOr(err, "booking")
	}
	switch b.Status {
	case models.BookingStatusCompleted:
		return &b, nil
	case models.BookingStatusCancelled:
		return nil, NewValidationError("a cancelled booking cannot be completed")
	}
	now := s.clock.Now(ctx)
	if now.Before(b.StartsAt) {
		return nil, NewValidationError("a session cannot be completed before it starts")
	}

	minutes := b.SlotMinutes()
	if b.Course != nil && b.Course.ClassDurationMinutes > 0 {
		minutes = b.Course.ClassDurationMinutes
	}
	if measured != nil {
		minutes = *measured
	}

	res := db.Model(&models.Booking{}).
		Where("id = ? AND status IN ?", b.ID, models.ActiveBookingStatuses).
		Updates(map[string]interface{}{
			"status":           models.BookingStatusCompleted,
			"duration_minutes": minutes,
			"completed_at":     now,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "complete booking")
	}
	if res.RowsAffected == 0 {
		var current models.Booking
		if err := db.First(&current, "id = ?", b.ID).Error; err != nil {
			return nil, notFoundOr(err, "booking")
		}
		if current.Status == models.BookingStatusCompleted {
			return &current, nil
		}
		return nil, NewValidationError("a cancelled booking cannot be completed")
	}

	if b.RoomID != nil && s.rooms != nil {
		teardownRoom(s.rooms, s.log, *b.RoomID)
	}

	b.Status = models.BookingStatusCompleted
	b.DurationMinutes = &minutes
	b.CompletedAt = &now
	s.log.Info("session completed", zap.String("booking_id", b.ID.String()), zap.Int("duration_minutes", minutes))
	return &b, nil
}

// CompleteEndedSessions completes every open booking whose attendance
// window closed at least autoCompleteDelay ago. Failures are logged per
// booking and do not stop the sweep.
func (s *AttendanceService) CompleteEndedSessions(ctx context.Context) (int, error) {
	cutoff := s.clock.Now(ctx).Add(-s.cfg.GraceAfter - autoCompleteDelay)

	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("status IN ? AND ends_at <= ?", models.ActiveBookingStatuses, cutoff).
		Order("ends_at").
		Pluck("id", &ids).Error; err != nil {
		return 0, errors.Wrap(err, "find ended sessions")
	}

	done := 0
	for _, id := range ids {
		if _, err := s.CompleteSession(ctx, id, nil); err != nil {
			s.log.Warn("failed to auto-complete session", zap.Error(err), zap.String("booking_id", id.String()))
			continue
		}
		done++
	}
	return done, nil
}
