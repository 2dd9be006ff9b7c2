package services

import (
	"context"
	"fmt"
	"time"

	"github.com/anjiri1684/tutorhub/metrics"
	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/sessions"
	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const bookingLockTTL = 30 * time.Second

// Actor is the authenticated caller of a booking operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// CanAccess reports whether the actor is a participant of b or an admin.
func (a Actor) CanAccess(b *models.Booking) bool {
	return a.IsAdmin() || a.UserID == b.StudentID || a.UserID == b.TeacherID
}

type BookingParams struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Clock   Clock
	Locker  Locker
	Rooms   sessions.RoomProvider
	Metrics *metrics.Metrics
}

type BookingService struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   Clock
	locker  Locker
	rooms   sessions.RoomProvider
	metrics *metrics.Metrics
}

func NewBookingService(p BookingParams) *BookingService {
	return &BookingService{
		db:      p.DB,
		log:     p.Log.Named("booking.service"),
		clock:   p.Clock,
		locker:  p.Locker,
		rooms:   p.Rooms,
		metrics: p.Metrics,
	}
}

// CreateBookingInput carries a slot in Location. It is normalised to UTC
// before anything is stored.
type CreateBookingInput struct {
	StudentID    uuid.UUID
	TeacherID    uuid.UUID
	Day          string
	StartTime    string
	EndTime      string
	Location     *time.Location
	EnrollmentID *uuid.UUID
	CourseID     *uuid.UUID
}

func (in CreateBookingInput) interval() (timeconv.Interval, error) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := timeconv.ParseDate(in.Day)
	if err != nil {
		return timeconv.Interval{}, NewValidationError("day must be YYYY-MM-DD")
	}
	start, err := timeconv.ParseClock(in.StartTime)
	if err != nil {
		return timeconv.Interval{}, NewValidationError("start_time must be HH:MM")
	}
	end, err := timeconv.ParseClock(in.EndTime)
	if err != nil {
		return timeconv.Interval{}, NewValidationError("end_time must be HH:MM")
	}
	if end <= start {
		return timeconv.Interval{}, NewValidationError("end_time must be after start_time")
	}
	return timeconv.Interval{Start: day.At(start, loc).UTC(), End: day.At(end, loc).UTC()}, nil
}

// utcDays lists every UTC day iv touches, in order. Two overlapping bookings
// always share at least one of them.
func utcDays(iv timeconv.Interval) []string {
	last := timeconv.DateOf(iv.End.Add(-time.Nanosecond))
	var out []string
	for d := timeconv.DateOf(iv.Start); !d.After(last); d = d.AddDays(1) {
		out = append(out, d.String())
	}
	return out
}

// Create commits a PENDING booking. Writers for the same teacher and UTC day
// are serialized by the locker and then by the booking_locks row, and the
// overlap check runs again inside that critical section. A slot running past
// UTC midnight takes the locks of both days, always in date order.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	iv, err := in.interval()
	if err != nil {
		return nil, err
	}
	if iv.Start.Before(s.clock.Now(ctx)) {
		return nil, NewValidationError("cannot book a slot in the past")
	}
	db := s.db.WithContext(ctx)
	if err := ensureTeacher(db, in.TeacherID); err != nil {
		return nil, err
	}
	if in.EnrollmentID != nil {
		if err := s.checkEnrollment(db, *in.EnrollmentID, in.StudentID); err != nil {
			return nil, err
		}
	}

	days := utcDays(iv)
	for _, day := range days {
		release, err := s.locker.Lock(ctx, fmt.Sprintf("booking:%s:%s", in.TeacherID, day), bookingLockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "acquire booking lock")
		}
		defer release()
	}

	booking := models.Booking{
		TeacherID:    in.TeacherID,
		StudentID:    in.StudentID,
		EnrollmentID: in.EnrollmentID,
		CourseID:     in.CourseID,
		Day:          days[0],
		StartTime:    timeconv.ClockOf(iv.Start).String(),
		EndTime:      utcEndClock(iv).String(),
		StartsAt:     iv.Start,
		EndsAt:       iv.End,
		Status:       models.BookingStatusPending,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, day := range days {
			if err := lockTeacherDay(tx, in.TeacherID, day); err != nil {
				return err
			}
		}

		var clashes int64
		if err := tx.Model(&models.Booking{}).
			Where("teacher_id = ? AND status IN ?", in.TeacherID, models.HeldBookingStatuses).
			Where("starts_at < ? AND ends_at > ?", iv.End, iv.Start).
			Count(&clashes).Error; err != nil {
			return errors.Wrap(err, "check overlapping bookings")
		}
		if clashes > 0 {
			return NewConflictError(MsgSlotUnavailable)
		}

		var windows []models.AvailabilityWindow
		if err := tx.Where("teacher_id = ?", in.TeacherID).Find(&windows).Error; err != nil {
			return errors.Wrap(err, "load availability windows")
		}
		if !withinAvailability(windows, iv) {
			return NewValidationError(MsgOutsideAvailability)
		}

		if in.EnrollmentID != nil {
			res := tx.Model(&models.Enrollment{}).
				Where("id = ? AND remaining_classes > 0", *in.EnrollmentID).
				UpdateColumn("remaining_classes", gorm.Expr("remaining_classes - 1"))
			if res.Error != nil {
				return errors.Wrap(res.Error, "consume enrollment class")
			}
			if res.RowsAffected == 0 {
				return NewValidationError("no classes remaining on this enrollment")
			}
		}

		return errors.Wrap(tx.Create(&booking).Error, "create booking")
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			s.metrics.BookingConflicts.Inc()
			s.log.Info("booking conflict",
				zap.String("teacher_id", in.TeacherID.String()),
				zap.Time("starts_at", iv.Start))
		}
		return nil, err
	}

	s.metrics.BookingsCreated.Inc()
	s.log.Info("booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("teacher_id", booking.TeacherID.String()),
		zap.Time("starts_at", booking.StartsAt))
	return &booking, nil
}

// lockTeacherDay takes the storage-level write lock for (teacher, day). The
// UPDATE holds a row lock on Postgres and the database write lock on SQLite
// until the surrounding transaction ends.
func lockTeacherDay(tx *gorm.DB, teacherID uuid.UUID, day string) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.BookingLock{TeacherID: teacherID, Day: day}).Error; err != nil {
		return errors.Wrap(err, "ensure booking lock row")
	}
	if err := tx.Model(&models.BookingLock{}).
		Where("teacher_id = ? AND day = ?", teacherID, day).
		UpdateColumn("version", gorm.Expr("version + 1")).Error; err != nil {
		return errors.Wrap(err, "take booking lock")
	}
	return nil
}

// utcEndClock is the end clock on the UTC day the booking ends. It reads
// earlier than the start clock when the booking runs past midnight, and
// 24:00 when it ends exactly at midnight.
func utcEndClock(iv timeconv.Interval) timeconv.Clock {
	end := timeconv.ClockOf(iv.End)
	if end == 0 && timeconv.DateOf(iv.End).After(timeconv.DateOf(iv.Start)) {
		return timeconv.MustClock("24:00")
	}
	return end
}

func (s *BookingService) checkEnrollment(db *gorm.DB, enrollmentID, studentID uuid.UUID) error {
	var e models.Enrollment
	if err := db.First(&e, "id = ?", enrollmentID).Error; err != nil {
		return notFoundOr(err, "enrollment")
	}
	switch {
	case e.StudentID != studentID:
		return NewValidationError("enrollment does not belong to this student")
	case e.Status != models.EnrollmentStatusActive:
		return NewValidationError("enrollment is not active")
	case e.RemainingClasses <= 0:
		return NewValidationError("no classes remaining on this enrollment")
	}
	return nil
}

func (s *BookingService) Get(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.WithContext(ctx).Preload("Course").First(&b, "id = ?", bookingID).Error; err != nil {
		return nil, notFoundOr(err, "booking")
	}
	if !actor.CanAccess(&b) {
		return nil, NewNotFoundError("booking not found")
	}
	return &b, nil
}

func (s *BookingService) ListForStudent(ctx context.Context, studentID uuid.UUID) ([]models.Booking, error) {
	var out []models.Booking
	err := s.db.WithContext(ctx).Preload("Course").
		Where("student_id = ?", studentID).Order("starts_at desc").Find(&out).Error
	return out, errors.Wrap(err, "list student bookings")
}

func (s *BookingService) ListForTeacher(ctx context.Context, teacherID uuid.UUID) ([]models.Booking, error) {
	var out []models.Booking
	err := s.db.WithContext(ctx).Preload("Course").
		Where("teacher_id = ?", teacherID).Order("starts_at desc").Find(&out).Error
	return out, errors.Wrap(err, "list teacher bookings")
}

// Confirm provisions the session room and moves PENDING to CONFIRMED.
func (s *BookingService) Confirm(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error) {
	b, err := s.Get(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.UserID != b.TeacherID {
		return nil, NewNotFoundError("booking not found")
	}
	switch b.Status {
	case models.BookingStatusConfirmed:
		return b, nil
	case models.BookingStatusCancelled, models.BookingStatusCompleted:
		return nil, NewValidationError("only pending bookings can be confirmed")
	}

	room, err := s.rooms.CreateRoom(ctx, sessions.RoomRequest{BookingID: b.ID, StartsAt: b.StartsAt, EndsAt: b.EndsAt})
	if err != nil {
		return nil, errors.Wrap(err, "provision session room")
	}

	res := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", b.ID, models.BookingStatusPending).
		Updates(map[string]interface{}{
			"status":       models.BookingStatusConfirmed,
			"room_id":      room.ID,
			"meeting_link": room.JoinURL,
		})
	if res.Error != nil {
		s.teardown(room.ID)
		return nil, errors.Wrap(res.Error, "confirm booking")
	}
	if res.RowsAffected == 0 {
		// lost a race with another confirm or a cancel
		s.teardown(room.ID)
		current, err := s.Get(ctx, bookingID, actor)
		if err != nil {
			return nil, err
		}
		if current.Status == models.BookingStatusConfirmed {
			return current, nil
		}
		return nil, NewValidationError("only pending bookings can be confirmed")
	}

	s.log.Info("booking confirmed", zap.String("booking_id", b.ID.String()), zap.String("room_id", room.ID))
	return s.Get(ctx, bookingID, actor)
}

// Cancel releases the slot and gives the enrollment class back.
func (s *BookingService) Cancel(ctx context.Context, bookingID uuid.UUID, actor Actor) (*models.Booking, error) {
	b, err := s.Get(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case models.BookingStatusCancelled:
		return b, nil
	case models.BookingStatusCompleted:
		return nil, NewValidationError("a completed booking cannot be cancelled")
	}

	now := s.clock.Now(ctx)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status IN ?", b.ID, models.ActiveBookingStatuses).
			Updates(map[string]interface{}{
				"status":       models.BookingStatusCancelled,
				"cancelled_at": now,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "cancel booking")
		}
		if res.RowsAffected == 0 {
			return errNoTransition
		}
		if b.EnrollmentID == nil {
			return nil
		}
		return errors.Wrap(tx.Model(&models.Enrollment{}).
			Where("id = ?", *b.EnrollmentID).
			UpdateColumn("remaining_classes", gorm.Expr("remaining_classes + 1")).Error, "restore enrollment class")
	})
	if errors.Is(err, errNoTransition) {
		current, gerr := s.Get(ctx, bookingID, actor)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == models.BookingStatusCancelled {
			return current, nil
		}
		return nil, NewValidationError("a completed booking cannot be cancelled")
	}
	if err != nil {
		return nil, err
	}

	if b.RoomID != nil {
		s.teardown(*b.RoomID)
	}
	s.log.Info("booking cancelled", zap.String("booking_id", b.ID.String()), zap.String("by", actor.UserID.String()))
	return s.Get(ctx, bookingID, actor)
}

// errNoTransition aborts a transaction whose conditional update matched no row.
var errNoTransition = errors.New("booking changed state concurrently")

func (s *BookingService) teardown(roomID string) {
	teardownRoom(s.rooms, s.log, roomID)
}

func teardownRoom(rooms sessions.RoomProvider, log *zap.Logger, roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rooms.DeleteRoom(ctx, roomID); err != nil {
		log.Warn("failed to tear down session room", zap.Error(err), zap.String("room_id", roomID))
	}
}
