package services

import (
	"context"
	"testing"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type attendanceFixture struct {
	svc     *AttendanceService
	db      *gorm.DB
	clock   *testClock
	rooms   *fakeRooms
	teacher uuid.UUID
	student uuid.UUID
}

func newAttendanceFixture(t *testing.T) *attendanceFixture {
	t.Helper()
	db := newTestDB(t)
	f := &attendanceFixture{db: db, clock: newTestClock(at(monday, "09:00")), rooms: &fakeRooms{}}
	f.svc = NewAttendanceService(AttendanceParams{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   f.clock,
		Rooms:   f.rooms,
		Metrics: testMetrics(),
		Config:  AttendanceConfig{GraceBefore: 10 * time.Minute},
	})
	f.teacher = seedTeacher(t, db, "Tia Teacher")
	f.student = seedStudent(t, db, "Sam Student")
	return f
}

func (f *attendanceFixture) booking(t *testing.T, status string) models.Booking {
	return seedBooking(t, f.db, f.teacher, f.student, at(monday, "10:00"), at(monday, "10:45"), status)
}

func TestMarkAttendanceWindow(t *testing.T) {
	f := newAttendanceFixture(t)

	tests := []struct {
		at      string
		outside bool
	}{
		{at: "09:49", outside: true},
		{at: "09:50"},
		{at: "10:20"},
		{at: "10:45"},
		{at: "10:46", outside: true},
	}
	for _, tt := range tests {
		t.Run(tt.at, func(t *testing.T) {
			b := f.booking(t, models.BookingStatusConfirmed)
			res, err := f.svc.MarkAttendance(context.Background(), b.ID, models.PartyTeacher, at(monday, tt.at))
			require.NoError(t, err)
			assert.Equal(t, tt.outside, res.OutsideSchedule)
			assert.Equal(t, !tt.outside, res.Recorded)

			var n int64
			require.NoError(t, f.db.Model(&models.AttendanceRecord{}).Where("booking_id = ?", b.ID).Count(&n).Error)
			if tt.outside {
				assert.Equal(t, MsgOutsideSchedule, res.Message)
				assert.Zero(t, n)
			} else {
				assert.Equal(t, int64(1), n)
			}
		})
	}
}

func TestMarkAttendanceIsIdempotent(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	b := f.booking(t, models.BookingStatusConfirmed)

	first, err := f.svc.MarkAttendance(ctx, b.ID, models.PartyStudent, at(monday, "10:01"))
	require.NoError(t, err)
	assert.True(t, first.Recorded)

	second, err := f.svc.MarkAttendance(ctx, b.ID, models.PartyStudent, at(monday, "10:05"))
	require.NoError(t, err)
	assert.False(t, second.Recorded)
	assert.True(t, second.AlreadyMarked)

	var recs []models.AttendanceRecord
	require.NoError(t, f.db.Where("booking_id = ?", b.ID).Find(&recs).Error)
	require.Len(t, recs, 1)
	assert.Equal(t, at(monday, "10:01"), recs[0].MarkedAt.UTC())
}

func TestPayableNeedsBothParties(t *testing.T) {
	for _, order := range [][2]string{
		{models.PartyTeacher, models.PartyStudent},
		{models.PartyStudent, models.PartyTeacher},
	} {
		t.Run(order[0]+" first", func(t *testing.T) {
			f := newAttendanceFixture(t)
			ctx := context.Background()
			b := f.booking(t, models.BookingStatusConfirmed)

			res, err := f.svc.MarkAttendance(ctx, b.ID, order[0], at(monday, "09:55"))
			require.NoError(t, err)
			assert.False(t, res.MarkedAsPayable)
			payable, err := f.svc.ComputePayable(ctx, b.ID)
			require.NoError(t, err)
			assert.False(t, payable)

			res, err = f.svc.MarkAttendance(ctx, b.ID, order[1], at(monday, "10:10"))
			require.NoError(t, err)
			assert.True(t, res.MarkedAsPayable)
			payable, err = f.svc.ComputePayable(ctx, b.ID)
			require.NoError(t, err)
			assert.True(t, payable)
		})
	}
}

func TestMarkAttendanceRejections(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	cancelled := f.booking(t, models.BookingStatusCancelled)
	_, err := f.svc.MarkAttendance(ctx, cancelled.ID, models.PartyTeacher, at(monday, "10:00"))
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, MsgCancelledBooking, err.Error())

	_, err = f.svc.MarkAttendance(ctx, uuid.New(), models.PartyTeacher, at(monday, "10:00"))
	assert.ErrorIs(t, err, ErrNotFound)

	b := f.booking(t, models.BookingStatusConfirmed)
	_, err = f.svc.MarkAttendance(ctx, b.ID, "PARENT", at(monday, "10:00"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ComputePayable(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteSessionDuration(t *testing.T) {
	f := newAttendanceFixture(t)
	f.clock.Set(at(monday, "10:50"))
	ctx := context.Background()
	course := seedCourse(t, f.db, 30, f.teacher)

	withCourse := func(t *testing.T) models.Booking {
		b := f.booking(t, models.BookingStatusConfirmed)
		require.NoError(t, f.db.Model(&b).Update("course_id", course.ID).Error)
		return b
	}

	t.Run("measured wins", func(t *testing.T) {
		b := withCourse(t)
		got, err := f.svc.CompleteSession(ctx, b.ID, ptr(52))
		require.NoError(t, err)
		assert.Equal(t, 52, *got.DurationMinutes)
	})
	t.Run("course duration", func(t *testing.T) {
		b := withCourse(t)
		got, err := f.svc.CompleteSession(ctx, b.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, 30, *got.DurationMinutes)
	})
	t.Run("slot length", func(t *testing.T) {
		b := f.booking(t, models.BookingStatusPending)
		got, err := f.svc.CompleteSession(ctx, b.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusCompleted, got.Status)
		assert.Equal(t, 45, *got.DurationMinutes)

		var stored models.Booking
		require.NoError(t, f.db.First(&stored, "id = ?", b.ID).Error)
		assert.Equal(t, models.BookingStatusCompleted, stored.Status)
		assert.NotNil(t, stored.CompletedAt)

		again, err := f.svc.CompleteSession(ctx, b.ID, ptr(10))
		require.NoError(t, err)
		assert.Equal(t, 45, *again.DurationMinutes)
	})
	t.Run("cancelled", func(t *testing.T) {
		b := f.booking(t, models.BookingStatusCancelled)
		_, err := f.svc.CompleteSession(ctx, b.ID, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
	t.Run("bad measurement", func(t *testing.T) {
		b := f.booking(t, models.BookingStatusConfirmed)
		_, err := f.svc.CompleteSession(ctx, b.ID, ptr(0))
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCompleteSessionTearsDownRoom(t *testing.T) {
	f := newAttendanceFixture(t)
	b := f.booking(t, models.BookingStatusConfirmed)
	require.NoError(t, f.db.Model(&b).Update("room_id", "room-1").Error)

	f.clock.Set(at(monday, "10:45"))
	_, err := f.svc.CompleteSession(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"room-1"}, f.rooms.deleted)
}

func TestCompleteSessionBeforeStart(t *testing.T) {
	f := newAttendanceFixture(t)
	b := f.booking(t, models.BookingStatusConfirmed)

	_, err := f.svc.CompleteSession(context.Background(), b.ID, ptr(45))
	assert.ErrorIs(t, err, ErrValidation)

	var stored models.Booking
	require.NoError(t, f.db.First(&stored, "id = ?", b.ID).Error)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	assert.Nil(t, stored.CompletedAt)

	// once the session has started the teacher may close it early
	f.clock.Set(at(monday, "10:00"))
	got, err := f.svc.CompleteSession(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, got.Status)
}

func TestCompleteEndedSessions(t *testing.T) {
	f := newAttendanceFixture(t)
	ended := f.booking(t, models.BookingStatusConfirmed)
	late := seedBooking(t, f.db, f.teacher, f.student, at(monday, "11:00"), at(monday, "11:30"), models.BookingStatusPending)
	cancelled := seedBooking(t, f.db, f.teacher, f.student, at(monday, "08:00"), at(monday, "08:30"), models.BookingStatusCancelled)

	// 10:45 end + 5m delay; the 11:30 booking is still running
	f.clock.Set(at(monday, "10:50"))
	n, err := f.svc.CompleteEndedSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	statusOf := func(id uuid.UUID) string {
		var b models.Booking
		require.NoError(t, f.db.First(&b, "id = ?", id).Error)
		return b.Status
	}
	assert.Equal(t, models.BookingStatusCompleted, statusOf(ended.ID))
	assert.Equal(t, models.BookingStatusPending, statusOf(late.ID))
	assert.Equal(t, models.BookingStatusCancelled, statusOf(cancelled.ID))

	f.clock.Set(at(monday, "11:34"))
	n, err = f.svc.CompleteEndedSessions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
