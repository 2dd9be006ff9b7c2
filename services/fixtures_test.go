package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anjiri1684/tutorhub/database"
	"github.com/anjiri1684/tutorhub/metrics"
	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// monday is the anchor day most fixtures schedule on.
var monday = timeconv.MustDate("2026-03-02")

func at(d timeconv.Date, clock string) time.Time {
	return d.At(timeconv.MustClock(clock), time.UTC)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t.UTC()} }

func (c *testClock) Now(context.Context) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}

func testMetrics() *metrics.Metrics { return metrics.New(nil) }

func seedUser(t *testing.T, db *gorm.DB, role, name string) models.User {
	t.Helper()
	u := models.User{
		FullName: name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Password: "x",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func seedTeacher(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	t.Helper()
	u := seedUser(t, db, models.RoleTeacher, name)
	require.NoError(t, db.Create(&models.Teacher{UserID: u.ID, Status: models.TeacherStatusActive}).Error)
	return u.ID
}

func seedStudent(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	t.Helper()
	return seedUser(t, db, models.RoleStudent, name).ID
}

func seedWeekly(t *testing.T, db *gorm.DB, teacherID uuid.UUID, day time.Weekday, start, end string) {
	t.Helper()
	dow := int(day)
	require.NoError(t, db.Create(&models.AvailabilityWindow{
		TeacherID:      teacherID,
		RecurrenceKind: models.RecurrenceWeekly,
		DayOfWeek:      &dow,
		StartTime:      start,
		EndTime:        end,
	}).Error)
}

func seedSpecific(t *testing.T, db *gorm.DB, teacherID uuid.UUID, date, start, end string) {
	t.Helper()
	require.NoError(t, db.Create(&models.AvailabilityWindow{
		TeacherID:      teacherID,
		RecurrenceKind: models.RecurrenceSpecificDate,
		SpecificDate:   &date,
		StartTime:      start,
		EndTime:        end,
	}).Error)
}

func seedCourse(t *testing.T, db *gorm.DB, minutes int, teachers ...uuid.UUID) models.Course {
	t.Helper()
	c := models.Course{Title: "Conversational Spanish", ClassDurationMinutes: minutes, IsActive: true}
	require.NoError(t, db.Create(&c).Error)
	for _, id := range teachers {
		require.NoError(t, db.Create(&models.CourseTeacher{CourseID: c.ID, TeacherID: id}).Error)
	}
	return c
}

// seedBooking inserts a booking directly, bypassing the guard.
func seedBooking(t *testing.T, db *gorm.DB, teacherID, studentID uuid.UUID, start, end time.Time, status string) models.Booking {
	t.Helper()
	b := models.Booking{
		TeacherID: teacherID,
		StudentID: studentID,
		Day:       timeconv.DateOf(start).String(),
		StartTime: timeconv.ClockOf(start).String(),
		EndTime:   timeconv.ClockOf(end).String(),
		StartsAt:  start.UTC(),
		EndsAt:    end.UTC(),
		Status:    status,
	}
	require.NoError(t, db.Create(&b).Error)
	return b
}

func markBoth(t *testing.T, db *gorm.DB, bookingID uuid.UUID, when time.Time) {
	t.Helper()
	for _, party := range []string{models.PartyTeacher, models.PartyStudent} {
		require.NoError(t, db.Create(&models.AttendanceRecord{
			BookingID: bookingID, Party: party, Status: models.AttendancePresent, MarkedAt: when,
		}).Error)
	}
}
