package models

import (
	"time"

	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	BookingStatusPending   = "PENDING"
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusCompleted = "COMPLETED"
	BookingStatusCancelled = "CANCELLED"
)

// ActiveBookingStatuses are the statuses a session can still move out of.
var ActiveBookingStatuses = []string{BookingStatusPending, BookingStatusConfirmed}

// HeldBookingStatuses are every status but CANCELLED. A booking in any of
// them keeps the teacher's time taken.
var HeldBookingStatuses = []string{BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted}

type Booking struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TeacherID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_bookings_teacher_starts,priority:1" json:"teacher_id"`
	StudentID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"student_id"`
	EnrollmentID *uuid.UUID `gorm:"type:uuid;index" json:"enrollment_id,omitempty"`
	CourseID     *uuid.UUID `gorm:"type:uuid" json:"course_id,omitempty"`

	// Day and the clocks are UTC. EndTime is earlier than StartTime when
	// the session runs past UTC midnight.
	Day       string    `gorm:"size:10;not null" json:"day"`
	StartTime string    `gorm:"size:5;not null" json:"start_time"`
	EndTime   string    `gorm:"size:5;not null" json:"end_time"`
	StartsAt  time.Time `gorm:"not null;index:idx_bookings_teacher_starts,priority:2" json:"starts_at"`
	EndsAt    time.Time `gorm:"not null" json:"ends_at"`
	Status    string    `gorm:"size:20;not null;default:'PENDING';index" json:"status"`

	RoomID          *string `gorm:"size:255" json:"room_id,omitempty"`
	MeetingLink     *string `gorm:"size:255" json:"meeting_link,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Course  *Course `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Student *User   `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	Teacher *User   `gorm:"foreignKey:TeacherID" json:"teacher,omitempty"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b Booking) Interval() timeconv.Interval {
	return timeconv.Interval{Start: b.StartsAt, End: b.EndsAt}
}

func (b Booking) SlotMinutes() int {
	return int(b.EndsAt.Sub(b.StartsAt) / time.Minute)
}

// BookingLock is the per teacher and UTC day row that booking commits
// serialize on.
type BookingLock struct {
	TeacherID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Day       string    `gorm:"size:10;primaryKey"`
	Version   int64     `gorm:"not null;default:0"`
}
