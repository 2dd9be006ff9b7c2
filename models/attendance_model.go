package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PartyTeacher = "TEACHER"
	PartyStudent = "STUDENT"

	AttendancePresent = "PRESENT"
)

// AttendanceRecord is append-only; (booking_id, party) is unique.
type AttendanceRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_attendance_booking_party,priority:1" json:"booking_id"`
	Party     string    `gorm:"size:10;not null;uniqueIndex:idx_attendance_booking_party,priority:2" json:"party"`
	Status    string    `gorm:"size:20;not null;default:'PRESENT'" json:"status"`
	MarkedAt  time.Time `gorm:"not null" json:"marked_at"`
}

func (a *AttendanceRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
