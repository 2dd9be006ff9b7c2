package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EnrollmentStatusActive  = "active"
	EnrollmentStatusExpired = "expired"
)

// Enrollment is the class allowance bought by one successful subscription charge.
type Enrollment struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	StudentID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"student_id"`
	CourseID         *uuid.UUID `gorm:"type:uuid" json:"course_id,omitempty"`
	SubscriptionID   *uuid.UUID `gorm:"type:uuid;index" json:"subscription_id,omitempty"`
	PeriodStart      time.Time  `gorm:"not null" json:"period_start"`
	PeriodEnd        time.Time  `gorm:"not null" json:"period_end"`
	RemainingClasses int        `gorm:"not null" json:"remaining_classes"`
	Status           string     `gorm:"size:20;not null;default:'active'" json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
