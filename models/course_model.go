package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Course struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title                string    `gorm:"size:255;not null" json:"title"`
	ClassDurationMinutes int       `gorm:"not null;default:60" json:"class_duration_minutes"`
	IsActive             bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt            time.Time `json:"-"`
	UpdatedAt            time.Time `json:"-"`
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type CourseTeacher struct {
	CourseID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"course_id"`
	TeacherID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"teacher_id"`
}
