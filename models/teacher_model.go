package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TeacherStatusPending  = "pending"
	TeacherStatusActive   = "active"
	TeacherStatusRejected = "rejected"
)

type Teacher struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Headline  *string   `gorm:"size:255" json:"headline"`
	Bio       *string   `gorm:"type:text" json:"bio"`
	Status    string    `gorm:"size:20;not null;default:'pending'" json:"status"`
	User      User      `gorm:"foreignKey:UserID" json:"user"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TeacherRank scales the base hourly rate when settling a teacher's classes.
type TeacherRank struct {
	TeacherID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"teacher_id"`
	RateMultiplier float64   `gorm:"not null" json:"rate_multiplier"`
	UpdatedAt      time.Time `json:"updated_at"`
}
