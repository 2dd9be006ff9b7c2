package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive    = "ACTIVE"
	SubscriptionStatusPastDue   = "PAST_DUE"
	SubscriptionStatusCancelled = "CANCELLED"

	AttemptStatusCharged = "CHARGED"
	AttemptStatusFailed  = "FAILED"
)

type Plan struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string    `gorm:"size:255;not null" json:"name"`
	Price            float64   `gorm:"type:numeric(10,2);not null" json:"price"`
	Currency         string    `gorm:"size:3;not null;default:'USD'" json:"currency"`
	ClassesPerPeriod int       `gorm:"not null;default:4" json:"classes_per_period"`
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}

func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type Subscription struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID          uuid.UUID  `gorm:"type:uuid;not null" json:"plan_id"`
	CourseID        *uuid.UUID `gorm:"type:uuid" json:"course_id,omitempty"`
	Status          string     `gorm:"size:20;not null;default:'ACTIVE';index:idx_subscriptions_due,priority:1" json:"status"`
	NextPaymentDate *time.Time `gorm:"index:idx_subscriptions_due,priority:2" json:"next_payment_date"`
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`
	PaymentToken    *string    `gorm:"size:255" json:"-"`
	PaymentProvider string     `gorm:"size:50" json:"payment_provider"`
	ClaimToken      *string    `gorm:"size:64" json:"-"`
	ClaimedUntil    *time.Time `json:"-"`
	LastChargedAt   *time.Time `json:"last_charged_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Plan Plan `gorm:"foreignKey:PlanID" json:"plan"`
	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// BillingAttempt records the outcome of one charge attempt against the gateway.
type BillingAttempt struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID uuid.UUID         `gorm:"type:uuid;not null;index" json:"subscription_id"`
	Reference      string            `gorm:"size:64;not null;unique" json:"reference"`
	Amount         float64           `gorm:"type:numeric(10,2);not null" json:"amount"`
	Currency       string            `gorm:"size:3;not null" json:"currency"`
	Status         string            `gorm:"size:20;not null" json:"status"`
	ErrorKind      *string           `gorm:"size:40" json:"error_kind,omitempty"`
	Reason         *string           `gorm:"type:text" json:"reason,omitempty"`
	GatewayTxnID   *string           `gorm:"size:255" json:"gateway_txn_id,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	AttemptedAt    time.Time         `gorm:"not null" json:"attempted_at"`
}

func (a *BillingAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
