package models

import (
	"errors"
	"time"

	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RecurrenceWeekly       = "weekly"
	RecurrenceSpecificDate = "specific_date"
)

var ErrInvalidRecurrence = errors.New("availability window has an invalid recurrence")

// AvailabilityWindow is stored in UTC. EndTime may be "24:00".
type AvailabilityWindow struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TeacherID      uuid.UUID `gorm:"type:uuid;not null;index" json:"teacher_id"`
	RecurrenceKind string    `gorm:"size:20;not null" json:"recurrence"`
	DayOfWeek      *int      `json:"day_of_week,omitempty"`
	SpecificDate   *string   `gorm:"size:10;index" json:"specific_date,omitempty"`
	StartTime      string    `gorm:"size:5;not null" json:"start_time"`
	EndTime        string    `gorm:"size:5;not null" json:"end_time"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (w *AvailabilityWindow) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

func (w AvailabilityWindow) Recurrence() (timeconv.Recurrence, error) {
	switch w.RecurrenceKind {
	case RecurrenceWeekly:
		if w.DayOfWeek == nil || *w.DayOfWeek < 0 || *w.DayOfWeek > 6 {
			return nil, ErrInvalidRecurrence
		}
		return timeconv.Weekly{Day: time.Weekday(*w.DayOfWeek)}, nil
	case RecurrenceSpecificDate:
		if w.SpecificDate == nil {
			return nil, ErrInvalidRecurrence
		}
		d, err := timeconv.ParseDate(*w.SpecificDate)
		if err != nil {
			return nil, ErrInvalidRecurrence
		}
		return timeconv.SpecificDate{Date: d}, nil
	}
	return nil, ErrInvalidRecurrence
}

// Bounds returns the window's start and end clocks in UTC.
func (w AvailabilityWindow) Bounds() (timeconv.Clock, timeconv.Clock, error) {
	start, err := timeconv.ParseClock(w.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err := timeconv.ParseClock(w.EndTime)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, timeconv.ErrInvalidWindow
	}
	return start, end, nil
}

// On returns the absolute UTC interval of the window on day d, if its
// recurrence matches d.
func (w AvailabilityWindow) On(d timeconv.Date) (timeconv.Interval, bool) {
	rec, err := w.Recurrence()
	if err != nil || !rec.MatchesDate(d) {
		return timeconv.Interval{}, false
	}
	start, end, err := w.Bounds()
	if err != nil {
		return timeconv.Interval{}, false
	}
	return timeconv.Interval{Start: d.At(start, time.UTC), End: d.At(end, time.UTC)}, true
}
