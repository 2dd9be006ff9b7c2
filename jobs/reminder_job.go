package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/anjiri1684/tutorhub/services"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// reminderWindow matches the */5 schedule so each class is picked up once.
const (
	reminderLead   = 60 * time.Minute
	reminderWindow = 5 * time.Minute
)

type Reminders struct {
	db       *gorm.DB
	notifier notifications.Notifier
	clock    services.Clock
	log      *zap.Logger
}

func NewReminders(db *gorm.DB, notifier notifications.Notifier, clock services.Clock, log *zap.Logger) *Reminders {
	return &Reminders{db: db, notifier: notifier, clock: clock, log: log.Named("jobs.reminders")}
}

// Send emails both participants of every confirmed class starting in
// [now+60m, now+65m). It returns how many messages went out.
func (r *Reminders) Send(ctx context.Context) (int, error) {
	now := r.clock.Now(ctx)
	from := now.Add(reminderLead)
	to := from.Add(reminderWindow)

	var upcoming []models.Booking
	err := r.db.WithContext(ctx).
		Preload("Student").
		Preload("Teacher").
		Where("status = ? AND starts_at >= ? AND starts_at < ?", models.BookingStatusConfirmed, from, to).
		Find(&upcoming).Error
	if err != nil {
		return 0, errors.Wrap(err, "find upcoming classes")
	}

	sent := 0
	for _, b := range upcoming {
		for _, u := range []*models.User{b.Student, b.Teacher} {
			if u == nil {
				continue
			}
			msg := notifications.Message{
				ToName:  u.FullName,
				ToEmail: u.Email,
				Subject: "Reminder: Your Class Starts in 1 Hour!",
				HTML:    reminderBody(b, u),
			}
			if err := r.notifier.Send(ctx, msg); err != nil {
				r.log.Warn("failed to send reminder", zap.Error(err), zap.String("booking_id", b.ID.String()))
				continue
			}
			sent++
		}
	}
	return sent, nil
}

func reminderBody(b models.Booking, u *models.User) string {
	loc := time.UTC
	if u.TimeZone != nil {
		if l, err := time.LoadLocation(*u.TimeZone); err == nil {
			loc = l
		}
	}
	body := fmt.Sprintf(
		"<h1>Class Reminder</h1><p>Hi %s,</p><p>This is a friendly reminder that your class is scheduled to start in one hour at %s.</p>",
		u.FullName,
		b.StartsAt.In(loc).Format("15:04 MST"),
	)
	if b.MeetingLink != nil {
		body += fmt.Sprintf("<p><b>Meeting Link:</b> <a href='%s'>Join Class</a></p>", *b.MeetingLink)
	}
	return body
}

func SendClassReminders(r *Reminders) func() {
	return func() {
		r.log.Debug("Running job: sending class reminders...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := r.Send(ctx)
		if err != nil {
			r.log.Error("reminder run failed", zap.Error(err))
			return
		}
		if n > 0 {
			r.log.Info("class reminders sent", zap.Int("count", n))
		}
	}
}
