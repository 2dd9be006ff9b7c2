package services

import (
	"context"
	"sort"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	PeriodCurrentMonth  = "current_month"
	PeriodPreviousMonth = "previous_month"
	PeriodCurrentWeek   = "current_week"
	PeriodPreviousWeek  = "previous_week"
)

// Money renders with exactly two decimals.
type Money struct {
	decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{d.Round(2)} }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

func (m Money) String() string { return m.StringFixed(2) }

type SettlementConfig struct {
	BaseRatePerHour decimal.Decimal
	Currency        string
	Location        *time.Location
}

type SettlementService struct {
	db    *gorm.DB
	log   *zap.Logger
	clock Clock
	cfg   SettlementConfig
}

func NewSettlementService(db *gorm.DB, log *zap.Logger, clock Clock, cfg SettlementConfig) *SettlementService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &SettlementService{db: db, log: log.Named("settlement.service"), clock: clock, cfg: cfg}
}

// SettlementQuery selects a half-open [From, To) range, or a named Period
// resolved in the settlement location. An empty query means the current month.
type SettlementQuery struct {
	TeacherID *uuid.UUID
	From      time.Time
	To        time.Time
	Period    string
}

type ClassEarning struct {
	BookingID       uuid.UUID `json:"booking_id"`
	TeacherID       uuid.UUID `json:"teacher_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	RateMultiplier  string    `json:"rate_multiplier"`
	Earnings        Money     `json:"earnings"`
}

type EarningsReport struct {
	TeacherID       *uuid.UUID     `json:"teacher_id,omitempty"`
	From            time.Time      `json:"from"`
	To              time.Time      `json:"to"`
	Currency        string         `json:"currency"`
	TotalClasses    int            `json:"total_classes"`
	TotalDuration   int            `json:"total_duration"`
	TotalEarnings   Money          `json:"total_earnings"`
	AveragePerClass Money          `json:"average_per_class"`
	Classes         []ClassEarning `json:"classes"`
}

type TeacherSummary struct {
	TeacherID       uuid.UUID `json:"teacher_id"`
	TotalClasses    int       `json:"total_classes"`
	TotalDuration   int       `json:"total_duration"`
	TotalEarnings   Money     `json:"total_earnings"`
	AveragePerClass Money     `json:"average_per_class"`
}

type PayableSummary struct {
	TotalClasses    int   `json:"total_classes"`
	TotalDuration   int   `json:"total_duration"`
	TotalEarnings   Money `json:"total_earnings"`
	AveragePerClass Money `json:"average_per_class"`
}

type PayableReport struct {
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	Currency   string           `json:"currency"`
	Summary    PayableSummary   `json:"summary"`
	PerTeacher []TeacherSummary `json:"per_teacher"`
}

func (s *SettlementService) Earnings(ctx context.Context, q SettlementQuery) (*EarningsReport, error) {
	from, to, err := s.resolveRange(ctx, q)
	if err != nil {
		return nil, err
	}
	classes, err := s.payableClasses(ctx, q.TeacherID, from, to)
	if err != nil {
		return nil, err
	}
	total, minutes := sumClasses(classes)
	return &EarningsReport{
		TeacherID:       q.TeacherID,
		From:            from,
		To:              to,
		Currency:        s.cfg.Currency,
		TotalClasses:    len(classes),
		TotalDuration:   minutes,
		TotalEarnings:   NewMoney(total),
		AveragePerClass: average(total, len(classes)),
		Classes:         classes,
	}, nil
}

// PayableClassesReport is built from the same selection as Earnings so the
// two can never disagree.
func (s *SettlementService) PayableClassesReport(ctx context.Context, q SettlementQuery) (*PayableReport, error) {
	from, to, err := s.resolveRange(ctx, q)
	if err != nil {
		return nil, err
	}
	classes, err := s.payableClasses(ctx, q.TeacherID, from, to)
	if err != nil {
		return nil, err
	}

	grouped := make(map[uuid.UUID][]ClassEarning)
	for _, c := range classes {
		grouped[c.TeacherID] = append(grouped[c.TeacherID], c)
	}
	perTeacher := make([]TeacherSummary, 0, len(grouped))
	for teacherID, cs := range grouped {
		total, minutes := sumClasses(cs)
		perTeacher = append(perTeacher, TeacherSummary{
			TeacherID:       teacherID,
			TotalClasses:    len(cs),
			TotalDuration:   minutes,
			TotalEarnings:   NewMoney(total),
			AveragePerClass: average(total, len(cs)),
		})
	}
	sort.Slice(perTeacher, func(i, j int) bool {
		return perTeacher[i].TeacherID.String() < perTeacher[j].TeacherID.String()
	})

	total, minutes := sumClasses(classes)
	return &PayableReport{
		From:     from,
		To:       to,
		Currency: s.cfg.Currency,
		Summary: PayableSummary{
			TotalClasses:    len(classes),
			TotalDuration:   minutes,
			TotalEarnings:   NewMoney(total),
			AveragePerClass: average(total, len(classes)),
		},
		PerTeacher: perTeacher,
	}, nil
}

func (s *SettlementService) payableClasses(ctx context.Context, teacherID *uuid.UUID, from, to time.Time) ([]ClassEarning, error) {
	db := s.db.WithContext(ctx)

	q := db.Model(&models.Booking{}).Preload("Course").Scopes(PayableScope).
		Where("bookings.status = ?", models.BookingStatusCompleted).
		Where("bookings.starts_at >= ? AND bookings.starts_at < ?", from, to)
	if teacherID != nil {
		q = q.Where("bookings.teacher_id = ?", *teacherID)
	}
	var bookings []models.Booking
	if err := q.Order("bookings.starts_at, bookings.id").Find(&bookings).Error; err != nil {
		return nil, errors.Wrap(err, "select payable classes")
	}
	if len(bookings) == 0 {
		return []ClassEarning{}, nil
	}

	teacherIDs := make([]uuid.UUID, 0, len(bookings))
	for _, b := range bookings {
		teacherIDs = append(teacherIDs, b.TeacherID)
	}
	var ranks []models.TeacherRank
	if err := db.Where("teacher_id IN ?", uniqueIDs(teacherIDs)).Find(&ranks).Error; err != nil {
		return nil, errors.Wrap(err, "load teacher ranks")
	}
	multipliers := make(map[uuid.UUID]decimal.Decimal, len(ranks))
	for _, r := range ranks {
		multipliers[r.TeacherID] = decimal.NewFromFloat(r.RateMultiplier)
	}

	out := make([]ClassEarning, 0, len(bookings))
	for _, b := range bookings {
		mult, ok := multipliers[b.TeacherID]
		if !ok {
			mult = decimal.NewFromInt(1)
		}
		minutes := classMinutes(b)
		out = append(out, ClassEarning{
			BookingID:       b.ID,
			TeacherID:       b.TeacherID,
			StartsAt:        b.StartsAt,
			DurationMinutes: minutes,
			RateMultiplier:  mult.String(),
			Earnings:        NewMoney(ClassEarnings(minutes, s.cfg.BaseRatePerHour, mult)),
		})
	}
	return out, nil
}

// ClassEarnings is (minutes/60) x rate x multiplier rounded half-up to cents.
// The division runs last so that exact inputs stay exact.
func ClassEarnings(minutes int, ratePerHour, multiplier decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).
		Mul(ratePerHour).
		Mul(multiplier).
		Div(decimal.NewFromInt(60)).
		Round(2)
}

func classMinutes(b models.Booking) int {
	switch {
	case b.DurationMinutes != nil && *b.DurationMinutes > 0:
		return *b.DurationMinutes
	case b.Course != nil && b.Course.ClassDurationMinutes > 0:
		return b.Course.ClassDurationMinutes
	}
	return b.SlotMinutes()
}

func sumClasses(classes []ClassEarning) (decimal.Decimal, int) {
	total := decimal.Zero
	minutes := 0
	for _, c := range classes {
		total = total.Add(c.Earnings.Decimal)
		minutes += c.DurationMinutes
	}
	return total, minutes
}

func average(total decimal.Decimal, n int) Money {
	if n == 0 {
		return NewMoney(decimal.Zero)
	}
	return NewMoney(total.Div(decimal.NewFromInt(int64(n))))
}

func (s *SettlementService) resolveRange(ctx context.Context, q SettlementQuery) (time.Time, time.Time, error) {
	if !q.From.IsZero() || !q.To.IsZero() {
		if q.From.IsZero() || q.To.IsZero() {
			return time.Time{}, time.Time{}, NewValidationError("both from and to are required")
		}
		if !q.To.After(q.From) {
			return time.Time{}, time.Time{}, NewValidationError("to must be after from")
		}
		return q.From.UTC(), q.To.UTC(), nil
	}
	period := q.Period
	if period == "" {
		period = PeriodCurrentMonth
	}
	return ResolvePeriod(period, s.clock.Now(ctx), s.cfg.Location)
}

// ResolvePeriod turns a named period into a UTC [from, to) range. Weeks
// start on Monday in loc.
func ResolvePeriod(name string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	sinceMonday := (int(local.Weekday()) + 6) % 7
	weekStart := time.Date(local.Year(), local.Month(), local.Day()-sinceMonday, 0, 0, 0, 0, loc)

	var from, to time.Time
	switch name {
	case PeriodCurrentMonth:
		from, to = monthStart, monthStart.AddDate(0, 1, 0)
	case PeriodPreviousMonth:
		from, to = monthStart.AddDate(0, -1, 0), monthStart
	case PeriodCurrentWeek:
		from, to = weekStart, weekStart.AddDate(0, 0, 7)
	case PeriodPreviousWeek:
		from, to = weekStart.AddDate(0, 0, -7), weekStart
	default:
		m, err := time.ParseInLocation("2006-01", name, loc)
		if err != nil {
			return time.Time{}, time.Time{}, NewValidationError("period must be current_month, previous_month, current_week, previous_week or YYYY-MM")
		}
		from, to = m, m.AddDate(0, 1, 0)
	}
	return from.UTC(), to.UTC(), nil
}

// SetRank stores the rate multiplier used for a teacher's future settlements.
func (s *SettlementService) SetRank(ctx context.Context, teacherID uuid.UUID, multiplier float64) (*models.TeacherRank, error) {
	if multiplier < 0 {
		return nil, NewValidationError("rate multiplier must not be negative")
	}
	db := s.db.WithContext(ctx)
	if err := ensureTeacher(db, teacherID); err != nil {
		return nil, err
	}
	rank := models.TeacherRank{TeacherID: teacherID, RateMultiplier: multiplier, UpdatedAt: s.clock.Now(ctx)}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "teacher_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate_multiplier", "updated_at"}),
	}).Create(&rank).Error
	if err != nil {
		return nil, errors.Wrap(err, "save teacher rank")
	}
	s.log.Info("teacher rank updated", zap.String("teacher_id", teacherID.String()), zap.Float64("multiplier", multiplier))
	return &rank, nil
}
