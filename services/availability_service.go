package services

import (
	"context"
	"sort"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MaxAvailabilityDays = 62
	MinSlotDuration     = 15 * time.Minute
	MaxSlotDuration     = 480 * time.Minute
	TeacherSlotDuration = 60 * time.Minute
)

type Alignment int

const (
	// AlignStudent steps slots by the class duration.
	AlignStudent Alignment = iota
	// AlignTeacher steps slots by a fixed hour.
	AlignTeacher
)

type AvailabilityQuery struct {
	TeacherIDs    []uuid.UUID
	CourseID      *uuid.UUID
	Duration      time.Duration
	From          timeconv.Date
	Days          int
	Location      *time.Location
	Alignment     Alignment
	IncludeBooked bool
}

type Slot struct {
	TeacherID uuid.UUID `json:"teacher_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	IsBooked  bool      `json:"is_booked"`
}

type AvailabilityService struct {
	db    *gorm.DB
	log   *zap.Logger
	clock Clock
}

func NewAvailabilityService(db *gorm.DB, log *zap.Logger, clock Clock) *AvailabilityService {
	return &AvailabilityService{db: db, log: log.Named("availability.service"), clock: clock}
}

// Resolve expands the teachers' windows into bookable slots seen from
// q.Location. Matching happens on absolute UTC instants, so weekday rollover
// and DST are handled by the final conversion only.
func (s *AvailabilityService) Resolve(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	if q.Days < 1 || q.Days > MaxAvailabilityDays {
		return nil, NewValidationError("days must be between 1 and 62")
	}
	if q.From.IsZero() {
		return nil, NewValidationError("from date is required")
	}
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	db := s.db.WithContext(ctx)

	teacherIDs, duration, err := s.resolveTeachers(db, q)
	if err != nil {
		return nil, err
	}
	if duration < MinSlotDuration || duration > MaxSlotDuration {
		return nil, NewValidationError("duration must be between 15 and 480 minutes")
	}
	if duration%time.Minute != 0 {
		return nil, NewValidationError("duration must be a whole number of minutes")
	}
	if len(teacherIDs) == 0 {
		return []Slot{}, nil
	}

	localFrom := q.From.At(0, loc)
	localTo := q.From.AddDays(q.Days).At(0, loc)
	firstUTC := timeconv.DateOf(localFrom.UTC()).AddDays(-1)
	lastUTC := timeconv.DateOf(localTo.UTC()).AddDays(1)

	var windows []models.AvailabilityWindow
	if err := db.Where("teacher_id IN ?", teacherIDs).Find(&windows).Error; err != nil {
		return nil, errors.Wrap(err, "load availability windows")
	}
	var bookings []models.Booking
	if err := db.Where("teacher_id IN ? AND status IN ?", teacherIDs, models.HeldBookingStatuses).
		Where("starts_at < ? AND ends_at > ?", lastUTC.AddDays(1).At(0, time.UTC), firstUTC.At(0, time.UTC)).
		Find(&bookings).Error; err != nil {
		return nil, errors.Wrap(err, "load bookings")
	}

	byTeacher := make(map[uuid.UUID][]models.AvailabilityWindow)
	for _, w := range windows {
		byTeacher[w.TeacherID] = append(byTeacher[w.TeacherID], w)
	}
	busy := make(map[uuid.UUID][]timeconv.Interval)
	for _, b := range bookings {
		busy[b.TeacherID] = append(busy[b.TeacherID], b.Interval())
	}

	now := s.clock.Now(ctx)
	out := []Slot{}

	for _, teacherID := range teacherIDs {
		for _, win := range availableIntervals(byTeacher[teacherID], firstUTC, lastUTC) {
			for start := win.Start; !start.Add(duration).After(win.End); start = start.Add(duration) {
				cand := timeconv.Interval{Start: start, End: start.Add(duration)}
				if cand.Start.Before(now) {
					continue
				}
				local := cand.Start.In(loc)
				if local.Before(localFrom) || !local.Before(localTo) {
					continue
				}
				booked := overlapsAny(busy[teacherID], cand)
				if booked && !q.IncludeBooked {
					continue
				}
				out = append(out, newSlot(teacherID, cand, loc, booked))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.TeacherID.String() < b.TeacherID.String()
	})
	return out, nil
}

func (s *AvailabilityService) resolveTeachers(db *gorm.DB, q AvailabilityQuery) ([]uuid.UUID, time.Duration, error) {
	duration := q.Duration
	if duration == 0 {
		duration = TeacherSlotDuration
	}

	if q.CourseID != nil {
		var course models.Course
		if err := db.First(&course, "id = ?", *q.CourseID).Error; err != nil {
			return nil, 0, notFoundOr(err, "course")
		}
		if q.Duration == 0 && q.Alignment == AlignStudent {
			duration = time.Duration(course.ClassDurationMinutes) * time.Minute
		}
		var ids []uuid.UUID
		if err := db.Model(&models.CourseTeacher{}).
			Joins("JOIN users ON users.id = course_teachers.teacher_id").
			Where("course_teachers.course_id = ? AND users.is_active = ?", course.ID, true).
			Pluck("course_teachers.teacher_id", &ids).Error; err != nil {
			return nil, 0, errors.Wrap(err, "load course teachers")
		}
		return ids, duration, nil
	}

	ids := uniqueIDs(q.TeacherIDs)
	if len(ids) == 0 {
		return nil, duration, nil
	}
	var found int64
	if err := db.Model(&models.Teacher{}).
		Where("user_id IN ? AND status = ?", ids, models.TeacherStatusActive).
		Count(&found).Error; err != nil {
		return nil, 0, errors.Wrap(err, "load teachers")
	}
	if int(found) != len(ids) {
		return nil, 0, NewNotFoundError("teacher not found")
	}
	return ids, duration, nil
}

func newSlot(teacherID uuid.UUID, iv timeconv.Interval, loc *time.Location, booked bool) Slot {
	start := iv.Start.In(loc)
	end := iv.End.In(loc)
	endClock := timeconv.ClockOf(end)
	if endClock == 0 && timeconv.DateOf(end) != timeconv.DateOf(start) {
		endClock = timeconv.MustClock("24:00")
	}
	return Slot{
		TeacherID: teacherID,
		Date:      timeconv.DateOf(start).String(),
		StartTime: timeconv.ClockOf(start).String(),
		EndTime:   endClock.String(),
		StartsAt:  iv.Start.UTC(),
		EndsAt:    iv.End.UTC(),
		IsBooked:  booked,
	}
}

func overlapsAny(busy []timeconv.Interval, iv timeconv.Interval) bool {
	for _, b := range busy {
		if timeconv.Overlaps(b, iv) {
			return true
		}
	}
	return false
}

// availableIntervals expands windows over the UTC days from..to and merges
// the result, so a window stored as two rows around UTC midnight is one
// continuous range again.
func availableIntervals(windows []models.AvailabilityWindow, from, to timeconv.Date) []timeconv.Interval {
	var all []timeconv.Interval
	for day := from; !day.After(to); day = day.AddDays(1) {
		for _, w := range windows {
			if iv, ok := w.On(day); ok {
				all = append(all, iv)
			}
		}
	}
	return timeconv.Merge(all)
}

// withinAvailability reports whether iv sits entirely inside the teacher's
// availability.
func withinAvailability(windows []models.AvailabilityWindow, iv timeconv.Interval) bool {
	from := timeconv.DateOf(iv.Start.UTC()).AddDays(-1)
	to := timeconv.DateOf(iv.End.UTC())
	for _, win := range availableIntervals(windows, from, to) {
		if win.Contains(iv) {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// WindowInput describes a window in the teacher's own time zone.
type WindowInput struct {
	Recurrence string `json:"recurrence" validate:"required,oneof=weekly specific_date"`
	DayOfWeek  *int   `json:"day_of_week,omitempty" validate:"omitempty,min=0,max=6"`
	Date       string `json:"date,omitempty"`
	StartTime  string `json:"start_time" validate:"required"`
	EndTime    string `json:"end_time" validate:"required"`
}

// CreateWindow stores in UTC. A window that straddles UTC midnight is split
// in two so that each stored row lives on one UTC day.
func (s *AvailabilityService) CreateWindow(ctx context.Context, teacherID uuid.UUID, in WindowInput, loc *time.Location) ([]models.AvailabilityWindow, error) {
	rows, err := s.toUTCWindows(ctx, teacherID, in, loc)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := ensureTeacher(db, teacherID); err != nil {
		return nil, err
	}
	if err := db.Create(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "create availability window")
	}
	return rows, nil
}

// ReplaceWindows swaps every window of a teacher in one transaction.
func (s *AvailabilityService) ReplaceWindows(ctx context.Context, teacherID uuid.UUID, in []WindowInput, loc *time.Location) ([]models.AvailabilityWindow, error) {
	var rows []models.AvailabilityWindow
	for _, w := range in {
		part, err := s.toUTCWindows(ctx, teacherID, w, loc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureTeacher(tx, teacherID); err != nil {
			return err
		}
		if err := tx.Where("teacher_id = ?", teacherID).Delete(&models.AvailabilityWindow{}).Error; err != nil {
			return errors.Wrap(err, "clear availability windows")
		}
		if len(rows) == 0 {
			return nil
		}
		return errors.Wrap(tx.Create(&rows).Error, "create availability windows")
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("availability replaced", zap.String("teacher_id", teacherID.String()), zap.Int("windows", len(rows)))
	return rows, nil
}

func (s *AvailabilityService) ListWindows(ctx context.Context, teacherID uuid.UUID) ([]models.AvailabilityWindow, error) {
	var rows []models.AvailabilityWindow
	err := s.db.WithContext(ctx).Where("teacher_id = ?", teacherID).
		Order("recurrence_kind, day_of_week, specific_date, start_time").Find(&rows).Error
	return rows, errors.Wrap(err, "list availability windows")
}

// LocalWindow is a stored window as its owner sees it in loc. Rows that were
// split at UTC midnight come back joined, with both ids. EndTime is earlier
// than StartTime when the window runs past local midnight.
type LocalWindow struct {
	WindowIDs  []uuid.UUID `json:"window_ids"`
	Recurrence string      `json:"recurrence"`
	DayOfWeek  *int        `json:"day_of_week,omitempty"`
	Date       string      `json:"date,omitempty"`
	StartTime  string      `json:"start_time"`
	EndTime    string      `json:"end_time"`
	TimeZone   string      `json:"timezone"`
}

// ListLocalWindows converts the teacher's windows into loc. Weekly windows use
// the UTC offset in force on their next occurrence.
func (s *AvailabilityService) ListLocalWindows(ctx context.Context, teacherID uuid.UUID, loc *time.Location) ([]LocalWindow, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := s.ListWindows(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	ref := timeconv.DateOf(s.clock.Now(ctx).UTC())

	out := []LocalWindow{}
	for _, g := range joinMidnightSplits(rows) {
		lw := LocalWindow{WindowIDs: g.ids, Recurrence: g.kind, TimeZone: loc.String()}
		if g.kind == models.RecurrenceWeekly {
			local, err := timeconv.ToLocal(ref, timeconv.WeeklyWindow{Weekday: g.weekday, Start: g.start, End: g.end}, loc)
			if err != nil {
				s.log.Warn("skipping unconvertible window", zap.Error(err), zap.String("teacher_id", teacherID.String()))
				continue
			}
			dow := int(local.Weekday)
			lw.DayOfWeek = &dow
			lw.StartTime, lw.EndTime = local.Start.String(), local.End.String()
		} else {
			start := g.date.At(g.start, time.UTC)
			end := g.date.At(g.end, time.UTC)
			if g.end <= g.start {
				end = g.date.AddDays(1).At(g.end, time.UTC)
			}
			iv := newSlot(teacherID, timeconv.Interval{Start: start, End: end}, loc, false)
			lw.Date, lw.StartTime, lw.EndTime = iv.Date, iv.StartTime, iv.EndTime
		}
		out = append(out, lw)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Recurrence != b.Recurrence {
			return a.Recurrence > b.Recurrence
		}
		if a.DayOfWeek != nil && b.DayOfWeek != nil && *a.DayOfWeek != *b.DayOfWeek {
			return *a.DayOfWeek < *b.DayOfWeek
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.StartTime < b.StartTime
	})
	return out, nil
}

type windowGroup struct {
	ids     []uuid.UUID
	kind    string
	weekday time.Weekday
	date    timeconv.Date
	start   timeconv.Clock
	end     timeconv.Clock
}

// joinMidnightSplits pairs a row ending at 24:00 with the row starting at
// 00:00 on the following UTC day, as long as the pair spans less than a day.
// The end clock of a joined group is earlier than its start.
func joinMidnightSplits(rows []models.AvailabilityWindow) []windowGroup {
	groups := make([]windowGroup, 0, len(rows))
	for _, w := range rows {
		start, end, err := w.Bounds()
		if err != nil {
			continue
		}
		g := windowGroup{ids: []uuid.UUID{w.ID}, kind: w.RecurrenceKind, start: start, end: end}
		switch w.RecurrenceKind {
		case models.RecurrenceWeekly:
			if w.DayOfWeek == nil {
				continue
			}
			g.weekday = time.Weekday(*w.DayOfWeek)
		case models.RecurrenceSpecificDate:
			if w.SpecificDate == nil {
				continue
			}
			d, err := timeconv.ParseDate(*w.SpecificDate)
			if err != nil {
				continue
			}
			g.date = d
		default:
			continue
		}
		groups = append(groups, g)
	}

	midnight := timeconv.MustClock("24:00")
	follows := func(head, tail windowGroup) bool {
		if head.kind != tail.kind || head.end != midnight || tail.start != 0 || tail.end >= head.start {
			return false
		}
		if head.kind == models.RecurrenceWeekly {
			return tail.weekday == (head.weekday+1)%7
		}
		return tail.date == head.date.AddDays(1)
	}

	joined := make([]bool, len(groups))
	for i := range groups {
		if groups[i].end != midnight {
			continue
		}
		for j := range groups {
			if j == i || joined[j] || !follows(groups[i], groups[j]) {
				continue
			}
			joined[j] = true
			groups[i].ids = append(groups[i].ids, groups[j].ids...)
			groups[i].end = groups[j].end
			break
		}
	}
	out := make([]windowGroup, 0, len(groups))
	for i, g := range groups {
		if !joined[i] {
			out = append(out, g)
		}
	}
	return out
}

func (s *AvailabilityService) DeleteWindow(ctx context.Context, teacherID, windowID uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ? AND teacher_id = ?", windowID, teacherID).Delete(&models.AvailabilityWindow{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete availability window")
	}
	if res.RowsAffected == 0 {
		return NewNotFoundError("availability window not found")
	}
	return nil
}

func (s *AvailabilityService) toUTCWindows(ctx context.Context, teacherID uuid.UUID, in WindowInput, loc *time.Location) ([]models.AvailabilityWindow, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := timeconv.ParseClock(in.StartTime)
	if err != nil {
		return nil, NewValidationError("start_time must be HH:MM")
	}
	end, err := timeconv.ParseClock(in.EndTime)
	if err != nil {
		return nil, NewValidationError("end_time must be HH:MM")
	}
	if start >= timeconv.MustClock("24:00") || end <= start {
		return nil, NewValidationError("end_time must be after start_time")
	}

	switch in.Recurrence {
	case models.RecurrenceWeekly:
		if in.DayOfWeek == nil || *in.DayOfWeek < 0 || *in.DayOfWeek > 6 {
			return nil, NewValidationError("day_of_week must be between 0 and 6")
		}
		ref := timeconv.DateOf(s.clock.Now(ctx).In(loc))
		utc, err := timeconv.ToUTC(ref, timeconv.WeeklyWindow{Weekday: time.Weekday(*in.DayOfWeek), Start: start, End: end}, loc)
		if err != nil {
			return nil, NewValidationError(err.Error())
		}
		if !utc.CrossesMidnight() {
			return []models.AvailabilityWindow{weeklyRow(teacherID, utc.Weekday, utc.Start, utc.End)}, nil
		}
		return []models.AvailabilityWindow{
			weeklyRow(teacherID, utc.Weekday, utc.Start, timeconv.MustClock("24:00")),
			weeklyRow(teacherID, (utc.Weekday+1)%7, 0, utc.End),
		}, nil

	case models.RecurrenceSpecificDate:
		d, err := timeconv.ParseDate(in.Date)
		if err != nil {
			return nil, NewValidationError("date must be YYYY-MM-DD")
		}
		var rows []models.AvailabilityWindow
		from, to := d.At(start, loc).UTC(), d.At(end, loc).UTC()
		for from.Before(to) {
			day := timeconv.DateOf(from)
			dayEnd := day.AddDays(1).At(0, time.UTC)
			pieceEnd := to
			if dayEnd.Before(to) {
				pieceEnd = dayEnd
			}
			endClock := timeconv.ClockOf(pieceEnd)
			if pieceEnd.Equal(dayEnd) {
				endClock = timeconv.MustClock("24:00")
			}
			date := day.String()
			rows = append(rows, models.AvailabilityWindow{
				TeacherID:      teacherID,
				RecurrenceKind: models.RecurrenceSpecificDate,
				SpecificDate:   &date,
				StartTime:      timeconv.ClockOf(from).String(),
				EndTime:        endClock.String(),
			})
			from = pieceEnd
		}
		return rows, nil
	}
	return nil, NewValidationError("recurrence must be weekly or specific_date")
}

func weeklyRow(teacherID uuid.UUID, day time.Weekday, start, end timeconv.Clock) models.AvailabilityWindow {
	dow := int(day)
	return models.AvailabilityWindow{
		TeacherID:      teacherID,
		RecurrenceKind: models.RecurrenceWeekly,
		DayOfWeek:      &dow,
		StartTime:      start.String(),
		EndTime:        end.String(),
	}
}

func ensureTeacher(db *gorm.DB, teacherID uuid.UUID) error {
	var n int64
	if err := db.Model(&models.Teacher{}).
		Where("user_id = ? AND status = ?", teacherID, models.TeacherStatusActive).
		Count(&n).Error; err != nil {
		return errors.Wrap(err, "load teacher")
	}
	if n == 0 {
		return NewNotFoundError("teacher not found")
	}
	return nil
}
