package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anjiri1684/tutorhub/database"
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/metrics"
	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/anjiri1684/tutorhub/payments"
	"github.com/anjiri1684/tutorhub/services"
	"github.com/anjiri1684/tutorhub/sessions"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	jwtSecret  = "routes-secret"
	cronSecret = "cron-secret"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now(context.Context) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type okGateway struct{}

func (okGateway) Name() string { return "ok" }

func (okGateway) Charge(_ context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	return &payments.ChargeResult{TransactionID: "txn-" + req.Reference, Status: "CAPTURED"}, nil
}

type harness struct {
	app     *fiber.App
	db      *gorm.DB
	clock   *stepClock
	teacher models.User
	student models.User
	admin   models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	clock := &stepClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	m := metrics.New(nil)
	locker := services.NewMemoryLocker()
	rooms := sessions.StaticRoomProvider{BaseURL: "https://meet.example"}
	notifier := notifications.LogNotifier{Log: log}

	bookings := services.NewBookingService(services.BookingParams{
		DB: db, Log: log, Clock: clock, Locker: locker, Rooms: rooms, Metrics: m,
	})
	attendance := services.NewAttendanceService(services.AttendanceParams{
		DB: db, Log: log, Clock: clock, Rooms: rooms, Metrics: m,
		Config: services.AttendanceConfig{GraceBefore: 10 * time.Minute},
	})
	settlement := services.NewSettlementService(db, log, clock, services.SettlementConfig{
		BaseRatePerHour: decimal.NewFromInt(10),
		Currency:        "USD",
	})
	billing := services.NewBillingService(services.BillingParams{
		DB: db, Log: log, Clock: clock, Locker: locker, Gateway: okGateway{}, Notifier: notifier, Metrics: m,
		Config: services.BillingConfig{Workers: 2, MaxRetries: 2},
	})

	app := fiber.New()
	Register(app, Deps{
		DB:                db,
		Notifier:          notifier,
		Log:               log,
		JWTSecret:         jwtSecret,
		BillingCronSecret: cronSecret,
		Availability: handlers.AvailabilityDeps{
			Service: services.NewAvailabilityService(db, log, clock), DB: db, Clock: clock, Location: time.UTC, Log: log,
		},
		Bookings: handlers.BookingDeps{
			Bookings: bookings, Attendance: attendance, Clock: clock, Location: time.UTC, Log: log,
		},
		Settlement: handlers.SettlementDeps{Service: settlement, Log: log},
		Billing:    handlers.BillingDeps{Service: billing, Log: log},
		Teachers:   handlers.TeacherDeps{DB: db, Notifier: notifier, Log: log},
	})

	h := &harness{app: app, db: db, clock: clock}
	h.teacher = h.user(t, models.RoleTeacher, "Grace Hopper")
	require.NoError(t, db.Create(&models.Teacher{UserID: h.teacher.ID, Status: models.TeacherStatusActive}).Error)
	monday := int(time.Monday)
	require.NoError(t, db.Create(&models.AvailabilityWindow{
		TeacherID:      h.teacher.ID,
		RecurrenceKind: models.RecurrenceWeekly,
		DayOfWeek:      &monday,
		StartTime:      "10:00",
		EndTime:        "12:00",
	}).Error)
	h.student = h.user(t, models.RoleStudent, "Alan Turing")
	h.admin = h.user(t, models.RoleAdmin, "Ada Admin")
	return h
}

func (h *harness) user(t *testing.T, role, name string) models.User {
	t.Helper()
	u := models.User{
		FullName: name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Password: "x",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, h.db.Create(&u).Error)
	return u
}

func token(t *testing.T, u models.User) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": u.ID.String(),
		"role":    u.Role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (h *harness) do(t *testing.T, method, path, auth string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if auth != "" {
		req.Header.Set(fiber.HeaderAuthorization, auth)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 {
		out["_raw"] = string(raw)
	}
	return resp.StatusCode, out
}

func bookingBody(teacherID uuid.UUID, start, end string) fiber.Map {
	return fiber.Map{
		"teacher_id": teacherID,
		"day":        "2026-03-02",
		"start_time": start,
		"end_time":   end,
		"timezone":   "UTC",
	}
}

func TestBookingFlow(t *testing.T) {
	h := newHarness(t)
	student := token(t, h.student)

	status, body := h.do(t, http.MethodPost, "/api/v1/bookings", student, bookingBody(h.teacher.ID, "10:00", "11:00"))
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, models.BookingStatusPending, body["status"])
	bookingID, _ := body["booking_id"].(string)
	require.NotEmpty(t, bookingID)

	status, body = h.do(t, http.MethodPost, "/api/v1/bookings", student, bookingBody(h.teacher.ID, "10:30", "11:30"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, services.MsgSlotUnavailable, body["error"])

	status, _ = h.do(t, http.MethodPost, "/api/v1/bookings", token(t, h.teacher), bookingBody(h.teacher.ID, "11:00", "12:00"))
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(t, http.MethodPost, "/api/v1/bookings", "", bookingBody(h.teacher.ID, "11:00", "12:00"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = h.do(t, http.MethodGet, "/api/v1/bookings/"+bookingID, student, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "10:00", body["start_time"])

	status, _ = h.do(t, http.MethodGet, "/api/v1/bookings/"+bookingID, token(t, h.user(t, models.RoleStudent, "Eve Stranger")), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = h.do(t, http.MethodPost, "/api/v1/teacher/bookings/"+bookingID+"/confirm", token(t, h.teacher), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.BookingStatusConfirmed, body["status"])
}

func TestAttendanceOverHTTP(t *testing.T) {
	h := newHarness(t)
	student := token(t, h.student)
	teacher := token(t, h.teacher)

	status, body := h.do(t, http.MethodPost, "/api/v1/bookings", student, bookingBody(h.teacher.ID, "10:00", "11:00"))
	require.Equal(t, http.StatusCreated, status, body)
	bookingID := body["booking_id"].(string)
	path := "/api/v1/bookings/" + bookingID

	status, body = h.do(t, http.MethodPost, path+"/attendance", student, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["outside_schedule"])
	assert.Equal(t, services.MsgOutsideSchedule, body["message"])

	h.clock.Set(time.Date(2026, 3, 2, 9, 55, 0, 0, time.UTC))
	status, body = h.do(t, http.MethodPost, path+"/attendance", student, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["marked_as_payable"])

	status, body = h.do(t, http.MethodPost, path+"/attendance", teacher, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["marked_as_payable"])

	status, body = h.do(t, http.MethodGet, path+"/payable", teacher, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["payable"])

	h.clock.Set(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC))
	status, body = h.do(t, http.MethodPost, "/api/v1/teacher/bookings/"+bookingID+"/complete", teacher, fiber.Map{"measured_duration_minutes": 52})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.BookingStatusCompleted, body["status"])
	assert.EqualValues(t, 52, body["duration_minutes"])

	status, body = h.do(t, http.MethodGet, "/api/v1/teacher/earnings?from=2026-03-01&to=2026-04-01", teacher, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["total_classes"])
	assert.Equal(t, "8.67", body["total_earnings"])
}

func TestAvailabilitySearch(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?teacher_ids="+h.teacher.ID.String()+"&from=2026-03-02&days=1&duration=60&timezone=UTC", nil)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var slots []services.Slot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&slots))
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.Equal(t, h.teacher.ID, s.TeacherID)
		assert.Equal(t, "2026-03-02", s.Date)
	}
	assert.Equal(t, "10:00", slots[0].StartTime)

	status, body := h.do(t, http.MethodGet, "/api/v1/availability", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "teacher_ids or course_id is required", body["error"])
}

func TestBillingRunAuth(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/api/v1/billing/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/api/v1/billing/run", token(t, h.admin), nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/api/v1/billing/run", "Bearer "+cronSecret, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodGet, "/api/v1/admin/subscriptions/past-due", token(t, h.teacher), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(t, http.MethodGet, "/api/v1/admin/subscriptions/past-due", token(t, h.admin), nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodPut, "/api/v1/admin/teachers/"+h.teacher.ID.String()+"/rank", token(t, h.admin), fiber.Map{"rate_multiplier": 1.5})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1.5, body["rate_multiplier"])

	status, _ = h.do(t, http.MethodPut, "/api/v1/admin/teachers/"+h.teacher.ID.String()+"/rank", token(t, h.admin), fiber.Map{"rate_multiplier": -1})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTeacherApplication(t *testing.T) {
	h := newHarness(t)
	applicant := h.user(t, models.RoleStudent, "Linus Learner")

	status, _ := h.do(t, http.MethodPost, "/api/v1/teacher/apply", token(t, applicant), fiber.Map{"headline": "Maths", "bio": "Ten years of tutoring"})
	require.Equal(t, http.StatusCreated, status)

	status, _ = h.do(t, http.MethodPost, "/api/v1/teacher/apply", token(t, applicant), fiber.Map{"headline": "Maths", "bio": "Again"})
	assert.Equal(t, http.StatusConflict, status)

	status, body := h.do(t, http.MethodPut, "/api/v1/admin/applications/"+applicant.ID.String(), token(t, h.admin), fiber.Map{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, _ = h.do(t, http.MethodPut, "/api/v1/admin/applications/"+applicant.ID.String(), token(t, h.admin), fiber.Map{"status": models.TeacherStatusActive})
	require.Equal(t, http.StatusOK, status)

	var u models.User
	require.NoError(t, h.db.First(&u, "id = ?", applicant.ID).Error)
	assert.Equal(t, models.RoleTeacher, u.Role)
	var tr models.Teacher
	require.NoError(t, h.db.First(&tr, "user_id = ?", applicant.ID).Error)
	assert.Equal(t, models.TeacherStatusActive, tr.Status)

	status, _ = h.do(t, http.MethodPut, "/api/v1/admin/applications/"+uuid.NewString(), token(t, h.admin), fiber.Map{"status": models.TeacherStatusRejected})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCompleteBeforeStartKeepsSlotTaken(t *testing.T) {
	h := newHarness(t)
	teacher := token(t, h.teacher)

	status, body := h.do(t, http.MethodPost, "/api/v1/bookings", token(t, h.student), bookingBody(h.teacher.ID, "10:00", "11:00"))
	require.Equal(t, http.StatusCreated, status, body)
	bookingID := body["booking_id"].(string)

	status, body = h.do(t, http.MethodPost, "/api/v1/teacher/bookings/"+bookingID+"/complete", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, status, body)

	other := h.user(t, models.RoleStudent, "Second Student")
	status, body = h.do(t, http.MethodPost, "/api/v1/bookings", token(t, other), bookingBody(h.teacher.ID, "10:00", "11:00"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, services.MsgSlotUnavailable, body["error"])
}

func TestMyAvailabilityInTeacherZone(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/teacher/availability/me?timezone=America/New_York", nil)
	req.Header.Set(fiber.HeaderAuthorization, token(t, h.teacher))
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var windows []services.LocalWindow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&windows))
	require.Len(t, windows, 1)
	assert.Equal(t, int(time.Monday), *windows[0].DayOfWeek)
	assert.Equal(t, "05:00", windows[0].StartTime)
	assert.Equal(t, "07:00", windows[0].EndTime)
	assert.Equal(t, "America/New_York", windows[0].TimeZone)

	status, _ := h.do(t, http.MethodGet, "/api/v1/teacher/availability/me?timezone=Mars/Olympus", token(t, h.teacher), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
