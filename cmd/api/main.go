package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/anjiri1684/tutorhub/configs"
	"github.com/anjiri1684/tutorhub/database"
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/jobs"
	"github.com/anjiri1684/tutorhub/logging"
	"github.com/anjiri1684/tutorhub/metrics"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/anjiri1684/tutorhub/payments"
	"github.com/anjiri1684/tutorhub/routes"
	"github.com/anjiri1684/tutorhub/services"
	"github.com/anjiri1684/tutorhub/sessions"
	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Settings, log *zap.Logger) error {
	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	if err := database.SeedAdmin(db, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminFullName, log); err != nil {
		return err
	}

	defaultLoc, err := timeconv.LoadLocation(cfg.DefaultTimezone, time.UTC)
	if err != nil {
		return errors.Wrap(err, "DEFAULT_TIMEZONE")
	}
	billingLoc, err := timeconv.LoadLocation(cfg.BillingTimezone, time.UTC)
	if err != nil {
		return errors.Wrap(err, "BILLING_TIMEZONE")
	}

	var locker services.Locker = services.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer rdb.Close()
		locker = services.NewRedisLocker(rdb)
		log.Info("using redis locker", zap.String("addr", cfg.RedisAddr))
	}

	gateway, err := newGateway(cfg, log)
	if err != nil {
		return err
	}

	var rooms sessions.RoomProvider = sessions.StaticRoomProvider{BaseURL: cfg.SessionLinkBaseURL}
	if cfg.SessionAPIBaseURL != "" {
		rooms = sessions.NewHTTPRoomProvider(cfg.SessionAPIBaseURL, cfg.SessionAPIKey)
	}

	var notifier notifications.Notifier = notifications.LogNotifier{Log: log.Named("notifications")}
	if brevo := notifications.NewBrevoNotifier(cfg.BrevoAPIKey, cfg.EmailSender, cfg.EmailSenderName, log); brevo != nil {
		notifier = brevo
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	clock := services.SystemClock{}

	availability := services.NewAvailabilityService(db, log, clock)
	bookings := services.NewBookingService(services.BookingParams{
		DB: db, Log: log, Clock: clock, Locker: locker, Rooms: rooms, Metrics: m,
	})
	attendance := services.NewAttendanceService(services.AttendanceParams{
		DB: db, Log: log, Clock: clock, Rooms: rooms, Metrics: m,
		Config: services.AttendanceConfig{
			GraceBefore: cfg.AttendanceGraceBefore,
			GraceAfter:  cfg.AttendanceGraceAfter,
		},
	})
	settlement := services.NewSettlementService(db, log, clock, services.SettlementConfig{
		BaseRatePerHour: cfg.BaseRatePerHour,
		Currency:        cfg.SettlementCurrency,
		Location:        billingLoc,
	})
	billing := services.NewBillingService(services.BillingParams{
		DB: db, Log: log, Clock: clock, Locker: locker, Gateway: gateway, Notifier: notifier, Metrics: m,
		Config: services.BillingConfig{
			Workers:       cfg.BillingWorkers,
			BatchSize:     cfg.BillingBatchSize,
			MaxRetries:    cfg.BillingMaxRetries,
			ChargeTimeout: cfg.ChargeTimeout,
			Location:      billingLoc,
		},
	})

	c := jobs.NewScheduler(log)
	if _, err := c.AddFunc(cfg.BillingCronSpec, jobs.RunBilling(billing, log)); err != nil {
		return errors.Wrap(err, "schedule billing")
	}
	if _, err := c.AddFunc("*/5 * * * *", jobs.CompleteEndedSessions(attendance, log)); err != nil {
		return errors.Wrap(err, "schedule session completion")
	}
	reminders := jobs.NewReminders(db, notifier, clock, log)
	if _, err := c.AddFunc("*/5 * * * *", jobs.SendClassReminders(reminders)); err != nil {
		return errors.Wrap(err, "schedule reminders")
	}
	c.Start()
	defer c.Stop()
	log.Info("cron jobs scheduled", zap.String("billing", cfg.BillingCronSpec))

	app := newApp(cfg, log)
	routes.Register(app, routes.Deps{
		DB:                db,
		Notifier:          notifier,
		Log:               log,
		JWTSecret:         cfg.JWTSecret,
		BillingCronSecret: cfg.BillingCronSecret,
		Availability: handlers.AvailabilityDeps{
			Service: availability, DB: db, Clock: clock, Location: defaultLoc, Log: log,
		},
		Bookings: handlers.BookingDeps{
			Bookings: bookings, Attendance: attendance, Clock: clock, Location: defaultLoc, Log: log,
		},
		Settlement: handlers.SettlementDeps{Service: settlement, Log: log},
		Billing:    handlers.BillingDeps{Service: billing, Log: log},
		Teachers:   handlers.TeacherDeps{DB: db, Notifier: notifier, Log: log},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	log.Info("server is running", zap.String("port", cfg.Port))
	return app.Listen(":" + cfg.Port)
}

func newGateway(cfg *config.Settings, log *zap.Logger) (payments.Gateway, error) {
	switch cfg.PaymentProvider {
	case "paypal":
		if cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "" {
			return nil, errors.New("config: PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required")
		}
		return payments.NewPayPalGateway(cfg.PayPalAPIBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, log), nil
	case "midtrans":
		if cfg.MidtransServerKey == "" {
			return nil, errors.New("config: MIDTRANS_SERVER_KEY is required")
		}
		return payments.NewMidtransGateway(cfg.MidtransServerKey, cfg.MidtransProduction, log), nil
	}
	return nil, errors.Errorf("config: unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
}

func newApp(cfg *config.Settings, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:           "TutorHub",
		CaseSensitive:     true,
		StrictRouting:     true,
		EnablePrintRoutes: !cfg.IsProduction(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			log.Error("unhandled error", zap.Error(err), zap.String("path", c.Path()), zap.String("method", c.Method()))
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	return app
}
