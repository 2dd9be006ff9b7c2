package database

import (
	"github.com/anjiri1684/tutorhub/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:                              false,
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect database")
	}
	DB = db
	log.Info("database connected")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Teacher{},
		&models.TeacherRank{},
		&models.Course{},
		&models.CourseTeacher{},
		&models.AvailabilityWindow{},
		&models.Booking{},
		&models.BookingLock{},
		&models.AttendanceRecord{},
		&models.Plan{},
		&models.Subscription{},
		&models.BillingAttempt{},
		&models.Enrollment{},
	)
	return errors.Wrap(err, "migrate database")
}

// SeedAdmin creates the admin account once. An existing account with the
// same email is left untouched.
func SeedAdmin(db *gorm.DB, email, password, fullName string, log *zap.Logger) error {
	if email == "" || password == "" {
		log.Warn("admin credentials not configured, skipping admin seed")
		return nil
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check for admin user")
	}
	if count > 0 {
		log.Info("admin user already exists")
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash admin password")
	}

	admin := models.User{
		FullName: fullName,
		Email:    email,
		Password: string(hashedPassword),
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return errors.Wrap(err, "seed admin user")
	}

	log.Info("admin user seeded", zap.String("email", email))
	return nil
}
