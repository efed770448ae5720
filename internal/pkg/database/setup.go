package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the process wide handle set by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// SetupDatabase connects with retries, migrates the schema and panics if the store stays unreachable.
func SetupDatabase(cfg config.DBConfig) {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(cfg)
		if err == nil {
			if err = AutoMigrate(DB); err != nil {
				panic(err)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retry in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// Open returns a gorm handle for the configured driver.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn), NowFunc: utcNow}
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return OpenSQLite(cfg.Path)
	default:
		// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)
		return gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  false, // retry schedules need sub-second precision
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), gormCfg)
	}
}

// OpenSQLite opens a sqlite database; ":memory:" gives a private in-memory store.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		dsn = "file::memory:?cache=private&_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), NowFunc: utcNow})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// a single connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.PaymentIntent{},
		&models.IndexedEvent{},
		&models.IndexerState{},
		&models.Notification{},
		&models.AuditLog{},
	)
}
