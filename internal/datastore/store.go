package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// Store is the gorm-backed implementation of Interface.
type Store struct {
	db     *gorm.DB
	log    logger.Logger
	dbType string
}

// Open connects to the database selected by settings and migrates the schema.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*Store, error) {
	switch settings.Type {
	case "", "sqlite":
		return OpenSQLite(settings.SQLite.Path, log, settings.SlowThreshold)
	case "mysql":
		return OpenMySQL(&settings.MySQL, log, settings.SlowThreshold)
	default:
		return nil, validationError("unsupported database type", "database.type", settings.Type)
	}
}

// OpenSQLite opens (or creates) a SQLite database at path. MemoryPath gives
// a throwaway database, used by tests.
func OpenSQLite(path string, log logger.Logger, slowThreshold time.Duration) (*Store, error) {
	if log == nil {
		log = logger.Global().Module(componentDatastore)
	}

	dsn := MemoryPath
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, errors.New(err).
					Component(componentDatastore).
					Category(errors.CategoryFileIO).
					Context("operation", "create_db_dir").
					Context("path", dir).
					Build()
			}
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open_sqlite", errors.PriorityCritical, "path", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "get_sql_db", errors.PriorityCritical)
	}
	// SQLite allows a single writer; one connection serializes transactions
	// and keeps an in-memory database alive for the life of the pool.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return newStore(db, log, "sqlite")
}

// OpenMySQL connects to a MySQL server.
func OpenMySQL(settings *conf.MySQLSettings, log logger.Logger, slowThreshold time.Duration) (*Store, error) {
	if log == nil {
		log = logger.Global().Module(componentDatastore)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		settings.Username, settings.Password, settings.Host, settings.Port, settings.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open_mysql", errors.PriorityCritical,
			"host", settings.Host, "database", settings.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "get_sql_db", errors.PriorityCritical)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return newStore(db, log, "mysql")
}

func newStore(db *gorm.DB, log logger.Logger, dbType string) (*Store, error) {
	s := &Store{db: db, log: log, dbType: dbType}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	start := time.Now()
	err := s.db.AutoMigrate(
		&entities.FingerprintEntity{},
		&entities.DetectionEntity{},
		&entities.AssetSummaryEntity{},
		&entities.OwnerSummaryEntity{},
		&entities.SummaryMemberEntity{},
	)
	if err != nil {
		return dbError(err, "auto_migrate", errors.PriorityCritical, "db_type", s.dbType)
	}
	s.log.Debug("database migration completed",
		logger.String("db_type", s.dbType),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return ErrNotInitialized
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", errors.PriorityLow)
	}
	return sqlDB.Close()
}

// now is the store's notion of current time; UTC at second precision so that
// timestamps compare identically across drivers.
func now() time.Time {
	return normalizeTime(time.Now())
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
