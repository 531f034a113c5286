package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/types"
	"github.com/yungbote/neurobridge-backend/internal/utils"
)

type PostgresService struct {
	db   *gorm.DB
	sqlDB *sql.DB
	log  *logger.Logger
}

func NewPostgresService(logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	logg.Info("Loading environment variables...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", logg)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", logg)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", logg)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", logg)
	postgresName := utils.GetEnv("POSTGRES_NAME", "neurobridge", logg)
	logg.Debug("Environment variables loaded")

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser,
		postgresPassword,
		postgresHost,
		postgresPort,
		postgresName,
	)

	// GORM logger: ignore "record not found" spam (critical for polling workers)
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	logg.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		logg.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		logg.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}
	logg.Info("uuid-ossp extension enabled")

	// internal/jobs and internal/jobs/scheduler bypass gorm entirely on the
	// hot path (raw SQL, FOR UPDATE SKIP LOCKED, LISTEN/NOTIFY via the pgx
	// stdlib driver), but share this same DSN and connection settings.
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		logg.Error("Failed to open database/sql pool", "error", err)
		return nil, fmt.Errorf("failed to open database/sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &PostgresService{db: db, sqlDB: sqlDB, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")

	err := s.db.AutoMigrate(
		&types.User{},
		&types.UserToken{},

		&types.Job{},
		&types.JobResult{},
		&types.ScheduledTask{},
		&types.Event{},
		&types.AllowlistEntry{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// SQL returns the database/sql pool backing the job store, scheduler
// repository, and reaper — everything that needs FOR UPDATE SKIP LOCKED,
// conditional updates, or LISTEN/NOTIFY rather than gorm's query builder.
func (s *PostgresService) SQL() *sql.DB {
	return s.sqlDB
}

func (s *PostgresService) Close() error {
	if s.sqlDB != nil {
		if err := s.sqlDB.Close(); err != nil {
			return err
		}
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}










