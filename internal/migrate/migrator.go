package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migrate_mysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migrate_postgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migrate_sqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/payrollx/payrun/internal/support/logger"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql migrations/mysql/*.sql
var migrationFS embed.FS

const migrationsTable = "payrun_schema_migrations"

// Migrator applies embedded schema migrations for the configured database type.
type Migrator struct {
	db     *gorm.DB
	dbType string
}

func NewMigrator(db *gorm.DB, dbType string) *Migrator {
	return &Migrator{db: db, dbType: dbType}
}

func (m *Migrator) databaseDriver(sqlDB *sql.DB) (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return migrate_postgres.WithInstance(sqlDB, &migrate_postgres.Config{
			MigrationsTable: migrationsTable,
		})
	case "mysql":
		return migrate_mysql.WithInstance(sqlDB, &migrate_mysql.Config{
			MigrationsTable: migrationsTable,
		})
	case "sqlite":
		return migrate_sqlite.WithInstance(sqlDB, &migrate_sqlite.Config{
			MigrationsTable: migrationsTable,
		})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *Migrator) instance() (*migrate.Migrate, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	path := "migrations/" + m.dbType
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}

	dbDriver, err := m.databaseDriver(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

func (m *Migrator) run(ctx context.Context, command string) error {
	logger.Infof("Executing migration '%s' (DB: %s, Table: %s)", command, m.dbType, migrationsTable)

	mInstance, err := m.instance()
	if err != nil {
		return err
	}
	defer mInstance.Close()

	var migrateErr error
	switch command {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && migrateErr != migrate.ErrNoChange {
		_, _, versionErr := mInstance.Version()
		if versionErr != nil {
			logger.Errorf("Migration failed and failed to retrieve version: %v", versionErr)
		}
		return fmt.Errorf("migration failed for command '%s' (DB: %s): %w", command, m.dbType, migrateErr)
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up")
}

// Down rolls back all applied migrations.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down")
}
