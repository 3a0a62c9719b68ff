package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/types"
	"github.com/stackclass/backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	log.Info("Loading environment variables...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "stackclass", log)
	log.Debug("Environment variables loaded")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := Migrate(s.db); err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	type fk struct {
		table, name, column, refTable, refColumn string
	}
	fks := []fk{
		{"extension", "fk_extension_course_id", "course_id", "course", "id"},
		{"stage", "fk_stage_course_id", "course_id", "course", "id"},
		{"stage", "fk_stage_extension_id", "extension_id", "extension", "id"},
		{"user_course", "fk_user_course_course_id", "course_id", "course", "id"},
		{"user_stage", "fk_user_stage_user_course_id", "user_course_id", "user_course", "id"},
		{"user_stage", "fk_user_stage_stage_id", "stage_id", "stage", "id"},
		{"push_dead_letter", "fk_push_dead_letter_user_course_id", "user_course_id", "user_course", "id"},
	}
	for _, f := range fks {
		drop := fmt.Sprintf(`ALTER TABLE %q DROP CONSTRAINT IF EXISTS %q`, f.table, f.name)
		if err := s.db.Exec(drop).Error; err != nil {
			return fmt.Errorf("failed to reset %s: %w", f.name, err)
		}
		add := fmt.Sprintf(
			`ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %q(%q) ON DELETE CASCADE`,
			f.table, f.name, f.column, f.refTable, f.refColumn,
		)
		if err := s.db.Exec(add).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}
	return nil
}

// Migrate runs the schema migration shared by the postgres and sqlite
// openers.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Course{},
		&types.Extension{},
		&types.Stage{},
		&types.Enrollment{},
		&types.StageProgress{},
		&types.PushDeadLetter{},
	)
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
