package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/reelcast/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: assets, processing_jobs and job_history tables
//   - 002: composite index serving queue acquisition
//   - 003: unique index allowing one active job per asset
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002AcquireIndex(),
		migration003ActiveAssetIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create assets, processing jobs and job history tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Asset{},
				&models.ProcessingJob{},
				&models.JobHistory{},
			)
		},
		Down: func(tx *gorm.DB) error {
			for _, table := range []string{"job_history", "processing_jobs", "assets"} {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

const acquireIndex = "idx_processing_jobs_acquire"

func migration002AcquireIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index processing jobs by status, priority and eligibility",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.ProcessingJob{}, acquireIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + acquireIndex +
				" ON processing_jobs (status, priority, next_run_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.ProcessingJob{}, acquireIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.ProcessingJob{}, acquireIndex)
		},
	}
}

const activeAssetIndex = "idx_processing_jobs_active_asset"

func migration003ActiveAssetIndex() Migration {
	return Migration{
		Version:     "003",
		Description: "Allow one active processing job per asset",
		Up: func(tx *gorm.DB) error {
			m := tx.Migrator()
			if !m.HasColumn(&models.ProcessingJob{}, "ActiveAssetID") {
				if err := m.AddColumn(&models.ProcessingJob{}, "ActiveAssetID"); err != nil {
					return err
				}
			}
			err := tx.Model(&models.ProcessingJob{}).
				Where("status IN ? AND active_asset_id IS NULL", []models.JobStatus{
					models.JobStatusPending, models.JobStatusScheduled, models.JobStatusRunning,
				}).
				UpdateColumn("active_asset_id", gorm.Expr("asset_id")).Error
			if err != nil {
				return err
			}
			if m.HasIndex(&models.ProcessingJob{}, activeAssetIndex) {
				return nil
			}
			return m.CreateIndex(&models.ProcessingJob{}, activeAssetIndex)
		},
		// Down drops only the index. SQLite rebuilds a table to drop a column,
		// which would also drop the acquire index.
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.ProcessingJob{}, activeAssetIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.ProcessingJob{}, activeAssetIndex)
		},
	}
}
