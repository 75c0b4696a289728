package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/models"
)

func memoryConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "silent",
	}
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(memoryConfig(), nil, &Options{PrepareStmt: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_SQLite(t *testing.T) {
	db := setupTestDB(t)

	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestNew_InvalidDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil, nil)
	assert.Nil(t, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDB_CloseThenPing(t *testing.T) {
	db, err := New(memoryConfig(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestDB_Migrate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.Migrate(ctx))
	assert.True(t, db.Migrator().HasTable(&models.Asset{}))
	assert.True(t, db.Migrator().HasTable(&models.ProcessingJob{}))

	statuses, err := db.MigrationStatus(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Version)
	}
}

func TestDB_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	require.NoError(t, db.Migrate(ctx))

	forced := errors.New("forced rollback")
	err := db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Asset{UserID: "u1"}).Error; err != nil {
			return err
		}
		return forced
	})
	require.ErrorIs(t, err, forced)

	var count int64
	require.NoError(t, db.Model(&models.Asset{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"", logger.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, gormLogLevel(tt.level))
		})
	}
}

func TestSlogGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newGormLogger("warn", 10*time.Millisecond, log)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), sql, nil)
	assert.Empty(t, buf.String(), "fast queries are not logged at warn")

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "not-found is not an error")

	l.Trace(context.Background(), time.Now(), sql, errors.New("database is locked"))
	assert.Contains(t, buf.String(), "database error")
}

func TestTruncateSQL(t *testing.T) {
	long := strings.Repeat("x", 500)
	assert.Len(t, truncateSQL(long), maxSQLLogLength+len("... (truncated)"))
	assert.Equal(t, "SELECT 1", truncateSQL("SELECT 1"))
}
