package testutil

import (
	"os"
	"strings"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qs3c/memorial_billing_server/internal/model"
)

var silent = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

// SetupTestDB 创建测试数据库（SQLite 内存模式）
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), silent)
	if err != nil {
		t.Fatalf("Failed to connect test database: %v", err)
	}

	// 内存库每个连接各自独立，固定单连接
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// SetupExternalTestDB 连接真实数据库，验证 ON CONFLICT 等方言相关的语句。
// 需要 TEST_DATABASE_DSN，TEST_DATABASE_DRIVER 为 mysql（默认）或 postgres。
func SetupExternalTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping external database tests")
	}

	var dialector gorm.Dialector
	switch driver := strings.ToLower(os.Getenv("TEST_DATABASE_DRIVER")); driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		t.Fatalf("Unsupported TEST_DATABASE_DRIVER: %s", driver)
	}

	db, err := gorm.Open(dialector, silent)
	if err != nil {
		t.Fatalf("Failed to connect test database: %v", err)
	}

	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	ClearTables(t, db)

	return db
}

// CleanupTestDB 关闭测试数据库连接
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("Warning: Failed to get underlying DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		t.Logf("Warning: Failed to close test database: %v", err)
	}
}

// ClearTables 清空业务表
func ClearTables(t *testing.T, db *gorm.DB) {
	t.Helper()

	for _, m := range model.All() {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(m).Error; err != nil {
			t.Logf("Warning: Failed to clear %T: %v", m, err)
		}
	}
}
