package testutil

import (
	"testing"

	"github.com/terraforum/backend/src/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB connects to TEST_DB_URL, migrates the core tables and applies
// the uniqueness indexes the verification and reward paths depend on.
func SetupTestDB(t *testing.T) *gorm.DB {
	dsn := GetEnv("TEST_DB_URL")
	if dsn == "" {
		t.Fatalf("TEST_DB_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(&domain.User{}, &domain.WalletChallenge{}, &domain.RewardRequest{}); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// AutoMigrate cannot express partial unique indexes; apply the ones the
	// real migrations create.
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS users_wallet_address_key
			ON users (wallet_address) WHERE wallet_address IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS reward_requests_dedupe_key
			ON reward_requests (beneficiary_id, contribution_ref, token_kind) WHERE status <> 'FAILED'`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("Failed to create test index: %v", err)
		}
	}

	return db
}

func CleanupTestDB(t *testing.T, db *gorm.DB) {
	// Clean up test data; challenges and rewards reference users
	for _, table := range []string{"reward_requests", "wallet_challenges", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Logf("Warning: Failed to clean up %s: %v", table, err)
		}
	}
}
