package faucet

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:faucet_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Reward{}, &ProcessedClaim{}, &FriendMentionClaim{}, &AddressBinding{}, &StreamWatermark{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestLedger(t *testing.T, db *gorm.DB, now time.Time) *Ledger {
	t.Helper()

	ledger, err := NewLedger(LedgerConfig{Database: db, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	return ledger
}
