package workers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trivia-settlement/models"
)

func newMirrorDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.WalletMirror{}); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestGetWalletByAddress(t *testing.T) {
	db := newMirrorDB(t)
	mirror := models.WalletMirror{
		ID:           uuid.NewString(),
		UserID:       "user-9",
		Chain:        "base",
		Token:        "USDC",
		Address:      "0x4000000000000000000000000000000000000009",
		IsActive:     true,
		LastSyncedAt: time.Now(),
	}
	if err := db.Create(&mirror).Error; err != nil {
		t.Fatal(err)
	}

	got, found, err := GetWalletByAddress(db, mirror.Address)
	if err != nil {
		t.Fatal(err)
	}
	if !found || got.UserID != "user-9" {
		t.Fatalf("lookup = (%+v, %v)", got, found)
	}

	_, found, err = GetWalletByAddress(db, "0x4000000000000000000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("lookup of unknown address reported found")
	}
}
