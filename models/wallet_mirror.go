// models/wallet_mirror.go
package models

import (
	"time"
)

// WalletMirror mirrors wallet data from the external wallet service.
// The claim path resolves a user's payout address through this table only;
// the service never custodies keys.
// Table name: wallet_mirrors
type WalletMirror struct {
	ID       string `gorm:"primaryKey;type:uuid;not null" json:"id"`
	UserID   string `gorm:"type:uuid;not null;index" json:"user_id"` // External user ID
	Chain    string `gorm:"type:varchar(64);not null;index" json:"chain"`
	Token    string `gorm:"type:varchar(64);not null" json:"token"`
	Address  string `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"`
	IsActive bool   `gorm:"not null" json:"is_active"`

	LastSyncedAt time.Time `gorm:"not null" json:"last_synced_at"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}
