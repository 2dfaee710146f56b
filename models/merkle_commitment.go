package models

import "time"

// MerkleCommitment records the winner-set root committed on-chain for a game.
// Created once per game; PublishedAt and TxHash are set only after the
// contract confirms the submission.
type MerkleCommitment struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	GameID      string     `json:"game_id" gorm:"uniqueIndex;not null"`
	Root        string     `json:"root" gorm:"type:varchar(66);not null"` // 0x-prefixed 32-byte hash
	TxHash      string     `json:"tx_hash,omitempty" gorm:"type:varchar(66)"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
