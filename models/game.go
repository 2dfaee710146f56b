package models

import (
	"time"
)

// Game lifecycle states. Derived from timestamps, never stored as a flag,
// so the DB cannot disagree with itself.
const (
	GameStatusLive      = "live"
	GameStatusCompleted = "completed"
	GameStatusRanked    = "ranked"
	GameStatusPublished = "published"
)

// TriviaGame represents one timed trivia competition with a shared prize pool.
// PrizePool and EntryFee are integer token base units stored as numeric strings.
type TriviaGame struct {
	ID          string `json:"id" gorm:"primaryKey"`
	ChainGameID uint64 `json:"chain_game_id" gorm:"uniqueIndex;not null"` // uint256 id the contract knows
	Title       string `json:"title" gorm:"not null"`
	Slug        string `json:"slug" gorm:"index"`
	Description string `json:"description"`
	EntryFee    string `json:"entry_fee" gorm:"default:'0'"`
	PrizePool   string `json:"prize_pool" gorm:"default:'0'"`

	// Fee in basis points, snapshotted from the contract at rank time so
	// re-derived winner lists always use the fee the ranking used.
	PlatformFeeBps *int `json:"platform_fee_bps,omitempty"`

	StartTime   time.Time  `json:"start_time" gorm:"not null"`
	EndTime     time.Time  `json:"end_time" gorm:"not null"`
	RankedAt    *time.Time `json:"ranked_at,omitempty" gorm:"index"`
	PublishedAt *time.Time `json:"published_at,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Entries    []GameEntry       `json:"entries,omitempty" gorm:"foreignKey:GameID"`
	Commitment *MerkleCommitment `json:"commitment,omitempty" gorm:"foreignKey:GameID"`

	// Calculated fields (not stored in DB)
	EntriesCount     int64  `json:"entries_count,omitempty" gorm:"-"`
	PaidEntriesCount int64  `json:"paid_entries_count,omitempty" gorm:"-"`
	DerivedStatus    string `json:"status,omitempty" gorm:"-"`
}

// Status derives the lifecycle state from timestamps.
func (g *TriviaGame) Status(now time.Time) string {
	switch {
	case g.PublishedAt != nil:
		return GameStatusPublished
	case g.RankedAt != nil:
		return GameStatusRanked
	case now.After(g.EndTime):
		return GameStatusCompleted
	default:
		return GameStatusLive
	}
}

// Ended reports whether the game's play window has closed.
func (g *TriviaGame) Ended(now time.Time) bool {
	return now.After(g.EndTime)
}
