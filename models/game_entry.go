package models

import "time"

// GameEntry is one user's paid ticket in a game.
// TicketAmountPaid and Prize are integer token base units as numeric strings.
//
// Write ownership: the settlement service writes Rank/Prize, the claim
// service writes ClaimedAt, the intake endpoints write Score fields.
// Rank and Prize are either both set or both unset; ClaimedAt implies a
// positive prize and a non-nil PaidAt.
type GameEntry struct {
	ID               string  `json:"id" gorm:"primaryKey"`
	GameID           string  `json:"game_id" gorm:"index:idx_game_user,unique;not null"`
	UserID           string  `json:"user_id" gorm:"index:idx_game_user,unique;not null"`
	WalletAddress    string  `json:"wallet_address" gorm:"type:varchar(64)"`
	TicketAmountPaid string  `json:"ticket_amount_paid" gorm:"default:'0'"`
	Score            *int64  `json:"score,omitempty"`
	Rank             *int    `json:"rank,omitempty"`
	Prize            *string `json:"prize,omitempty"`

	// ScoreUpdatedAt is when the current score was first reached.
	// Ranking tie-break: first to a score wins it.
	ScoreUpdatedAt *time.Time `json:"score_updated_at,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty" gorm:"index"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
