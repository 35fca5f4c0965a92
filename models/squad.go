package models

import (
	"time"

	"gorm.io/gorm"
)

// Squad is the local record for a squad. Roster identity (name, leader,
// member count) is mirrored from the squad directory by the sync worker;
// the bounty-coin wallet and match stats are owned by this service and are
// mutated only inside lifecycle/dispute transactions.
type Squad struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string `gorm:"index;not null" json:"name"`
	Slug        string `gorm:"index" json:"slug"`
	LeaderID    string `gorm:"index;not null" json:"leader_id"`
	MemberCount int    `gorm:"not null;default:0" json:"member_count"`

	// Wallet. Never negative — debits are conditional updates.
	BountyCoins int64 `gorm:"not null;default:0" json:"bounty_coins"`

	// Lifetime stats, updated in the same transaction as settlement.
	Wins         int64   `gorm:"not null;default:0" json:"wins"`
	Losses       int64   `gorm:"not null;default:0" json:"losses"`
	Draws        int64   `gorm:"not null;default:0" json:"draws"`
	TotalMatches int64   `gorm:"not null;default:0" json:"total_matches"`
	TotalEarned  int64   `gorm:"not null;default:0" json:"total_earned"`
	TotalLost    int64   `gorm:"not null;default:0" json:"total_lost"`
	WinRate      float64 `gorm:"not null;default:0" json:"win_rate"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
