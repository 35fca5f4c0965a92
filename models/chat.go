package models

import "time"

// MatchChatMessage belongs to exactly one match, ordered by creation time.
// Messages are ephemeral: the retention sweep purges them after the match
// reaches a terminal state (see ChatService).
type MatchChatMessage struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID      string    `gorm:"index;not null" json:"match_id"`
	SquadID      string    `gorm:"not null" json:"squad_id"`
	SenderUserID string    `gorm:"not null" json:"sender_user_id"`
	Body         string    `gorm:"not null" json:"body"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// MatchChatHold is a preservation hold placed during an investigation.
// While a hold exists the retention sweep defers deletion; holds older than
// the retention window are purged together with the chat they protected.
type MatchChatHold struct {
	ID       string    `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID  string    `gorm:"uniqueIndex;not null" json:"match_id"`
	Reason   string    `json:"reason"`
	PlacedBy string    `gorm:"not null" json:"placed_by"`
	PlacedAt time.Time `gorm:"not null" json:"placed_at"`
}
