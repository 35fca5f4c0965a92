package models

import "time"

// Match kinds
const (
	MatchKindOpen   = "OPEN"   // any squad may accept
	MatchKindDirect = "DIRECT" // a specific opponent is invited
)

// Match states
const (
	MatchStatePending         = "PENDING"
	MatchStateAccepted        = "ACCEPTED"
	MatchStatePlaying         = "PLAYING"
	MatchStateResultSubmitted = "RESULT_SUBMITTED"
	MatchStateDisputed        = "DISPUTED"
	MatchStateCompleted       = "COMPLETED"
	MatchStateCancelled       = "CANCELLED"
)

// Self-reported results
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
)

// Dispute verdicts
const (
	VerdictChallengerWon = "challenger_won"
	VerdictOpponentWon   = "opponent_won"
	VerdictDraw          = "draw"
	VerdictCancelled     = "cancelled"
)

// Match is the permanent settlement record of a single wagered contest.
// It is never deleted, and a terminal state is never re-entered: every
// wallet-touching transition re-checks the state inside its transaction.
type Match struct {
	ID   string `gorm:"primaryKey;type:uuid" json:"id"`
	Kind string `gorm:"type:varchar(8);not null" json:"kind"`

	ChallengerSquadID string  `gorm:"index;not null" json:"challenger_squad_id"`
	OpponentSquadID   *string `gorm:"index" json:"opponent_squad_id,omitempty"` // nil until an OPEN match is accepted

	WagerAmount int64 `gorm:"not null" json:"wager_amount"`
	Escrowed    bool  `gorm:"not null;default:false" json:"escrowed"`

	State string `gorm:"type:varchar(20);index;not null" json:"state"`

	AcceptDeadline time.Time  `gorm:"not null" json:"accept_deadline"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ResultDeadline *time.Time `gorm:"index" json:"result_deadline,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	// Self-reported results, each settable once.
	ChallengerResult *string `gorm:"type:varchar(8)" json:"challenger_result,omitempty"`
	OpponentResult   *string `gorm:"type:varchar(8)" json:"opponent_result,omitempty"`

	WinnerSquadID *string `gorm:"index" json:"winner_squad_id,omitempty"`

	// Dispute record. Evidence is capped at two images plus a note per side.
	DisputeReason          *string    `json:"dispute_reason,omitempty"`
	DisputedBySquadID      *string    `json:"disputed_by_squad_id,omitempty"`
	ChallengerEvidenceImg1 *string    `json:"challenger_evidence_img1,omitempty"`
	ChallengerEvidenceImg2 *string    `json:"challenger_evidence_img2,omitempty"`
	ChallengerEvidenceNote *string    `json:"challenger_evidence_note,omitempty"`
	OpponentEvidenceImg1   *string    `json:"opponent_evidence_img1,omitempty"`
	OpponentEvidenceImg2   *string    `json:"opponent_evidence_img2,omitempty"`
	OpponentEvidenceNote   *string    `json:"opponent_evidence_note,omitempty"`
	ResolutionVerdict      *string    `gorm:"type:varchar(16)" json:"resolution_verdict,omitempty"`
	ResolvedByAdminID      *string    `json:"resolved_by_admin_id,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`

	// Chat retention bookkeeping.
	ChatPurgedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (m *Match) IsTerminal() bool {
	return m.State == MatchStateCompleted || m.State == MatchStateCancelled
}

// IsParticipant reports whether squadID is one of the two sides.
func (m *Match) IsParticipant(squadID string) bool {
	if squadID == m.ChallengerSquadID {
		return true
	}
	return m.OpponentSquadID != nil && *m.OpponentSquadID == squadID
}

// OtherSquadID returns the opposing side of squadID, or "" if squadID is not
// a participant or the opponent slot is still empty.
func (m *Match) OtherSquadID(squadID string) string {
	if m.OpponentSquadID == nil {
		return ""
	}
	switch squadID {
	case m.ChallengerSquadID:
		return *m.OpponentSquadID
	case *m.OpponentSquadID:
		return m.ChallengerSquadID
	}
	return ""
}

func (m *Match) ChallengerHasEvidence() bool {
	return m.ChallengerEvidenceImg1 != nil || m.ChallengerEvidenceImg2 != nil || m.ChallengerEvidenceNote != nil
}

func (m *Match) OpponentHasEvidence() bool {
	return m.OpponentEvidenceImg1 != nil || m.OpponentEvidenceImg2 != nil || m.OpponentEvidenceNote != nil
}

func IsValidResult(r string) bool {
	return r == ResultWin || r == ResultLoss
}

func IsValidVerdict(v string) bool {
	switch v {
	case VerdictChallengerWon, VerdictOpponentWon, VerdictDraw, VerdictCancelled:
		return true
	}
	return false
}
