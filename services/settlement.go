package services

import (
	"time"

	"squad-wager-system/models"

	"gorm.io/gorm"
)

// Settlement primitives shared by the lifecycle engine, the dispute resolver
// and the deadline sweeper. All of them finalize the match with a
// compare-and-swap on the state column: zero rows affected means another
// caller committed first, and returning the error rolls every wallet and stat
// move in the transaction back with it.

// applyWinSettlement credits the full escrow (2x wager) to the winner and
// moves both squads' stats in the same transaction as the terminal write.
// extra columns (verdict fields, synthesized results) ride in the same update.
func applyWinSettlement(tx *gorm.DB, m *models.Match, winnerID, loserID string, now time.Time, fromStates []string, extra map[string]interface{}) error {
	if err := creditSquad(tx, winnerID, 2*m.WagerAmount); err != nil {
		return err
	}
	if err := recordWin(tx, winnerID, m.WagerAmount); err != nil {
		return err
	}
	if err := recordLoss(tx, loserID, m.WagerAmount); err != nil {
		return err
	}

	updates := map[string]interface{}{
		"state":           models.MatchStateCompleted,
		"winner_squad_id": winnerID,
		"escrowed":        false,
		"completed_at":    now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	return finalizeMatch(tx, m.ID, fromStates, updates)
}

// applyRefundSettlement returns both wagers and completes the match. With
// asDraw both squads get a draw counted; without it (no-contest, cancelled
// verdict) stats do not move.
func applyRefundSettlement(tx *gorm.DB, m *models.Match, now time.Time, asDraw bool, fromStates []string, extra map[string]interface{}) error {
	if m.OpponentSquadID == nil {
		return errStateConflictf("match %s has no escrow to refund", m.ID)
	}
	if err := creditSquad(tx, m.ChallengerSquadID, m.WagerAmount); err != nil {
		return err
	}
	if err := creditSquad(tx, *m.OpponentSquadID, m.WagerAmount); err != nil {
		return err
	}
	if asDraw {
		if err := recordDraw(tx, m.ChallengerSquadID); err != nil {
			return err
		}
		if err := recordDraw(tx, *m.OpponentSquadID); err != nil {
			return err
		}
	}

	updates := map[string]interface{}{
		"state":        models.MatchStateCompleted,
		"escrowed":     false,
		"completed_at": now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	return finalizeMatch(tx, m.ID, fromStates, updates)
}

func finalizeMatch(tx *gorm.DB, matchID string, fromStates []string, updates map[string]interface{}) error {
	res := tx.Model(&models.Match{}).
		Where("id = ? AND state IN ?", matchID, fromStates).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStateConflictf("match %s was settled by a concurrent caller", matchID)
	}
	return nil
}
