package services

import (
	"squad-wager-system/models"

	"gorm.io/gorm"
)

// Wallet store: atomic bounty-coin movements on squad rows. These helpers are
// only ever called inside an engine or resolver transaction so that wallet
// mutations commit (or roll back) together with the match-state write that
// drives them.

// debitSquad removes coins from a squad's wallet. The conditional WHERE keeps
// the balance from ever going negative; zero rows affected means the squad
// cannot cover the amount.
func debitSquad(tx *gorm.DB, squadID string, amount int64) error {
	res := tx.Model(&models.Squad{}).
		Where("id = ? AND bounty_coins >= ?", squadID, amount).
		Update("bounty_coins", gorm.Expr("bounty_coins - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errEligibilityf("squad %s has insufficient bounty coins", squadID)
	}
	return nil
}

func creditSquad(tx *gorm.DB, squadID string, amount int64) error {
	res := tx.Model(&models.Squad{}).
		Where("id = ?", squadID).
		Update("bounty_coins", gorm.Expr("bounty_coins + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFoundf("squad %s not found", squadID)
	}
	return nil
}

// Stat updates recompute win_rate in the same statement so the rate can never
// drift from the counters it is derived from.

func recordWin(tx *gorm.DB, squadID string, wager int64) error {
	return tx.Model(&models.Squad{}).
		Where("id = ?", squadID).
		Updates(map[string]interface{}{
			"wins":          gorm.Expr("wins + 1"),
			"total_matches": gorm.Expr("total_matches + 1"),
			"total_earned":  gorm.Expr("total_earned + ?", wager),
			"win_rate":      gorm.Expr("(wins + 1) * 1.0 / (total_matches + 1)"),
		}).Error
}

func recordLoss(tx *gorm.DB, squadID string, wager int64) error {
	return tx.Model(&models.Squad{}).
		Where("id = ?", squadID).
		Updates(map[string]interface{}{
			"losses":        gorm.Expr("losses + 1"),
			"total_matches": gorm.Expr("total_matches + 1"),
			"total_lost":    gorm.Expr("total_lost + ?", wager),
			"win_rate":      gorm.Expr("wins * 1.0 / (total_matches + 1)"),
		}).Error
}

func recordDraw(tx *gorm.DB, squadID string) error {
	return tx.Model(&models.Squad{}).
		Where("id = ?", squadID).
		Updates(map[string]interface{}{
			"draws":         gorm.Expr("draws + 1"),
			"total_matches": gorm.Expr("total_matches + 1"),
			"win_rate":      gorm.Expr("wins * 1.0 / (total_matches + 1)"),
		}).Error
}
