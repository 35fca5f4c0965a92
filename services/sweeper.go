package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"squad-wager-system/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// DeadlineSweeper closes out matches whose result-reporting window expired
// without both squads reporting. It runs on a fixed interval and handles each
// overdue match in its own transaction so one bad row cannot stall the rest.
type DeadlineSweeper struct {
	DB           *gorm.DB
	Clock        clockwork.Clock
	Notifier     Notifier
	AdminUserIDs []string
	Interval     time.Duration
}

func NewDeadlineSweeper(db *gorm.DB, clock clockwork.Clock, notifier Notifier, adminUserIDs []string, interval time.Duration) *DeadlineSweeper {
	return &DeadlineSweeper{DB: db, Clock: clock, Notifier: notifier, AdminUserIDs: adminUserIDs, Interval: interval}
}

// Run sweeps on every tick until the context is cancelled.
func (s *DeadlineSweeper) Run(ctx context.Context) {
	log.Printf("⏱️ Deadline sweeper started (interval %s)", s.Interval)
	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏱️ Deadline sweeper stopped")
			return
		case <-ticker.Chan():
			if err := s.SweepOnce(ctx); err != nil {
				log.Printf("❌ Deadline sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce finds every match still waiting on results past its deadline and
// resolves each one.
func (s *DeadlineSweeper) SweepOnce(ctx context.Context) error {
	now := s.Clock.Now()

	var overdueIDs []string
	err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("state IN ? AND result_deadline < ?", resultStates, now).
		Pluck("id", &overdueIDs).Error
	if err != nil {
		return err
	}

	for _, id := range overdueIDs {
		if err := s.resolveOverdue(ctx, id); err != nil {
			log.Printf("❌ Failed to resolve overdue match %s: %v", id, err)
		}
	}
	return nil
}

// resolveOverdue settles a single overdue match. The row is re-read inside
// the transaction: a squad may have reported (or a dispute been raised) between
// the scan and the settlement, in which case the sweeper leaves it alone.
func (s *DeadlineSweeper) resolveOverdue(ctx context.Context, matchID string) error {
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStatePlaying && match.State != models.MatchStateResultSubmitted {
			return nil
		}
		if match.ResultDeadline == nil || !match.ResultDeadline.Before(s.Clock.Now()) {
			return nil
		}
		challenger, opponent, err := loadParticipants(tx, &match)
		if err != nil {
			return err
		}

		now := s.Clock.Now()

		switch {
		case match.ChallengerResult != nil && match.OpponentResult != nil:
			// Both reported before the sweep got here. Conflicting claims go
			// to a dispute; otherwise settle on the agreed outcome.
			if *match.ChallengerResult == *match.OpponentResult {
				res := tx.Model(&models.Match{}).
					Where("id = ? AND state IN ?", match.ID, resultStates).
					Updates(map[string]interface{}{
						"state":          models.MatchStateDisputed,
						"dispute_reason": "conflicting self-reported results",
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return nil
				}
				for _, adminID := range s.AdminUserIDs {
					notices = append(notices, notice{adminID, "Dispute needs resolution",
						fmt.Sprintf("Match %s expired with conflicting results and needs an admin verdict", match.ID)})
				}
				return nil
			}
			if *match.ChallengerResult == models.ResultWin {
				return applyWinSettlement(tx, &match, challenger.ID, opponent.ID, now, resultStates, nil)
			}
			return applyWinSettlement(tx, &match, opponent.ID, challenger.ID, now, resultStates, nil)

		case match.ChallengerResult != nil:
			// Only the challenger reported. The silent side forfeits its say
			// and the report stands; the missing result is filled in so the
			// record reads as a complete match.
			return s.settleOnSingleReport(tx, &match, *match.ChallengerResult, challenger, opponent, now, true)

		case match.OpponentResult != nil:
			return s.settleOnSingleReport(tx, &match, *match.OpponentResult, opponent, challenger, now, false)

		default:
			// Nobody reported. Refund both wagers with no stat movement.
			if err := applyRefundSettlement(tx, &match, now, false, resultStates, nil); err != nil {
				return err
			}
			body := "Neither squad reported a result in time, so the match was voided and wagers returned"
			notices = append(notices,
				notice{challenger.LeaderID, "Match voided", body},
				notice{opponent.LeaderID, "Match voided", body},
			)
			return nil
		}
	})
	if err != nil {
		return err
	}
	dispatch(s.Notifier, notices)
	return nil
}

func (s *DeadlineSweeper) settleOnSingleReport(tx *gorm.DB, match *models.Match, reported string, reporter, silent models.Squad, now time.Time, reporterIsChallenger bool) error {
	opposite := models.ResultWin
	if reported == models.ResultWin {
		opposite = models.ResultLoss
	}
	extra := map[string]interface{}{}
	if reporterIsChallenger {
		extra["opponent_result"] = opposite
	} else {
		extra["challenger_result"] = opposite
	}

	if reported == models.ResultWin {
		return applyWinSettlement(tx, match, reporter.ID, silent.ID, now, resultStates, extra)
	}
	return applyWinSettlement(tx, match, silent.ID, reporter.ID, now, resultStates, extra)
}
