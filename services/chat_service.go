package services

import (
	"context"
	"log"
	"strings"
	"time"

	"squad-wager-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

const (
	// chatPurgeDelay is how long chat transcripts survive after a match
	// reaches a terminal state. The delay gives squads time to screenshot
	// anything they want to dispute.
	chatPurgeDelay = 10 * time.Minute

	// holdRetentionLimit bounds how long a moderation hold can keep a
	// transcript around before it is purged regardless.
	holdRetentionLimit = 30 * 24 * time.Hour

	maxChatBodyLength = 500
)

// ChatService owns the per-match chat channel and its retention rules.
type ChatService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewChatService(db *gorm.DB, clock clockwork.Clock) *ChatService {
	return &ChatService{DB: db, Clock: clock}
}

// SendMessage posts to the match channel. Chat opens once both squads are in
// (ACCEPTED) and closes when the match reaches a terminal state.
func (s *ChatService) SendMessage(ctx context.Context, actorUserID, matchID, body string) (*models.MatchChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errValidationf("message body is required")
	}
	if len(body) > maxChatBodyLength {
		return nil, errValidationf("message body exceeds %d characters", maxChatBodyLength)
	}

	var msg models.MatchChatMessage
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State == models.MatchStatePending {
			return errStateConflictf("chat opens once the match is accepted")
		}
		if match.IsTerminal() {
			return errStateConflictf("chat is closed for match %s", matchID)
		}

		senderSquadID, err := squadForMember(tx, &match, actorUserID)
		if err != nil {
			return err
		}

		msg = models.MatchChatMessage{
			ID:           uuid.NewString(),
			MatchID:      matchID,
			SquadID:      senderSquadID,
			SenderUserID: actorUserID,
			Body:         body,
			CreatedAt:    s.Clock.Now(),
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchMessages returns the transcript, oldest first, to a participant leader.
func (s *ChatService) FetchMessages(ctx context.Context, actorUserID, matchID string) ([]models.MatchChatMessage, error) {
	var match models.Match
	if err := loadMatch(s.DB.WithContext(ctx), matchID, &match); err != nil {
		return nil, err
	}
	if _, err := squadForMember(s.DB.WithContext(ctx), &match, actorUserID); err != nil {
		return nil, err
	}
	return s.transcript(ctx, matchID)
}

// FetchForInvestigation returns the transcript to an admin, held or not.
func (s *ChatService) FetchForInvestigation(ctx context.Context, matchID string) ([]models.MatchChatMessage, error) {
	var match models.Match
	if err := loadMatch(s.DB.WithContext(ctx), matchID, &match); err != nil {
		return nil, err
	}
	return s.transcript(ctx, matchID)
}

func (s *ChatService) transcript(ctx context.Context, matchID string) ([]models.MatchChatMessage, error) {
	var messages []models.MatchChatMessage
	err := s.DB.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// PlaceHold pins a transcript past the normal purge window while a moderation
// case is open. One hold per match.
func (s *ChatService) PlaceHold(ctx context.Context, adminUserID, matchID, reason string) (*models.MatchChatHold, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errValidationf("a hold reason is required")
	}

	var hold models.MatchChatHold
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.ChatPurgedAt != nil {
			return errStateConflictf("chat for match %s has already been purged", matchID)
		}
		var existing models.MatchChatHold
		if err := tx.First(&existing, "match_id = ?", matchID).Error; err == nil {
			return errStateConflictf("match %s already has an active chat hold", matchID)
		}

		hold = models.MatchChatHold{
			ID:       uuid.NewString(),
			MatchID:  matchID,
			Reason:   reason,
			PlacedBy: adminUserID,
			PlacedAt: s.Clock.Now(),
		}
		return tx.Create(&hold).Error
	})
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// ReleaseHold lifts a hold. The transcript then purges on the next retention
// sweep if the match is already terminal and past its window.
func (s *ChatService) ReleaseHold(ctx context.Context, matchID string) error {
	res := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Delete(&models.MatchChatHold{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFoundf("no chat hold on match %s", matchID)
	}
	return nil
}

// RunRetentionSweep purges transcripts of matches that have been terminal for
// longer than the purge delay (unless held), and purges held transcripts whose
// hold has exceeded the retention limit.
func (s *ChatService) RunRetentionSweep(ctx context.Context) error {
	now := s.Clock.Now()

	var dueIDs []string
	err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("state IN ? AND chat_purged_at IS NULL AND completed_at <= ?",
			[]string{models.MatchStateCompleted, models.MatchStateCancelled},
			now.Add(-chatPurgeDelay)).
		Pluck("id", &dueIDs).Error
	if err != nil {
		return err
	}
	for _, id := range dueIDs {
		var hold models.MatchChatHold
		if err := s.DB.WithContext(ctx).First(&hold, "match_id = ?", id).Error; err == nil {
			continue
		}
		if err := s.purgeMatchChat(ctx, id, false); err != nil {
			log.Printf("❌ Failed to purge chat for match %s: %v", id, err)
		}
	}

	var expiredHolds []models.MatchChatHold
	err = s.DB.WithContext(ctx).
		Where("placed_at <= ?", now.Add(-holdRetentionLimit)).
		Find(&expiredHolds).Error
	if err != nil {
		return err
	}
	for _, hold := range expiredHolds {
		if err := s.purgeMatchChat(ctx, hold.MatchID, true); err != nil {
			log.Printf("❌ Failed to purge held chat for match %s: %v", hold.MatchID, err)
		}
	}
	return nil
}

func (s *ChatService) purgeMatchChat(ctx context.Context, matchID string, dropHold bool) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("match_id = ?", matchID).Delete(&models.MatchChatMessage{}).Error; err != nil {
			return err
		}
		if dropHold {
			if err := tx.Where("match_id = ?", matchID).Delete(&models.MatchChatHold{}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Match{}).
			Where("id = ? AND chat_purged_at IS NULL", matchID).
			Update("chat_purged_at", s.Clock.Now()).Error
	})
}

// squadForMember resolves which participant squad the acting user leads.
// Leaders speak for their squads in match chat.
func squadForMember(tx *gorm.DB, match *models.Match, userID string) (string, error) {
	challenger, opponent, err := loadParticipants(tx, match)
	if err != nil {
		return "", err
	}
	switch userID {
	case challenger.LeaderID:
		return challenger.ID, nil
	case opponent.LeaderID:
		return opponent.ID, nil
	}
	return "", errEligibilityf("only participant squad leaders can use match chat")
}

// --- HTTP handlers ---

func (s *ChatService) SendMessageHandler(c *fiber.Ctx) error {
	type Req struct {
		Body string `json:"body"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	msg, err := s.SendMessage(c.Context(), c.Locals("user_id").(string), c.Params("id"), req.Body)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(msg)
}

func (s *ChatService) FetchMessagesHandler(c *fiber.Ctx) error {
	messages, err := s.FetchMessages(c.Context(), c.Locals("user_id").(string), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

func (s *ChatService) FetchForInvestigationHandler(c *fiber.Ctx) error {
	messages, err := s.FetchForInvestigation(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

func (s *ChatService) PlaceHoldHandler(c *fiber.Ctx) error {
	type Req struct {
		Reason string `json:"reason"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	hold, err := s.PlaceHold(c.Context(), c.Locals("user_id").(string), c.Params("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(hold)
}

func (s *ChatService) ReleaseHoldHandler(c *fiber.Ctx) error {
	if err := s.ReleaseHold(c.Context(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"released": true})
}
