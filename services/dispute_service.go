package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"squad-wager-system/models"
	"squad-wager-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// maxEvidenceImages caps the screenshots each side may attach to a dispute.
const maxEvidenceImages = 2

// DisputeService handles dispute evidence and the admin resolution that
// overrides self-reported results when squads cannot agree.
type DisputeService struct {
	DB           *gorm.DB
	Clock        clockwork.Clock
	Notifier     Notifier
	AdminUserIDs []string
}

func NewDisputeService(db *gorm.DB, clock clockwork.Clock, notifier Notifier, adminUserIDs []string) *DisputeService {
	return &DisputeService{DB: db, Clock: clock, Notifier: notifier, AdminUserIDs: adminUserIDs}
}

// AttachEvidence records one side's evidence (up to two image URLs plus an
// optional note). Each side submits at most once, and only while the match
// is DISPUTED.
func (s *DisputeService) AttachEvidence(ctx context.Context, actorUserID, matchID string, imageURLs []string, note string) (*models.Match, error) {
	if len(imageURLs) > maxEvidenceImages {
		return nil, errValidationf("at most %d evidence images are allowed", maxEvidenceImages)
	}
	note = strings.TrimSpace(note)
	if len(imageURLs) == 0 && note == "" {
		return nil, errValidationf("evidence must include at least one image or a description")
	}

	var match models.Match
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStateDisputed {
			return errStateConflictf("evidence can only be attached while match %s is disputed", matchID)
		}
		challenger, opponent, err := loadParticipants(tx, &match)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		switch actorUserID {
		case challenger.LeaderID:
			if match.ChallengerHasEvidence() {
				return errEligibilityf("squad %s already submitted its evidence", challenger.Name)
			}
			if len(imageURLs) > 0 {
				updates["challenger_evidence_img1"] = imageURLs[0]
			}
			if len(imageURLs) > 1 {
				updates["challenger_evidence_img2"] = imageURLs[1]
			}
			if note != "" {
				updates["challenger_evidence_note"] = note
			}
		case opponent.LeaderID:
			if match.OpponentHasEvidence() {
				return errEligibilityf("squad %s already submitted its evidence", opponent.Name)
			}
			if len(imageURLs) > 0 {
				updates["opponent_evidence_img1"] = imageURLs[0]
			}
			if len(imageURLs) > 1 {
				updates["opponent_evidence_img2"] = imageURLs[1]
			}
			if note != "" {
				updates["opponent_evidence_note"] = note
			}
		default:
			return errEligibilityf("only a participant squad leader can attach evidence")
		}

		res := tx.Model(&models.Match{}).
			Where("id = ? AND state = ?", match.ID, models.MatchStateDisputed).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStateConflictf("match %s changed while attaching evidence", matchID)
		}
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// Resolve applies an admin verdict to a DISPUTED match. A dispute where
// neither side submitted any evidence cannot be adjudicated in either squad's
// favor, so the requested verdict is silently replaced with `cancelled` and
// both wagers are returned.
func (s *DisputeService) Resolve(ctx context.Context, adminUserID, matchID, verdict string) (*models.Match, error) {
	if !models.IsValidVerdict(verdict) {
		return nil, errValidationf("verdict must be one of challenger_won, opponent_won, draw, cancelled")
	}

	var match models.Match
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStateDisputed {
			return errStateConflictf("match %s is not disputed", matchID)
		}
		challenger, opponent, err := loadParticipants(tx, &match)
		if err != nil {
			return err
		}

		if !match.ChallengerHasEvidence() && !match.OpponentHasEvidence() {
			verdict = models.VerdictCancelled
		}

		now := s.Clock.Now()
		fromStates := []string{models.MatchStateDisputed}
		extra := map[string]interface{}{
			"resolution_verdict":   verdict,
			"resolved_by_admin_id": adminUserID,
			"resolved_at":          now,
		}

		switch verdict {
		case models.VerdictChallengerWon:
			err = applyWinSettlement(tx, &match, challenger.ID, opponent.ID, now, fromStates, extra)
		case models.VerdictOpponentWon:
			err = applyWinSettlement(tx, &match, opponent.ID, challenger.ID, now, fromStates, extra)
		case models.VerdictDraw:
			err = applyRefundSettlement(tx, &match, now, true, fromStates, extra)
		case models.VerdictCancelled:
			err = applyRefundSettlement(tx, &match, now, false, fromStates, extra)
		}
		if err != nil {
			return err
		}

		body := fmt.Sprintf("An admin resolved the disputed match with verdict: %s", verdict)
		notices = append(notices,
			notice{challenger.LeaderID, "Dispute resolved", body},
			notice{opponent.LeaderID, "Dispute resolved", body},
		)
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return &match, nil
}

// --- HTTP handlers ---

// AttachEvidenceHandler accepts a multipart form: up to two image files under
// evidence[0] / evidence[1] (stored on R2) plus an optional `note` field.
func (s *DisputeService) AttachEvidenceHandler(c *fiber.Ctx) error {
	matchID := c.Params("id")

	var imageURLs []string
	for i := 0; i < maxEvidenceImages; i++ {
		file, err := c.FormFile(fmt.Sprintf("evidence[%d]", i))
		if err != nil || file.Size == 0 {
			break
		}
		ext := filepath.Ext(file.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := "disputes/" + matchID + "/" + uuid.NewString() + ext
		url, err := utils.UploadFileToR2(file, key)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": fmt.Sprintf("failed to upload evidence image %d", i+1)})
		}
		imageURLs = append(imageURLs, url)
	}

	match, err := s.AttachEvidence(c.Context(), c.Locals("user_id").(string), matchID, imageURLs, c.FormValue("note"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *DisputeService) ResolveHandler(c *fiber.Ctx) error {
	type Req struct {
		Verdict string `json:"verdict"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	match, err := s.Resolve(c.Context(), c.Locals("user_id").(string), c.Params("id"), req.Verdict)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}
