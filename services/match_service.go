package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"squad-wager-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

const (
	// MinRosterSize is the minimum number of active members a squad needs to
	// create or accept a wager match.
	MinRosterSize = 5

	// ResultWindow is how long both squads have to self-report once play
	// starts. The deadline sweeper enforces it; a late report is accepted
	// best-effort until the sweeper settles the match.
	ResultWindow = 15 * time.Minute
)

// resultStates are the states in which self-reported results are accepted.
var resultStates = []string{models.MatchStatePlaying, models.MatchStateResultSubmitted}

// MatchService is the lifecycle engine: the single authority for legal match
// transitions and the escrow movement each transition requires. Human API
// calls and the deadline sweeper both funnel through its transition logic;
// nothing else mutates a match state or a wallet balance.
type MatchService struct {
	DB       *gorm.DB
	Clock    clockwork.Clock
	Notifier Notifier
}

func NewMatchService(db *gorm.DB, clock clockwork.Clock, notifier Notifier) *MatchService {
	return &MatchService{DB: db, Clock: clock, Notifier: notifier}
}

type CreateMatchInput struct {
	ActorUserID       string
	ChallengerSquadID string
	Kind              string
	OpponentSquadID   string // required for DIRECT
	WagerAmount       int64
	AcceptDeadline    time.Time
}

// CreateMatch opens a new wagered contest in PENDING. Nothing is escrowed
// yet — both wagers are only locked at acceptance.
func (s *MatchService) CreateMatch(ctx context.Context, in CreateMatchInput) (*models.Match, error) {
	if in.Kind != models.MatchKindOpen && in.Kind != models.MatchKindDirect {
		return nil, errValidationf("kind must be OPEN or DIRECT")
	}
	if in.WagerAmount <= 0 {
		return nil, errValidationf("wager_amount must be a positive number of bounty coins")
	}
	if !in.AcceptDeadline.After(s.Clock.Now()) {
		return nil, errValidationf("accept_deadline must be in the future")
	}
	if in.Kind == models.MatchKindDirect && in.OpponentSquadID == "" {
		return nil, errValidationf("opponent_squad_id is required for DIRECT matches")
	}
	if in.OpponentSquadID != "" && in.OpponentSquadID == in.ChallengerSquadID {
		return nil, errValidationf("a squad cannot challenge itself")
	}

	db := s.DB.WithContext(ctx)
	challenger, err := loadSquad(db, in.ChallengerSquadID)
	if err != nil {
		return nil, err
	}
	if challenger.LeaderID != in.ActorUserID {
		return nil, errEligibilityf("only the squad leader can create a wager match")
	}
	if err := squadMeetsMinimums(challenger, in.WagerAmount); err != nil {
		return nil, err
	}

	match := &models.Match{
		ID:                uuid.NewString(),
		Kind:              in.Kind,
		ChallengerSquadID: challenger.ID,
		WagerAmount:       in.WagerAmount,
		State:             models.MatchStatePending,
		AcceptDeadline:    in.AcceptDeadline.UTC(),
	}

	var notices []notice
	if in.Kind == models.MatchKindDirect {
		opponent, err := loadSquad(db, in.OpponentSquadID)
		if err != nil {
			return nil, err
		}
		if err := squadMeetsMinimums(opponent, in.WagerAmount); err != nil {
			return nil, err
		}
		match.OpponentSquadID = &opponent.ID
		notices = append(notices, notice{
			opponent.LeaderID,
			"Wager challenge received",
			fmt.Sprintf("%s challenged your squad to a %d coin wager match", challenger.Name, in.WagerAmount),
		})
	}

	if err := db.Create(match).Error; err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return match, nil
}

// AcceptMatch locks both wagers into escrow and moves the match to ACCEPTED.
// Both debits and the state write commit in one transaction; the conditional
// state update rejects a second acceptance, so wallets are debited at most
// once per match.
func (s *MatchService) AcceptMatch(ctx context.Context, actorUserID, matchID, squadID string) (*models.Match, error) {
	var match models.Match
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStatePending {
			return errStateConflictf("match %s cannot be accepted from state %s", matchID, match.State)
		}
		if s.Clock.Now().After(match.AcceptDeadline) {
			return errEligibilityf("the accept deadline for this match has passed")
		}
		if match.Kind == models.MatchKindDirect {
			if match.OpponentSquadID == nil || *match.OpponentSquadID != squadID {
				return errEligibilityf("only the invited squad can accept this match")
			}
		} else if squadID == match.ChallengerSquadID {
			return errEligibilityf("a squad cannot accept its own match")
		}

		accepting, err := loadSquad(tx, squadID)
		if err != nil {
			return err
		}
		if accepting.LeaderID != actorUserID {
			return errEligibilityf("only the squad leader can accept a wager match")
		}
		if err := squadMeetsMinimums(accepting, match.WagerAmount); err != nil {
			return err
		}
		challenger, err := loadSquad(tx, match.ChallengerSquadID)
		if err != nil {
			return err
		}
		if challenger.MemberCount < MinRosterSize {
			return errEligibilityf("challenger squad %s no longer meets the roster minimum", challenger.Name)
		}

		// Lock both wagers. The conditional debit doubles as the balance
		// check, so a challenger whose coins drained since creation fails here.
		if err := debitSquad(tx, challenger.ID, match.WagerAmount); err != nil {
			return err
		}
		if err := debitSquad(tx, accepting.ID, match.WagerAmount); err != nil {
			return err
		}

		if err := finalizeMatch(tx, matchID, []string{models.MatchStatePending}, map[string]interface{}{
			"state":             models.MatchStateAccepted,
			"opponent_squad_id": squadID,
			"escrowed":          true,
		}); err != nil {
			return err
		}

		notices = append(notices,
			notice{challenger.LeaderID, "Wager accepted",
				fmt.Sprintf("%s accepted your wager — both stakes of %d coins are now in escrow", accepting.Name, match.WagerAmount)},
			notice{accepting.LeaderID, "Wager accepted",
				fmt.Sprintf("Your squad joined the wager against %s — %d coins are now in escrow", challenger.Name, match.WagerAmount)},
		)
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return &match, nil
}

// StartMatch moves an ACCEPTED match to PLAYING and arms the result deadline.
func (s *MatchService) StartMatch(ctx context.Context, actorUserID, matchID string) (*models.Match, error) {
	var match models.Match
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStateAccepted {
			return errStateConflictf("match %s cannot start from state %s", matchID, match.State)
		}
		challenger, opponent, err := loadParticipants(tx, &match)
		if err != nil {
			return err
		}
		if actorUserID != challenger.LeaderID && actorUserID != opponent.LeaderID {
			return errEligibilityf("only a participant squad leader can start the match")
		}

		now := s.Clock.Now()
		deadline := now.Add(ResultWindow)
		if err := finalizeMatch(tx, matchID, []string{models.MatchStateAccepted}, map[string]interface{}{
			"state":           models.MatchStatePlaying,
			"started_at":      now,
			"result_deadline": deadline,
		}); err != nil {
			return err
		}

		body := fmt.Sprintf("Match against the other squad is live — report your result within %d minutes", int(ResultWindow.Minutes()))
		notices = append(notices,
			notice{challenger.LeaderID, "Match started", body},
			notice{opponent.LeaderID, "Match started", body},
		)
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return &match, nil
}

// SubmitResult records one side's self-reported outcome. When the second
// report lands the match auto-evaluates: one WIN and one LOSS settles by
// agreement, two identical claims escalate to DISPUTED with no coin movement.
func (s *MatchService) SubmitResult(ctx context.Context, actorUserID, matchID, result string) (*models.Match, error) {
	if !models.IsValidResult(result) {
		return nil, errValidationf("result must be WIN or LOSS")
	}
	var match models.Match
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStatePlaying && match.State != models.MatchStateResultSubmitted {
			return errStateConflictf("results cannot be submitted while match %s is %s", matchID, match.State)
		}
		challenger, opponent, err := loadParticipants(tx, &match)
		if err != nil {
			return err
		}

		var column string
		var mine, theirs *string
		var mySquad, otherSquad models.Squad
		switch actorUserID {
		case challenger.LeaderID:
			column, mine, theirs = "challenger_result", match.ChallengerResult, match.OpponentResult
			mySquad, otherSquad = challenger, opponent
		case opponent.LeaderID:
			column, mine, theirs = "opponent_result", match.OpponentResult, match.ChallengerResult
			mySquad, otherSquad = opponent, challenger
		default:
			return errEligibilityf("only a participant squad leader can submit a result")
		}
		if mine != nil {
			return errEligibilityf("squad %s already submitted its result", mySquad.Name)
		}

		now := s.Clock.Now()
		if theirs == nil {
			// First report: record it and wait for the other side. The extra
			// IS NULL predicate keeps a racing duplicate from overwriting it.
			res := tx.Model(&models.Match{}).
				Where("id = ? AND state IN ? AND "+column+" IS NULL", match.ID, resultStates).
				Updates(map[string]interface{}{column: result, "state": models.MatchStateResultSubmitted})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStateConflictf("match %s changed while submitting the result", matchID)
			}
			notices = append(notices, notice{
				otherSquad.LeaderID,
				"Opponent reported a result",
				fmt.Sprintf("%s reported %s — submit your own result to settle the wager", mySquad.Name, result),
			})
		} else if result != *theirs {
			// One WIN and one LOSS: the squads agree, settle immediately.
			winner, loser := mySquad, otherSquad
			if result == models.ResultLoss {
				winner, loser = otherSquad, mySquad
			}
			if err := applyWinSettlement(tx, &match, winner.ID, loser.ID, now, resultStates,
				map[string]interface{}{column: result}); err != nil {
				return err
			}
			notices = append(notices,
				notice{winner.LeaderID, "Wager won",
					fmt.Sprintf("Your squad won the match — %d coins credited", 2*match.WagerAmount)},
				notice{loser.LeaderID, "Wager lost",
					fmt.Sprintf("Your squad lost the match and its %d coin wager", match.WagerAmount)},
			)
		} else {
			// Both sides claim the same outcome: escalate, coins stay escrowed.
			res := tx.Model(&models.Match{}).
				Where("id = ? AND state IN ?", match.ID, resultStates).
				Updates(map[string]interface{}{
					column:           result,
					"state":          models.MatchStateDisputed,
					"dispute_reason": "conflicting self-reported results",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStateConflictf("match %s changed while submitting the result", matchID)
			}
			body := "Both squads claimed the same outcome — the match is disputed and an admin will review it"
			notices = append(notices,
				notice{challenger.LeaderID, "Match disputed", body},
				notice{opponent.LeaderID, "Match disputed", body},
			)
		}
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return &match, nil
}

// RaiseDispute moves a live match to DISPUTED without touching the escrow.
func (s *MatchService) RaiseDispute(ctx context.Context, actorUserID, matchID, reason string) (*models.Match, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errValidationf("a dispute reason is required")
	}
	var match models.Match
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		if match.State != models.MatchStatePlaying && match.State != models.MatchStateResultSubmitted {
			return errStateConflictf("match %s cannot be disputed from state %s", matchID, match.State)
		}
		challenger, opponent, err := loadParticipants(tx, &match)
		if err != nil {
			return err
		}
		var raising, other models.Squad
		switch actorUserID {
		case challenger.LeaderID:
			raising, other = challenger, opponent
		case opponent.LeaderID:
			raising, other = opponent, challenger
		default:
			return errEligibilityf("only a participant squad leader can raise a dispute")
		}

		res := tx.Model(&models.Match{}).
			Where("id = ? AND state IN ?", match.ID, resultStates).
			Updates(map[string]interface{}{
				"state":                models.MatchStateDisputed,
				"dispute_reason":       reason,
				"disputed_by_squad_id": raising.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStateConflictf("match %s changed while raising the dispute", matchID)
		}
		notices = append(notices, notice{
			other.LeaderID,
			"Match disputed",
			fmt.Sprintf("%s disputed the match: %s", raising.Name, reason),
		})
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return &match, nil
}

// CancelMatch cancels a contest. Before acceptance nothing was escrowed and
// nothing moves. After acceptance cancelling is a forfeit: the opposing squad
// receives both wagers and the match chat is deleted immediately.
func (s *MatchService) CancelMatch(ctx context.Context, actorUserID, matchID string) (*models.Match, error) {
	var match models.Match
	var notices []notice
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMatch(tx, matchID, &match); err != nil {
			return err
		}
		now := s.Clock.Now()

		switch match.State {
		case models.MatchStatePending:
			challenger, err := loadSquad(tx, match.ChallengerSquadID)
			if err != nil {
				return err
			}
			if challenger.LeaderID != actorUserID {
				return errEligibilityf("only the challenger's leader can cancel a pending match")
			}
			if err := finalizeMatch(tx, match.ID, []string{models.MatchStatePending}, map[string]interface{}{
				"state":        models.MatchStateCancelled,
				"completed_at": now,
			}); err != nil {
				return err
			}
			if match.Kind == models.MatchKindDirect && match.OpponentSquadID != nil {
				if invited, err := loadSquad(tx, *match.OpponentSquadID); err == nil {
					notices = append(notices, notice{invited.LeaderID, "Challenge withdrawn",
						fmt.Sprintf("%s withdrew its wager challenge", challenger.Name)})
				}
			}

		case models.MatchStateAccepted, models.MatchStatePlaying:
			challenger, opponent, err := loadParticipants(tx, &match)
			if err != nil {
				return err
			}
			var canceling, other models.Squad
			switch actorUserID {
			case challenger.LeaderID:
				canceling, other = challenger, opponent
			case opponent.LeaderID:
				canceling, other = opponent, challenger
			default:
				return errEligibilityf("only a participant squad leader can cancel the match")
			}

			// Forfeit: the canceling squad's wager stays lost and the other
			// side collects the full escrow.
			if err := creditSquad(tx, other.ID, 2*match.WagerAmount); err != nil {
				return err
			}
			if err := finalizeMatch(tx, match.ID,
				[]string{models.MatchStateAccepted, models.MatchStatePlaying},
				map[string]interface{}{
					"state":          models.MatchStateCancelled,
					"escrowed":       false,
					"completed_at":   now,
					"chat_purged_at": now,
				}); err != nil {
				return err
			}
			// Forfeit chat goes immediately, no retention delay.
			if err := tx.Where("match_id = ?", match.ID).Delete(&models.MatchChatMessage{}).Error; err != nil {
				return err
			}

			notices = append(notices,
				notice{other.LeaderID, "Opponent forfeited",
					fmt.Sprintf("%s cancelled the match — %d coins credited to your squad", canceling.Name, 2*match.WagerAmount)},
				notice{canceling.LeaderID, "Wager forfeited",
					fmt.Sprintf("Your squad forfeited the match and its %d coin wager", match.WagerAmount)},
			)

		default:
			return errStateConflictf("match %s cannot be cancelled from state %s", matchID, match.State)
		}
		return loadMatch(tx, matchID, &match)
	})
	if err != nil {
		return nil, err
	}
	dispatch(s.Notifier, notices)
	return &match, nil
}

func (s *MatchService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	if err := loadMatch(s.DB.WithContext(ctx), matchID, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

// ListOpenMatches returns OPEN matches still waiting for an opponent.
func (s *MatchService) ListOpenMatches(ctx context.Context) ([]models.Match, error) {
	var matches []models.Match
	err := s.DB.WithContext(ctx).
		Where("kind = ? AND state = ? AND accept_deadline > ?",
			models.MatchKindOpen, models.MatchStatePending, s.Clock.Now()).
		Order("created_at DESC").
		Find(&matches).Error
	return matches, err
}

// ListSquadMatches returns a squad's match history, newest first.
func (s *MatchService) ListSquadMatches(ctx context.Context, squadID string) ([]models.Match, error) {
	var matches []models.Match
	err := s.DB.WithContext(ctx).
		Where("challenger_squad_id = ? OR opponent_squad_id = ?", squadID, squadID).
		Order("created_at DESC").
		Find(&matches).Error
	return matches, err
}

func squadMeetsMinimums(sq models.Squad, wager int64) error {
	if sq.MemberCount < MinRosterSize {
		return errEligibilityf("squad %s needs at least %d active roster members", sq.Name, MinRosterSize)
	}
	if sq.BountyCoins < wager {
		return errEligibilityf("squad %s cannot cover the %d coin wager", sq.Name, wager)
	}
	return nil
}

func loadSquad(tx *gorm.DB, id string) (models.Squad, error) {
	var sq models.Squad
	if err := tx.First(&sq, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sq, errNotFoundf("squad %s not found", id)
		}
		return sq, err
	}
	return sq, nil
}

func loadMatch(tx *gorm.DB, id string, out *models.Match) error {
	if err := tx.First(out, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errNotFoundf("match %s not found", id)
		}
		return err
	}
	return nil
}

func loadParticipants(tx *gorm.DB, m *models.Match) (challenger, opponent models.Squad, err error) {
	challenger, err = loadSquad(tx, m.ChallengerSquadID)
	if err != nil {
		return
	}
	if m.OpponentSquadID == nil {
		err = errStateConflictf("match %s has no opponent yet", m.ID)
		return
	}
	opponent, err = loadSquad(tx, *m.OpponentSquadID)
	return
}

// --- HTTP handlers (thin glue over the engine methods) ---

func (s *MatchService) CreateMatchHandler(c *fiber.Ctx) error {
	type Req struct {
		SquadID         string `json:"squad_id"`
		Kind            string `json:"kind"`
		OpponentSquadID string `json:"opponent_squad_id,omitempty"`
		WagerAmount     int64  `json:"wager_amount"`
		AcceptDeadline  string `json:"accept_deadline"` // RFC3339
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	deadline, err := time.Parse(time.RFC3339, req.AcceptDeadline)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid accept_deadline (use RFC3339)"})
	}
	match, err := s.CreateMatch(c.Context(), CreateMatchInput{
		ActorUserID:       c.Locals("user_id").(string),
		ChallengerSquadID: req.SquadID,
		Kind:              req.Kind,
		OpponentSquadID:   req.OpponentSquadID,
		WagerAmount:       req.WagerAmount,
		AcceptDeadline:    deadline,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(match)
}

func (s *MatchService) AcceptMatchHandler(c *fiber.Ctx) error {
	type Req struct {
		SquadID string `json:"squad_id"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	match, err := s.AcceptMatch(c.Context(), c.Locals("user_id").(string), c.Params("id"), req.SquadID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) StartMatchHandler(c *fiber.Ctx) error {
	match, err := s.StartMatch(c.Context(), c.Locals("user_id").(string), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) SubmitResultHandler(c *fiber.Ctx) error {
	type Req struct {
		Result string `json:"result"` // WIN or LOSS
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	match, err := s.SubmitResult(c.Context(), c.Locals("user_id").(string), c.Params("id"), strings.ToUpper(req.Result))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) RaiseDisputeHandler(c *fiber.Ctx) error {
	type Req struct {
		Reason string `json:"reason"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	match, err := s.RaiseDispute(c.Context(), c.Locals("user_id").(string), c.Params("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) CancelMatchHandler(c *fiber.Ctx) error {
	match, err := s.CancelMatch(c.Context(), c.Locals("user_id").(string), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) GetMatchHandler(c *fiber.Ctx) error {
	match, err := s.GetMatch(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) ListOpenMatchesHandler(c *fiber.Ctx) error {
	matches, err := s.ListOpenMatches(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch open matches"})
	}
	return c.JSON(matches)
}

func (s *MatchService) ListSquadMatchesHandler(c *fiber.Ctx) error {
	matches, err := s.ListSquadMatches(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch squad matches"})
	}
	return c.JSON(matches)
}
