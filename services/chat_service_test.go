package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"squad-wager-system/models"
)

func TestChatOpensAtAcceptanceAndClosesAtSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.createOpenMatch(t, alpha, 100)
	_, err := env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, "anyone up for this?")
	var conflict *StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected chat closed while PENDING, got %v", err)
	}

	if _, err := env.matches.AcceptMatch(ctx, bravo.LeaderID, m.ID, bravo.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	msg, err := env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, "lobby code is 4417")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.SquadID != alpha.ID {
		t.Fatalf("message attributed to wrong squad: %s", msg.SquadID)
	}
	if _, err := env.chat.SendMessage(ctx, bravo.LeaderID, m.ID, "joining now"); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = env.chat.SendMessage(ctx, "outsider", m.ID, "let me in")
	var elig *EligibilityError
	if !errors.As(err, &elig) {
		t.Fatalf("expected eligibility error for outsider, got %v", err)
	}

	messages, err := env.chat.FetchMessages(ctx, bravo.LeaderID, m.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Body != "lobby code is 4417" {
		t.Fatalf("messages out of order: %q first", messages[0].Body)
	}

	// Settle the match and verify the channel closes.
	if _, err := env.matches.StartMatch(ctx, alpha.LeaderID, m.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.matches.SubmitResult(ctx, alpha.LeaderID, m.ID, models.ResultWin); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := env.matches.SubmitResult(ctx, bravo.LeaderID, m.ID, models.ResultLoss); err != nil {
		t.Fatalf("report: %v", err)
	}
	_, err = env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, "gg")
	if !errors.As(err, &conflict) {
		t.Fatalf("expected chat closed after settlement, got %v", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)
	m := env.startedMatch(t, alpha, bravo, 100)

	var validation *ValidationError
	if _, err := env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, "   "); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for blank body, got %v", err)
	}
	long := make([]byte, maxChatBodyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, string(long)); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for oversized body, got %v", err)
	}
}

func TestRetentionSweepPurgesAfterDelay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	if _, err := env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, "good luck"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.matches.SubmitResult(ctx, alpha.LeaderID, m.ID, models.ResultWin); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, err := env.matches.SubmitResult(ctx, bravo.LeaderID, m.ID, models.ResultLoss); err != nil {
		t.Fatalf("report: %v", err)
	}

	// Too early: transcript survives the sweep.
	env.clock.Advance(5 * time.Minute)
	if err := env.chat.RunRetentionSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var count int64
	env.db.Model(&models.MatchChatMessage{}).Where("match_id = ?", m.ID).Count(&count)
	if count != 1 {
		t.Fatalf("transcript purged early: %d messages", count)
	}

	// Past the window: transcript goes.
	env.clock.Advance(6 * time.Minute)
	if err := env.chat.RunRetentionSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	env.db.Model(&models.MatchChatMessage{}).Where("match_id = ?", m.ID).Count(&count)
	if count != 0 {
		t.Fatalf("transcript survived purge: %d messages", count)
	}
	if env.match(t, m.ID).ChatPurgedAt == nil {
		t.Fatal("chat_purged_at not set")
	}
}

func TestHoldDefersPurgeUntilReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	if _, err := env.chat.SendMessage(ctx, bravo.LeaderID, m.ID, "screenshot this"); err != nil {
		t.Fatalf("send: %v", err)
	}
	env.completedMatchFrom(t, alpha, bravo, m)

	if _, err := env.chat.PlaceHold(ctx, "admin-1", m.ID, "harassment report"); err != nil {
		t.Fatalf("place hold: %v", err)
	}
	_, err := env.chat.PlaceHold(ctx, "admin-1", m.ID, "second case")
	var conflict *StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected one hold per match, got %v", err)
	}

	env.clock.Advance(time.Hour)
	if err := env.chat.RunRetentionSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var count int64
	env.db.Model(&models.MatchChatMessage{}).Where("match_id = ?", m.ID).Count(&count)
	if count != 1 {
		t.Fatalf("held transcript purged: %d messages", count)
	}

	// Investigators can still read the held transcript.
	messages, err := env.chat.FetchForInvestigation(ctx, m.ID)
	if err != nil {
		t.Fatalf("investigation fetch: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	// Releasing the hold lets the next sweep purge.
	if err := env.chat.ReleaseHold(ctx, m.ID); err != nil {
		t.Fatalf("release hold: %v", err)
	}
	if err := env.chat.RunRetentionSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	env.db.Model(&models.MatchChatMessage{}).Where("match_id = ?", m.ID).Count(&count)
	if count != 0 {
		t.Fatalf("transcript survived after release: %d messages", count)
	}
}

// completedMatchFrom finishes an already started match by agreement.
func (e *testEnv) completedMatchFrom(t *testing.T, challenger, opponent models.Squad, m *models.Match) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.matches.SubmitResult(ctx, challenger.LeaderID, m.ID, models.ResultWin); err != nil {
		t.Fatalf("challenger result: %v", err)
	}
	if _, err := e.matches.SubmitResult(ctx, opponent.LeaderID, m.ID, models.ResultLoss); err != nil {
		t.Fatalf("opponent result: %v", err)
	}
}

func TestExpiredHoldIsPurgedWithTranscript(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	if _, err := env.chat.SendMessage(ctx, alpha.LeaderID, m.ID, "evidence here"); err != nil {
		t.Fatalf("send: %v", err)
	}
	env.completedMatchFrom(t, alpha, bravo, m)
	if _, err := env.chat.PlaceHold(ctx, "admin-1", m.ID, "open case"); err != nil {
		t.Fatalf("place hold: %v", err)
	}

	env.clock.Advance(31 * 24 * time.Hour)
	if err := env.chat.RunRetentionSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var msgCount, holdCount int64
	env.db.Model(&models.MatchChatMessage{}).Where("match_id = ?", m.ID).Count(&msgCount)
	env.db.Model(&models.MatchChatHold{}).Where("match_id = ?", m.ID).Count(&holdCount)
	if msgCount != 0 {
		t.Fatalf("transcript outlived the hold limit: %d messages", msgCount)
	}
	if holdCount != 0 {
		t.Fatalf("expired hold not removed: %d holds", holdCount)
	}
	if env.match(t, m.ID).ChatPurgedAt == nil {
		t.Fatal("chat_purged_at not set")
	}
}

func TestReleaseMissingHold(t *testing.T) {
	env := newTestEnv(t)
	err := env.chat.ReleaseHold(context.Background(), "no-such-match")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
