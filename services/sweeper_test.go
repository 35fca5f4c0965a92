package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"squad-wager-system/models"
)

func TestSweepRefundsWhenNobodyReported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	env.clock.Advance(20 * time.Minute)

	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	swept := env.match(t, m.ID)
	if swept.State != models.MatchStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", swept.State)
	}
	if swept.WinnerSquadID != nil {
		t.Fatal("a voided match must have no winner")
	}
	for _, sq := range []models.Squad{alpha, bravo} {
		got := env.squad(t, sq.ID)
		if got.BountyCoins != 1000 {
			t.Fatalf("squad %s balance = %d, want 1000", sq.Name, got.BountyCoins)
		}
		if got.TotalMatches != 0 {
			t.Fatalf("squad %s stats moved on a void", sq.Name)
		}
	}
	if titles := env.notifier.titlesFor(alpha.LeaderID); len(titles) == 0 {
		t.Fatal("expected a voided-match notice to the challenger leader")
	}
	env.assertConservation(t, 2000, alpha.ID, bravo.ID)
}

func TestSweepSingleReportIsAuthoritative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	if _, err := env.matches.SubmitResult(ctx, bravo.LeaderID, m.ID, models.ResultWin); err != nil {
		t.Fatalf("report: %v", err)
	}
	env.clock.Advance(20 * time.Minute)

	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	swept := env.match(t, m.ID)
	if swept.State != models.MatchStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", swept.State)
	}
	if swept.WinnerSquadID == nil || *swept.WinnerSquadID != bravo.ID {
		t.Fatal("the reporting squad's claim should stand")
	}
	// The silent side's result is synthesized so the record reads complete.
	if swept.ChallengerResult == nil || *swept.ChallengerResult != models.ResultLoss {
		t.Fatalf("challenger result not synthesized: %v", swept.ChallengerResult)
	}
	if got := env.squad(t, bravo.ID).BountyCoins; got != 1100 {
		t.Fatalf("winner balance = %d, want 1100", got)
	}
	env.assertConservation(t, 2000, alpha.ID, bravo.ID)
}

func TestSweepSingleLossReportSettlesForSilentSide(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	if _, err := env.matches.SubmitResult(ctx, alpha.LeaderID, m.ID, models.ResultLoss); err != nil {
		t.Fatalf("report: %v", err)
	}
	env.clock.Advance(20 * time.Minute)

	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	swept := env.match(t, m.ID)
	if swept.WinnerSquadID == nil || *swept.WinnerSquadID != bravo.ID {
		t.Fatal("a self-reported loss should award the silent side")
	}
	if swept.OpponentResult == nil || *swept.OpponentResult != models.ResultWin {
		t.Fatalf("opponent result not synthesized: %v", swept.OpponentResult)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	env.startedMatch(t, alpha, bravo, 100)
	env.clock.Advance(20 * time.Minute)

	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	// One refund each, not two.
	if got := env.squad(t, alpha.ID).BountyCoins; got != 1000 {
		t.Fatalf("balance = %d after double sweep, want 1000", got)
	}
	env.assertConservation(t, 2000, alpha.ID, bravo.ID)
}

func TestSweepLeavesUnexpiredMatchesAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	env.clock.Advance(5 * time.Minute) // still inside the result window

	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := env.match(t, m.ID).State; got != models.MatchStatePlaying {
		t.Fatalf("live match touched by sweep: %s", got)
	}
}

func TestSweepSkipsDisputedMatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.disputedMatch(t, alpha, bravo, 100)
	env.clock.Advance(time.Hour)

	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := env.match(t, m.ID).State; got != models.MatchStateDisputed {
		t.Fatalf("disputed match touched by sweep: %s", got)
	}
}

func TestLateReportAfterSweepIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alpha := env.seedSquad(t, "alpha", "lead-alpha", 1000, 5)
	bravo := env.seedSquad(t, "bravo", "lead-bravo", 1000, 5)

	m := env.startedMatch(t, alpha, bravo, 100)
	env.clock.Advance(20 * time.Minute)
	if err := env.sweeper.SweepOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	_, err := env.matches.SubmitResult(ctx, alpha.LeaderID, m.ID, models.ResultWin)
	var conflict *StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected state conflict for a late report, got %v", err)
	}
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
