package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"squad-wager-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sentNotice struct {
	UserID string
	Title  string
	Body   string
}

// recordingNotifier captures notices instead of pushing them anywhere.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) Notify(_ context.Context, userID, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{UserID: userID, Title: title, Body: body})
}

func (n *recordingNotifier) titlesFor(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var titles []string
	for _, s := range n.sent {
		if s.UserID == userID {
			titles = append(titles, s.Title)
		}
	}
	return titles
}

type testEnv struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
	matches  *MatchService
	disputes *DisputeService
	chat     *ChatService
	sweeper  *DeadlineSweeper
}

var testAdminIDs = []string{"admin-1"}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Squad{},
		&models.Match{},
		&models.MatchChatMessage{},
		&models.MatchChatHold{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}

	return &testEnv{
		db:       db,
		clock:    clock,
		notifier: notifier,
		matches:  NewMatchService(db, clock, notifier),
		disputes: NewDisputeService(db, clock, notifier, testAdminIDs),
		chat:     NewChatService(db, clock),
		sweeper:  NewDeadlineSweeper(db, clock, notifier, testAdminIDs, 2*time.Minute),
	}
}

func (e *testEnv) seedSquad(t *testing.T, name, leaderID string, coins int64, members int) models.Squad {
	t.Helper()
	sq := models.Squad{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        name,
		LeaderID:    leaderID,
		MemberCount: members,
		BountyCoins: coins,
	}
	if err := e.db.Create(&sq).Error; err != nil {
		t.Fatalf("seed squad %s: %v", name, err)
	}
	return sq
}

func (e *testEnv) squad(t *testing.T, id string) models.Squad {
	t.Helper()
	var sq models.Squad
	if err := e.db.First(&sq, "id = ?", id).Error; err != nil {
		t.Fatalf("load squad %s: %v", id, err)
	}
	return sq
}

func (e *testEnv) match(t *testing.T, id string) models.Match {
	t.Helper()
	var m models.Match
	if err := e.db.First(&m, "id = ?", id).Error; err != nil {
		t.Fatalf("load match %s: %v", id, err)
	}
	return m
}

// createOpenMatch seeds a PENDING OPEN match created by the challenger leader.
func (e *testEnv) createOpenMatch(t *testing.T, challenger models.Squad, wager int64) *models.Match {
	t.Helper()
	m, err := e.matches.CreateMatch(context.Background(), CreateMatchInput{
		ActorUserID:       challenger.LeaderID,
		ChallengerSquadID: challenger.ID,
		Kind:              models.MatchKindOpen,
		WagerAmount:       wager,
		AcceptDeadline:    e.clock.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

// startedMatch drives a fresh match to PLAYING between the two squads.
func (e *testEnv) startedMatch(t *testing.T, challenger, opponent models.Squad, wager int64) *models.Match {
	t.Helper()
	ctx := context.Background()
	m := e.createOpenMatch(t, challenger, wager)
	if _, err := e.matches.AcceptMatch(ctx, opponent.LeaderID, m.ID, opponent.ID); err != nil {
		t.Fatalf("accept match: %v", err)
	}
	started, err := e.matches.StartMatch(ctx, challenger.LeaderID, m.ID)
	if err != nil {
		t.Fatalf("start match: %v", err)
	}
	return started
}

// disputedMatch drives a fresh match to DISPUTED via identical claims.
func (e *testEnv) disputedMatch(t *testing.T, challenger, opponent models.Squad, wager int64) *models.Match {
	t.Helper()
	ctx := context.Background()
	m := e.startedMatch(t, challenger, opponent, wager)
	if _, err := e.matches.SubmitResult(ctx, challenger.LeaderID, m.ID, models.ResultWin); err != nil {
		t.Fatalf("challenger result: %v", err)
	}
	disputed, err := e.matches.SubmitResult(ctx, opponent.LeaderID, m.ID, models.ResultWin)
	if err != nil {
		t.Fatalf("opponent result: %v", err)
	}
	if disputed.State != models.MatchStateDisputed {
		t.Fatalf("expected DISPUTED, got %s", disputed.State)
	}
	return disputed
}

// assertConservation checks that the coins held by the listed squads plus any
// live escrow add up to the expected total.
func (e *testEnv) assertConservation(t *testing.T, expected int64, squadIDs ...string) {
	t.Helper()
	var total int64
	for _, id := range squadIDs {
		total += e.squad(t, id).BountyCoins
	}
	var escrowed []models.Match
	if err := e.db.Where("escrowed = ?", true).Find(&escrowed).Error; err != nil {
		t.Fatalf("load escrowed matches: %v", err)
	}
	for _, m := range escrowed {
		total += 2 * m.WagerAmount
	}
	if total != expected {
		t.Fatalf("coins not conserved: have %d, want %d", total, expected)
	}
}
