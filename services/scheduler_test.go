package services

import (
	"sort"
	"testing"

	"github.com/bellapacxx/bingo-live/models"
)

func TestTickDrawsEveryNumberOnce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{1, 2})

	// Drive the draws by hand instead of waiting on the loop's timer.
	env.sched.Cancel(gameID)

	for i := 0; i < TotalNumbers; i++ {
		done := env.sched.Tick(gameID)
		g := env.game(t, gameID)
		if got := len(g.Drawn()); got != i+1 {
			t.Fatalf("after tick %d: %d numbers drawn", i+1, got)
		}
		if wantDone := i == TotalNumbers-1; done != wantDone {
			t.Fatalf("tick %d: done = %v, want %v", i+1, done, wantDone)
		}
	}

	g := env.game(t, gameID)
	drawn := g.Drawn()
	sort.Ints(drawn)
	for i, n := range drawn {
		if n != i+1 {
			t.Fatalf("drawn pool is not a permutation of 1..75: %v", drawn)
		}
	}

	// Exhaustion without a claim settles the round as NO_WINNER and
	// hands the entry fees back.
	if g.Status != models.StatusNoWinner {
		t.Fatalf("status = %s, want NO_WINNER", g.Status)
	}
	for _, u := range []uint{alice, bob} {
		if b := env.user(t, u).Balance; b != 50 {
			t.Fatalf("user %d balance = %.2f, want 50 after refund", u, b)
		}
	}
	rec, err := env.recon.GetByGame(gameID)
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	if rec.Status != models.ReconNoWinnerRefunded || !Balanced(rec) {
		t.Fatalf("recon = %s, balanced = %v", rec.Status, Balanced(rec))
	}
}

func TestTickStopsOnceWinnerDeclared(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{1, 2})
	env.sched.Cancel(gameID)

	g := env.game(t, gameID)
	g.WinnerUserID = &alice
	if err := env.db.Save(&g).Error; err != nil {
		t.Fatalf("save: %v", err)
	}

	if done := env.sched.Tick(gameID); !done {
		t.Fatal("tick must self-cancel when a winner is on the row")
	}
	after := env.game(t, gameID)
	if got := len(after.Drawn()); got != 0 {
		t.Fatalf("drew %d numbers past the winner", got)
	}
}

func TestTickStopsWhenGameNotActive(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.engine.EnsureCurrentGame()
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if g.Status != models.StatusWaitingForPlayers {
		t.Fatalf("precondition: status = %s", g.Status)
	}

	if done := env.sched.Tick(g.ID); !done {
		t.Fatal("tick must self-cancel outside ACTIVE")
	}
	if done := env.sched.Tick(g.ID + 999); !done {
		t.Fatal("tick must self-cancel for a missing game")
	}
}

func TestEnsureAndCancelLifecycle(t *testing.T) {
	env := newTestEnv(t)

	env.sched.Ensure(42)
	if !env.sched.Registered(42) {
		t.Fatal("loop not registered")
	}
	env.sched.Ensure(42) // no-op, not a second loop
	env.sched.Cancel(42)
	if env.sched.Registered(42) {
		t.Fatal("loop still registered after cancel")
	}
	env.sched.Cancel(42) // idempotent
}
