package services

import (
	"testing"
	"time"

	"github.com/bellapacxx/bingo-live/models"
)

func TestFormattedGameWaitingFlags(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	g, err := env.engine.EnsureCurrentGame()
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := env.engine.JoinGame(g.ID, alice); err != nil {
		t.Fatalf("join: %v", err)
	}

	view, err := env.view.GetFormattedGame(g.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !view.CanJoin || !view.CanSelectCard || view.CanStart {
		t.Fatalf("flags = join:%v select:%v start:%v, want true/true/false",
			view.CanJoin, view.CanSelectCard, view.CanStart)
	}
	if view.PlayerCount != 1 {
		t.Fatalf("player count = %d, want 1", view.PlayerCount)
	}
	if view.AutoStartInSec != nil {
		t.Fatal("auto-start timer must be unset below the minimum")
	}
	if len(view.Participants) != 1 || view.Participants[0].UserID != alice {
		t.Fatalf("participants = %v", view.Participants)
	}
	if view.Participants[0].CardNumber != nil {
		t.Fatal("card number set before any selection")
	}
}

func TestFormattedGameCountdownAndCache(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	g, err := env.engine.EnsureCurrentGame()
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i, u := range []uint{alice, bob} {
		if err := env.engine.JoinGame(g.ID, u); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, _, err := env.cards.SelectCard(g.ID, u, i+1); err != nil {
			t.Fatalf("select: %v", err)
		}
	}
	env.sweep(t) // arms the auto-start deadline

	view, err := env.view.GetFormattedGame(g.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.AutoStartInSec == nil {
		t.Fatal("auto-start timer missing at minimum players")
	}
	want := int(env.cfg.AutoStartDelay / time.Second)
	if *view.AutoStartInSec != want {
		t.Fatalf("auto-start in %ds, want %d", *view.AutoStartInSec, want)
	}
	if !view.CanStart {
		t.Fatal("CanStart must be set once enough players hold cards")
	}

	// Snapshot is served from cache inside the TTL even after a write.
	env.clock.Advance(env.cfg.AutoStartDelay + time.Second)
	env.sweep(t)
	cached, err := env.view.GetFormattedGame(g.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if cached.Status != string(models.StatusWaitingForPlayers) {
		t.Fatalf("cached status = %s, want the pre-transition snapshot", cached.Status)
	}

	env.view.Invalidate(g.ID)
	fresh, err := env.view.GetFormattedGame(g.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if fresh.Status != string(models.StatusCardSelection) {
		t.Fatalf("status = %s, want CARD_SELECTION after invalidate", fresh.Status)
	}
	if fresh.SelectionEndsInSec == nil {
		t.Fatal("selection countdown missing")
	}
	if fresh.Participants[0].CardNumber == nil || *fresh.Participants[0].CardNumber != 1 {
		t.Fatalf("participant card = %v, want 1", fresh.Participants[0].CardNumber)
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in30 := now.Add(30 * time.Second)
	if got := remaining(now, &in30); got == nil || *got != 30 {
		t.Fatalf("remaining = %v, want 30", got)
	}
	past := now.Add(-time.Second)
	if got := remaining(now, &past); got != nil {
		t.Fatalf("remaining = %v, want nil for a passed deadline", got)
	}
	if got := remaining(now, nil); got != nil {
		t.Fatalf("remaining = %v, want nil when unset", got)
	}
}
