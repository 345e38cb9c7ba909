package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bellapacxx/bingo-live/models"
)

func TestFindWinningLine(t *testing.T) {
	mark := func(positions ...int) map[int]bool {
		m := make(map[int]bool)
		for _, p := range positions {
			m[p] = true
		}
		return m
	}

	cases := []struct {
		name     string
		marks    map[int]bool
		wantLine string
		wantWin  bool
	}{
		{"TopRow", mark(0, 1, 2, 3, 4), "row-0", true},
		{"CenterRowWithFree", mark(10, 11, 12, 13, 14), "row-2", true},
		{"LastColumn", mark(4, 9, 14, 19, 24), "col-4", true},
		{"MainDiagonal", mark(0, 6, 12, 18, 24), "diag-main", true},
		{"AntiDiagonal", mark(4, 8, 12, 16, 20), "diag-anti", true},
		{"FourCornersNotALine", mark(0, 4, 20, 24, 12), "", false},
		{"FourOfFive", mark(0, 1, 2, 3), "", false},
		{"Empty", mark(), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, win := FindWinningLine(tc.marks)
			if win != tc.wantWin || line != tc.wantLine {
				t.Fatalf("got (%q,%v), want (%q,%v)", line, win, tc.wantLine, tc.wantWin)
			}
		})
	}
}

func TestEffectiveMarksLateJoiner(t *testing.T) {
	card := &models.BingoCard{JoinedLate: true}
	grid := make([]int, 25)
	for i := range grid {
		grid[i] = i + 1 // cell value = position+1 for readability
	}
	grid[models.FreeCell] = 0
	card.SetGrid(grid)
	card.SetMarked([]int{3})
	card.SetJoinSnapshot([]int{1, 2}) // drawn before the card existed

	// 1,2 pre-date the card; 5 and 9 landed after.
	marks := EffectiveMarks(card, []int{1, 2, 5, 9})

	if marks[0] || marks[1] {
		t.Fatal("pre-join draws must not be credited")
	}
	if !marks[4] || !marks[8] {
		t.Fatal("post-join draws must be credited")
	}
	if !marks[3] {
		t.Fatal("manual mark lost")
	}
	if !marks[models.FreeCell] {
		t.Fatal("center free cell must always count")
	}
}

func TestEffectiveMarksRegularJoinerIgnoresDraws(t *testing.T) {
	card := &models.BingoCard{}
	card.SetGrid(Grid(5))
	card.SetMarked([]int{0, 1})

	marks := EffectiveMarks(card, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	want := map[int]bool{0: true, 1: true, models.FreeCell: true}
	if len(marks) != len(want) {
		t.Fatalf("marks = %v, want only manual + center", marks)
	}
	for p := range want {
		if !marks[p] {
			t.Fatalf("missing mark %d", p)
		}
	}
}

// setDrawn force-feeds the draw list, as if the scheduler had called
// those numbers.
func setDrawn(t *testing.T, env *testEnv, gameID uint, nums []int) {
	t.Helper()
	g := env.game(t, gameID)
	g.SetDrawn(nums)
	if err := env.db.Save(&g).Error; err != nil {
		t.Fatalf("set drawn: %v", err)
	}
}

func TestEndToEndWinScenario(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{11, 22})

	// Draw exactly the numbers of alice's center row (free cell skips).
	var card models.BingoCard
	if err := env.db.Where("game_id = ? AND user_id = ?", gameID, alice).First(&card).Error; err != nil {
		t.Fatalf("load card: %v", err)
	}
	grid := card.Grid()
	drawn := []int{grid[10], grid[11], grid[13], grid[14]}
	setDrawn(t, env, gameID, drawn)

	for _, pos := range []int{10, 11, 13, 14} {
		if err := env.cards.MarkCell(gameID, alice, pos); err != nil {
			t.Fatalf("mark %d: %v", pos, err)
		}
	}

	result, err := env.settle.ClaimBingo(gameID, alice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.WinningLine != "row-2" {
		t.Fatalf("line = %s, want row-2", result.WinningLine)
	}
	if result.Pot != 20 || result.Fee != 2 || result.Prize != 18 {
		t.Fatalf("pot/fee/prize = %.2f/%.2f/%.2f, want 20/2/18", result.Pot, result.Fee, result.Prize)
	}

	// 50 - 10 entry + 18 prize.
	if b := env.user(t, alice).Balance; b != 58 {
		t.Fatalf("alice balance = %.2f, want 58", b)
	}
	if b := env.user(t, bob).Balance; b != 40 {
		t.Fatalf("bob balance = %.2f, want 40", b)
	}

	g := env.game(t, gameID)
	if g.Status != models.StatusFinished {
		t.Fatalf("status = %s, want FINISHED", g.Status)
	}
	if g.WinnerUserID == nil || *g.WinnerUserID != alice {
		t.Fatalf("winner = %v, want %d", g.WinnerUserID, alice)
	}
	if g.CooldownEndsAt == nil {
		t.Fatal("cooldown not armed")
	}
	if env.sched.Registered(gameID) {
		t.Fatal("scheduler still registered after settlement")
	}
	if !env.guards.WinnerDeclared(gameID) {
		t.Fatal("winner guard not set")
	}

	rec, err := env.recon.GetByGame(gameID)
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	if rec.Status != models.ReconSettled {
		t.Fatalf("recon status = %s, want SETTLED", rec.Status)
	}
	if !Balanced(rec) {
		t.Fatalf("books out of balance: debit %.2f credit %.2f", rec.DebitTotal, rec.CreditTotal)
	}

	// Stats land on a fire-and-forget goroutine.
	waitFor(t, 2*time.Second, func() bool {
		return env.user(t, alice).GamesWon == 1 && env.user(t, bob).GamesLost == 1
	})

	// A second claim is rejected by the exactly-once guard.
	if _, err := env.settle.ClaimBingo(gameID, bob); !errors.Is(err, ErrDuplicateClaim) {
		t.Fatalf("second claim: got %v, want ErrDuplicateClaim", err)
	}

	// After cooldown a fresh game replaces the finished one.
	env.clock.Advance(env.cfg.Cooldown + time.Second)
	env.sweep(t)
	current, err := env.engine.CurrentGame()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.ID == gameID || current.Status != models.StatusWaitingForPlayers {
		t.Fatalf("expected fresh waiting game, got %d status %s", current.ID, current.Status)
	}
}

func TestClaimWithoutWinIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{1, 2})

	if _, err := env.settle.ClaimBingo(gameID, alice); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("got %v, want ErrInvalidClaim", err)
	}

	// A failed claim is not a lockout, alice may claim again later.
	var card models.BingoCard
	env.db.Where("game_id = ? AND user_id = ?", gameID, alice).First(&card)
	card.SetMarked([]int{0, 1, 2, 3, 4})
	env.db.Save(&card)

	if _, err := env.settle.ClaimBingo(gameID, alice); err != nil {
		t.Fatalf("retry after fail: %v", err)
	}
}

func TestClaimWithoutCardIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	carol := env.createUser(t, "carol", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{1, 2})

	if _, err := env.settle.ClaimBingo(gameID, carol); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("got %v, want ErrInvalidClaim", err)
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{1, 2})

	// Both players hold a genuinely winning card.
	for _, u := range []uint{alice, bob} {
		var card models.BingoCard
		env.db.Where("game_id = ? AND user_id = ?", gameID, u).First(&card)
		card.SetMarked([]int{0, 1, 2, 3, 4})
		env.db.Save(&card)
	}

	const claimsPerPlayer = 3
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimsPerPlayer*2; i++ {
		claimant := alice
		if i%2 == 1 {
			claimant = bob
		}
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			_, err := env.settle.ClaimBingo(gameID, userID)
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, ErrDuplicateClaim), errors.Is(err, ErrWriteConflict):
				// expected for the losers of the race
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(claimant)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	var winnerCards int64
	env.db.Model(&models.BingoCard{}).Where("game_id = ? AND is_winner = ?", gameID, true).Count(&winnerCards)
	if winnerCards != 1 {
		t.Fatalf("winner cards = %d, want 1", winnerCards)
	}

	rec, err := env.recon.GetByGame(gameID)
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	if !Balanced(rec) {
		t.Fatalf("books out of balance: debit %.2f credit %.2f", rec.DebitTotal, rec.CreditTotal)
	}
}

func TestNoWinnerRefundsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", 50)
	bob := env.createUser(t, "bob", 50)
	gameID := env.startActiveGame(t, []uint{alice, bob}, []int{1, 2})

	all := make([]int, TotalNumbers)
	for i := range all {
		all[i] = i + 1
	}
	setDrawn(t, env, gameID, all)

	if err := env.settle.SettleNoWinner(gameID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Re-entry from the sweep must not double-refund.
	if err := env.settle.SettleNoWinner(gameID); err != nil {
		t.Fatalf("re-settle: %v", err)
	}

	g := env.game(t, gameID)
	if g.Status != models.StatusNoWinner {
		t.Fatalf("status = %s, want NO_WINNER", g.Status)
	}

	for _, u := range []uint{alice, bob} {
		if b := env.user(t, u).Balance; b != 50 {
			t.Fatalf("user %d balance = %.2f, want 50 after refund", u, b)
		}
		var refunds int64
		env.db.Model(&models.LedgerEntry{}).
			Where("game_id = ? AND user_id = ? AND type = ? AND status = ?",
				gameID, u, models.RefundCredit, models.EntryCompleted).
			Count(&refunds)
		if refunds != 1 {
			t.Fatalf("user %d refund entries = %d, want exactly 1", u, refunds)
		}
	}

	rec, err := env.recon.GetByGame(gameID)
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	if rec.Status != models.ReconNoWinnerRefunded {
		t.Fatalf("recon status = %s, want NO_WINNER_REFUNDED", rec.Status)
	}
	if !Balanced(rec) {
		t.Fatalf("books out of balance: debit %.2f credit %.2f", rec.DebitTotal, rec.CreditTotal)
	}
}
