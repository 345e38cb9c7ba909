package services

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/bellapacxx/bingo-live/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TotalNumbers is the draw range; a game is exhausted once all are out.
const TotalNumbers = 75

// maxDrawRetries bounds the rejection sampling per tick.
const maxDrawRetries = 20

// NoWinnerSettler is the settlement hook the scheduler fires when the
// draw pool runs dry with no claim.
type NoWinnerSettler interface {
	SettleNoWinner(gameID uint) error
}

// SchedulerRegistry drives automatic draws for active games. Exactly
// one goroutine runs per registered game id; the registry is an owned
// service so a restarted process can re-register from the sweep.
type SchedulerRegistry struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	interval time.Duration
	jitter   time.Duration

	settler NoWinnerSettler

	mu     sync.Mutex
	active map[uint]chan struct{}

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewSchedulerRegistry(db *gorm.DB, interval, jitter time.Duration, log *zap.SugaredLogger) *SchedulerRegistry {
	return &SchedulerRegistry{
		db:       db,
		log:      log,
		interval: interval,
		jitter:   jitter,
		active:   make(map[uint]chan struct{}),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Bind attaches the no-winner settlement hook after wiring.
func (s *SchedulerRegistry) Bind(settler NoWinnerSettler) {
	s.settler = settler
}

// Ensure registers a draw loop for the game unless one is already
// running. Called on the ACTIVE transition and by the lifecycle sweep
// for restart safety.
func (s *SchedulerRegistry) Ensure(gameID uint) {
	s.mu.Lock()
	if _, ok := s.active[gameID]; ok {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.active[gameID] = stop
	s.mu.Unlock()

	s.log.Infof("[Scheduler] registered draw loop for game %d", gameID)
	go s.run(gameID, stop)
}

// Registered reports whether a draw loop exists for the game.
func (s *SchedulerRegistry) Registered(gameID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[gameID]
	return ok
}

// Cancel stops the game's draw loop if one is registered.
func (s *SchedulerRegistry) Cancel(gameID uint) {
	s.mu.Lock()
	stop, ok := s.active[gameID]
	if ok {
		delete(s.active, gameID)
	}
	s.mu.Unlock()
	if ok {
		close(stop)
		s.log.Infof("[Scheduler] cancelled draw loop for game %d", gameID)
	}
}

func (s *SchedulerRegistry) Shutdown() {
	s.mu.Lock()
	for id, stop := range s.active {
		close(stop)
		delete(s.active, id)
	}
	s.mu.Unlock()
}

func (s *SchedulerRegistry) run(gameID uint, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(s.nextInterval()):
			done := s.Tick(gameID)
			if done {
				s.mu.Lock()
				if cur, ok := s.active[gameID]; ok && cur == stop {
					delete(s.active, gameID)
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// nextInterval is uniform in [interval-jitter, interval+jitter].
func (s *SchedulerRegistry) nextInterval() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	offset := time.Duration(s.rnd.Int63n(int64(2*s.jitter))) - s.jitter
	d := s.interval + offset
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// Tick draws one number. It re-validates inside the transaction that
// the game is still ACTIVE with no winner; a terminal condition makes
// the loop self-cancel. Returns true when the loop should stop.
func (s *SchedulerRegistry) Tick(gameID uint) (done bool) {
	var exhausted bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, gameID)
		if err != nil {
			return err
		}
		prev := g.Version

		if g.Status != models.StatusActive || g.WinnerUserID != nil {
			done = true
			return nil
		}

		drawn := g.Drawn()
		if len(drawn) >= TotalNumbers {
			done = true
			exhausted = true
			return nil
		}

		n := s.draw(drawn)
		drawn = append(drawn, n)
		g.SetDrawn(drawn)
		if len(drawn) == TotalNumbers {
			done = true
			exhausted = true
		}
		if err := saveGameGuarded(tx, g, prev); err != nil {
			return err
		}

		s.log.Debugf("[Scheduler] game %d drew %d (%d/%d)", gameID, n, len(drawn), TotalNumbers)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrWriteConflict) {
			// A claim or the sweep won the write; next tick re-checks.
			return false
		}
		if errors.Is(err, ErrGameNotFound) {
			return true
		}
		s.log.Errorf("[Scheduler] draw failed for game %d: %v", gameID, err)
		return false
	}

	if exhausted && s.settler != nil {
		if err := s.settler.SettleNoWinner(gameID); err != nil && !errors.Is(err, ErrInvalidState) {
			s.log.Errorf("[Scheduler] no-winner settlement for game %d: %v", gameID, err)
		}
	}
	return done
}

// draw picks uniformly from the uncalled numbers: bounded rejection
// sampling first, then a deterministic scan so a tick can never loop
// pathologically.
func (s *SchedulerRegistry) draw(drawn []int) int {
	called := make(map[int]bool, len(drawn))
	for _, n := range drawn {
		called[n] = true
	}

	s.rndMu.Lock()
	defer s.rndMu.Unlock()

	for i := 0; i < maxDrawRetries; i++ {
		n := s.rnd.Intn(TotalNumbers) + 1
		if !called[n] {
			return n
		}
	}

	remaining := make([]int, 0, TotalNumbers-len(drawn))
	for n := 1; n <= TotalNumbers; n++ {
		if !called[n] {
			remaining = append(remaining, n)
		}
	}
	return remaining[s.rnd.Intn(len(remaining))]
}
