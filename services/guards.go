package services

import "sync"

// GuardRegistry holds the exactly-once markers for terminal
// transitions, keyed by game id. It is an owned service created at
// boot and torn down per game on archive, not ambient package state.
// The persisted winner reference on the Game row is the durable guard;
// these markers stop two goroutines in one process from both entering
// a settlement step.
type GuardRegistry struct {
	mu       sync.Mutex
	winner   map[uint]bool
	settling map[uint]bool
}

func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{
		winner:   make(map[uint]bool),
		settling: make(map[uint]bool),
	}
}

func (g *GuardRegistry) WinnerDeclared(gameID uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner[gameID]
}

func (g *GuardRegistry) MarkWinner(gameID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.winner[gameID] = true
}

// TryBeginSettle claims the settling slot for a game. The caller must
// pair a successful claim with EndSettle.
func (g *GuardRegistry) TryBeginSettle(gameID uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settling[gameID] {
		return false
	}
	g.settling[gameID] = true
	return true
}

func (g *GuardRegistry) EndSettle(gameID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.settling, gameID)
}

// Teardown drops all markers for an archived game.
func (g *GuardRegistry) Teardown(gameID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.winner, gameID)
	delete(g.settling, gameID)
}
