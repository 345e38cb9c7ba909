package services

import (
	"math/rand"

	"github.com/bellapacxx/bingo-live/models"
)

// Card templates are the fixed catalogue players pick from, numbered
// 1-400. Each template is generated deterministically from its own
// number, so every process sees the same grids without a shared asset.
const (
	MinCardNumber = 1
	MaxCardNumber = 400
)

// Grid returns the 25-cell row-major grid for a template number.
// Columns follow the classic ranges: B 1-15, I 16-30, N 31-45,
// G 46-60, O 61-75. The center cell is the free space (0).
func Grid(cardNumber int) []int {
	r := rand.New(rand.NewSource(int64(cardNumber) * 7919))

	grid := make([]int, 25)
	for col := 0; col < 5; col++ {
		base := col*15 + 1
		pool := make([]int, 15)
		for i := range pool {
			pool[i] = base + i
		}
		r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for row := 0; row < 5; row++ {
			grid[row*5+col] = pool[row]
		}
	}
	grid[models.FreeCell] = 0
	return grid
}

// ValidCardNumber reports whether n is inside the template catalogue.
func ValidCardNumber(n int) bool {
	return n >= MinCardNumber && n <= MaxCardNumber
}
