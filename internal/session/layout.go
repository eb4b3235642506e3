package session

// GenerateSpecialCells draws a star/trap layout over the interior cells of
// the board (never the start or final step). Deterministic with respect to
// the supplied draw function; counts are capped by the available cells.
func GenerateSpecialCells(boardSize, stars, traps int, intn func(n int) int) map[int]CellKind {
	cells := make(map[int]CellKind)
	if boardSize < 3 {
		return cells
	}
	free := make([]int, 0, boardSize-2)
	for i := 1; i < boardSize-1; i++ {
		free = append(free, i)
	}
	draw := func(kind CellKind, count int) {
		for i := 0; i < count && len(free) > 0; i++ {
			j := intn(len(free))
			cells[free[j]] = kind
			free[j] = free[len(free)-1]
			free = free[:len(free)-1]
		}
	}
	draw(CellStar, stars)
	draw(CellTrap, traps)
	return cells
}
