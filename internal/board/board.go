// Package board maps linear step indices onto a square grid walked as a
// clockwise spiral. The last step is the grid center. Used for rendering
// only; positions in a session are always linear step indices.
package board

import "fmt"

// Cell is a grid coordinate, row 0 at the top.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Direction of travel leaving a step, for rendering movement.
type Direction string

const (
	DirRight Direction = "RIGHT"
	DirDown  Direction = "DOWN"
	DirLeft  Direction = "LEFT"
	DirUp    Direction = "UP"
	DirNone  Direction = "NONE" // final step
)

// Side returns the grid side length for a board size, or an error when the
// size is not a perfect square (the board must render as an NxN spiral).
func Side(boardSize int) (int, error) {
	if boardSize <= 0 {
		return 0, fmt.Errorf("board size %d: must be positive", boardSize)
	}
	n := 1
	for n*n < boardSize {
		n++
	}
	if n*n != boardSize {
		return 0, fmt.Errorf("board size %d: not a perfect square", boardSize)
	}
	return n, nil
}

// Layout returns the grid cell for every step index, in step order,
// spiraling clockwise from the top-left corner into the center.
func Layout(boardSize int) ([]Cell, error) {
	n, err := Side(boardSize)
	if err != nil {
		return nil, err
	}
	cells := make([]Cell, 0, boardSize)
	top, bottom, left, right := 0, n-1, 0, n-1
	for len(cells) < boardSize {
		for c := left; c <= right; c++ {
			cells = append(cells, Cell{Row: top, Col: c})
		}
		top++
		for r := top; r <= bottom; r++ {
			cells = append(cells, Cell{Row: r, Col: right})
		}
		right--
		if top <= bottom {
			for c := right; c >= left; c-- {
				cells = append(cells, Cell{Row: bottom, Col: c})
			}
			bottom--
		}
		if left <= right {
			for r := bottom; r >= top; r-- {
				cells = append(cells, Cell{Row: r, Col: left})
			}
			left++
		}
	}
	return cells[:boardSize], nil
}

// CellAt returns the grid cell for a single step index.
func CellAt(boardSize, step int) (Cell, error) {
	if step < 0 || step >= boardSize {
		return Cell{}, fmt.Errorf("step %d: out of range [0,%d)", step, boardSize)
	}
	cells, err := Layout(boardSize)
	if err != nil {
		return Cell{}, err
	}
	return cells[step], nil
}

// DirectionAt returns the travel direction leaving the given step.
func DirectionAt(boardSize, step int) (Direction, error) {
	if step < 0 || step >= boardSize {
		return DirNone, fmt.Errorf("step %d: out of range [0,%d)", step, boardSize)
	}
	if step == boardSize-1 {
		return DirNone, nil
	}
	cells, err := Layout(boardSize)
	if err != nil {
		return DirNone, err
	}
	cur, next := cells[step], cells[step+1]
	switch {
	case next.Col > cur.Col:
		return DirRight, nil
	case next.Row > cur.Row:
		return DirDown, nil
	case next.Col < cur.Col:
		return DirLeft, nil
	default:
		return DirUp, nil
	}
}
