package world

import "fmt"

// Cell is a single tile of the world grid.
type Cell struct {
	X        int      `json:"x"`
	Y        int      `json:"y"`
	Category Category `json:"category"`
}

// ID returns the tile key "{x}-{y}", unique per cell.
func (c Cell) ID() string {
	return CellID(c.X, c.Y)
}

// CellID builds the tile key for a coordinate.
func CellID(x, y int) string {
	return fmt.Sprintf("%d-%d", x, y)
}

// Grid holds every tile of a rectangular world, row-major.
type Grid struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Cells  []Cell `json:"-"`
}

// Allocate builds a Width×Height grid with every tile set to DefaultCategory.
// Cells are enumerated y outer, x inner so that index = y*width + x.
func Allocate(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("allocate %dx%d grid: %w", width, height, ErrInvalidValue)
	}
	g := &Grid{
		Width:  width,
		Height: height,
		Cells:  make([]Cell, 0, width*height),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Cells = append(g.Cells, Cell{X: x, Y: y, Category: DefaultCategory})
		}
	}
	return g, nil
}

// Len returns the total number of tiles.
func (g *Grid) Len() int {
	return len(g.Cells)
}

// InBounds returns true if the coordinate lies on the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height
}

// Index returns the row-major index of a coordinate, or -1 if out of bounds.
func (g *Grid) Index(x, y int) int {
	if !g.InBounds(x, y) {
		return -1
	}
	return y*g.Width + x
}

// At returns the cell at the given coordinate, or nil if out of bounds.
func (g *Grid) At(x, y int) *Cell {
	i := g.Index(x, y)
	if i < 0 {
		return nil
	}
	return &g.Cells[i]
}

// Counts returns the number of tiles per category.
func (g *Grid) Counts() map[Category]int {
	counts := make(map[Category]int)
	for _, c := range g.Cells {
		counts[c.Category]++
	}
	return counts
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, tiles=%d)", g.Width, g.Height, g.Len())
}
