// Package grid maps linear cell indices onto a fixed-width grid, and back.
package grid

// GetGridCoords returns the column and row of index in a grid cols wide.
func GetGridCoords(index, cols int) (x, y int) {
	return index % cols, index / cols
}

// GetIndex is the inverse of GetGridCoords. It returns -1 when x is outside
// the row or either coordinate is negative.
func GetIndex(x, y, cols int) int {
	if x < 0 || y < 0 || x >= cols {
		return -1
	}
	return y*cols + x
}

// Rows returns the number of rows needed to hold n cells.
func Rows(n, cols int) int {
	return (n + cols - 1) / cols
}

// Grid is a layout of square-ish cells in pixels.
type Grid struct {
	Cols  int
	CellW int
	CellH int
	// Gap is the spacing left between neighbouring cells.
	Gap int
}

func (g Grid) pitchX() int { return g.CellW + g.Gap }
func (g Grid) pitchY() int { return g.CellH + g.Gap }

// CellAt returns the top-left pixel of cell index.
func (g Grid) CellAt(index int) (px, py int) {
	x, y := GetGridCoords(index, g.Cols)
	return x * g.pitchX(), y * g.pitchY()
}

// IndexAt returns the cell under pixel (px, py), or -1 for a gap or a point
// outside the first n cells.
func (g Grid) IndexAt(px, py, n int) int {
	if px < 0 || py < 0 {
		return -1
	}
	x, y := px/g.pitchX(), py/g.pitchY()
	if px%g.pitchX() >= g.CellW || py%g.pitchY() >= g.CellH {
		return -1
	}
	i := GetIndex(x, y, g.Cols)
	if i < 0 || i >= n {
		return -1
	}
	return i
}

// Size returns the pixel size of a grid holding n cells.
func (g Grid) Size(n int) (w, h int) {
	return g.Cols * g.pitchX(), Rows(n, g.Cols) * g.pitchY()
}
