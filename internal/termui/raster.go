package termui

import (
	"fmt"
	"math"

	"drawing-board/internal/canvas"
)

// Cell is one character position on the board
type Cell struct {
	X, Y int
}

// Rasterize returns the cells an object covers, one canvas unit per cell.
// Paths join consecutive points with lines; rects are drawn as outlines.
func Rasterize(obj canvas.Object) ([]Cell, error) {
	switch obj.Kind {
	case canvas.KindPath:
		var g canvas.PathGeometry
		if err := obj.DecodeGeometry(&g); err != nil {
			return nil, err
		}
		return rasterPath(g.Points), nil

	case canvas.KindLine:
		var g canvas.LineGeometry
		if err := obj.DecodeGeometry(&g); err != nil {
			return nil, err
		}
		return bresenham(round(g.X1), round(g.Y1), round(g.X2), round(g.Y2)), nil

	case canvas.KindRect:
		var g canvas.RectGeometry
		if err := obj.DecodeGeometry(&g); err != nil {
			return nil, err
		}
		return rasterRect(g), nil
	}
	return nil, fmt.Errorf("%w: cannot rasterize kind %q", canvas.ErrInvalidObject, obj.Kind)
}

func rasterPath(points []canvas.Point) []Cell {
	switch len(points) {
	case 0:
		return nil
	case 1:
		return []Cell{{round(points[0].X), round(points[0].Y)}}
	}

	var cells []Cell
	for i := 1; i < len(points); i++ {
		seg := bresenham(round(points[i-1].X), round(points[i-1].Y), round(points[i].X), round(points[i].Y))
		if i > 1 {
			seg = seg[1:] // shared with the previous segment
		}
		cells = append(cells, seg...)
	}
	return cells
}

func rasterRect(g canvas.RectGeometry) []Cell {
	left, top := round(g.Left), round(g.Top)
	right, bottom := round(g.Left+g.Width), round(g.Top+g.Height)
	if right < left {
		left, right = right, left
	}
	if bottom < top {
		top, bottom = bottom, top
	}
	if left == right || top == bottom {
		return bresenham(left, top, right, bottom)
	}

	cells := make([]Cell, 0, 2*(right-left+bottom-top))
	for x := left; x <= right; x++ {
		cells = append(cells, Cell{x, top}, Cell{x, bottom})
	}
	for y := top + 1; y < bottom; y++ {
		cells = append(cells, Cell{left, y}, Cell{right, y})
	}
	return cells
}

// bresenham returns the cells of the line from (x0,y0) to (x1,y1), both ends
// included.
func bresenham(x0, y0, x1, y1 int) []Cell {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	cells := make([]Cell, 0, max(dx, -dy)+1)
	err := dx + dy
	for {
		cells = append(cells, Cell{x0, y0})
		if x0 == x1 && y0 == y1 {
			return cells
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func round(f float64) int {
	return int(math.Round(f))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
