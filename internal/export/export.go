// Package export writes a board's objects to an image or vector file.
package export

import (
	"fmt"
	"image/color"
	"log"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers"

	board "drawing-board/internal/canvas"
)

// Unit is the size in millimeters of one board unit
const Unit = 2.0

// margin in board units around the drawing
const margin = 1.0

var background = color.RGBA{0xff, 0xff, 0xff, 0xff}

type shape struct {
	points []board.Point
	closed bool
	style  board.Style
}

// Write renders objs to filename. The format follows the extension, e.g.
// ".png" or ".svg".
func Write(filename string, objs []board.Object) error {
	if err := renderers.Write(filename, Canvas(objs)); err != nil {
		return fmt.Errorf("export %s: %w", filename, err)
	}
	return nil
}

// Canvas lays objs out on a white canvas just large enough to hold them.
// Objects whose geometry cannot be decoded are skipped.
func Canvas(objs []board.Object) *canvas.Canvas {
	shapes := make([]shape, 0, len(objs))
	for _, obj := range objs {
		s, err := shapeOf(obj)
		if err != nil {
			log.Printf("[Export] Skipping object %s: %v", obj.ID, err)
			continue
		}
		if len(s.points) > 0 {
			shapes = append(shapes, s)
		}
	}

	minX, minY, maxX, maxY := bounds(shapes)
	w := (maxX - minX + 2*margin) * Unit
	h := (maxY - minY + 2*margin) * Unit
	toX := func(x float64) float64 { return (x - minX + margin) * Unit }
	toY := func(y float64) float64 { return (y - minY + margin) * Unit }

	c := canvas.New(w, h)
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)
	ctx.SetFillColor(background)
	ctx.DrawPath(0, 0, canvas.Rectangle(w, h))

	ctx.SetStrokeCapper(canvas.RoundCap)
	ctx.SetStrokeJoiner(canvas.RoundJoin)
	for _, s := range shapes {
		p := &canvas.Path{}
		p.MoveTo(toX(s.points[0].X), toY(s.points[0].Y))
		for _, pt := range s.points[1:] {
			p.LineTo(toX(pt.X), toY(pt.Y))
		}
		if s.closed {
			p.Close()
		}

		ctx.SetStrokeColor(canvas.Hex(s.style.StrokeColor))
		ctx.SetStrokeWidth(max(s.style.StrokeWidth, 1) * Unit / 4)
		if s.closed && s.style.Fill != "" {
			ctx.SetFillColor(canvas.Hex(s.style.Fill))
		} else {
			ctx.SetFillColor(canvas.Transparent)
		}
		ctx.DrawPath(0, 0, p)
	}
	return c
}

func shapeOf(obj board.Object) (shape, error) {
	s := shape{style: obj.Style}
	switch obj.Kind {
	case board.KindPath:
		var g board.PathGeometry
		if err := obj.DecodeGeometry(&g); err != nil {
			return s, err
		}
		s.points = g.Points
		if len(s.points) == 1 {
			// a single point still leaves a dot with round caps
			s.points = append(s.points, s.points[0])
		}

	case board.KindLine:
		var g board.LineGeometry
		if err := obj.DecodeGeometry(&g); err != nil {
			return s, err
		}
		s.points = []board.Point{{X: g.X1, Y: g.Y1}, {X: g.X2, Y: g.Y2}}

	case board.KindRect:
		var g board.RectGeometry
		if err := obj.DecodeGeometry(&g); err != nil {
			return s, err
		}
		right, bottom := g.Left+g.Width, g.Top+g.Height
		s.points = []board.Point{
			{X: g.Left, Y: g.Top},
			{X: right, Y: g.Top},
			{X: right, Y: bottom},
			{X: g.Left, Y: bottom},
		}
		s.closed = true

	default:
		return s, fmt.Errorf("%w: cannot export kind %q", board.ErrInvalidObject, obj.Kind)
	}
	return s, nil
}

// bounds returns the extent of all shape points, or a single unit at the
// origin when there is nothing to draw.
func bounds(shapes []shape) (minX, minY, maxX, maxY float64) {
	first := true
	for _, s := range shapes {
		for _, pt := range s.points {
			if first {
				minX, maxX, minY, maxY = pt.X, pt.X, pt.Y, pt.Y
				first = false
				continue
			}
			minX, maxX = min(minX, pt.X), max(maxX, pt.X)
			minY, maxY = min(minY, pt.Y), max(maxY, pt.Y)
		}
	}
	if first {
		return 0, 0, 1, 1
	}
	return minX, minY, maxX, maxY
}
