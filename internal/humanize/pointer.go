package humanize

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ErrElementNotVisible is returned when an element has no box to click.
var ErrElementNotVisible = errors.New("element not visible or has no bounds")

// Point is a viewport coordinate.
type Point struct {
	X, Y float64
}

const (
	minPathSteps = 12
	maxPathSteps = 24

	// Clicks land inside the middle 60% of the target box.
	clickMargin = 0.2
)

// ClickElement moves the pointer along a curved path to a random spot inside
// el and clicks it with the left button.
func ClickElement(ctx context.Context, page *rod.Page, el *rod.Element, timing *Timing) error {
	shape, err := el.Shape()
	if err != nil {
		return err
	}
	box := shape.Box()
	if box == nil || box.Width == 0 || box.Height == 0 {
		return ErrElementNotVisible
	}

	target := pointInBox(box)
	pos := page.Mouse.Position()
	steps := minPathSteps + rand.IntN(maxPathSteps-minPathSteps+1)

	for _, p := range curvePath(Point{X: pos.X, Y: pos.Y}, target, steps) {
		if err := page.Mouse.MoveTo(proto.NewPoint(p.X, p.Y)); err != nil {
			return err
		}
		if !SleepWithContext(ctx, timing.PointerStepDelay()) {
			return ctx.Err()
		}
	}

	if !SleepWithContext(ctx, timing.HoverDelay()) {
		return ctx.Err()
	}
	return page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func pointInBox(box *proto.DOMRect) Point {
	return Point{
		X: box.X + box.Width*(clickMargin+rand.Float64()*(1-2*clickMargin)),
		Y: box.Y + box.Height*(clickMargin+rand.Float64()*(1-2*clickMargin)),
	}
}

// curvePath returns steps points on a quadratic Bezier from start to end,
// bent sideways by a random amount and eased at both ends. The last point
// is always end.
func curvePath(start, end Point, steps int) []Point {
	if steps < 2 {
		steps = 2
	}

	dx, dy := end.X-start.X, end.Y-start.Y
	dist := math.Hypot(dx, dy)

	ctrl := Point{X: start.X + dx/2, Y: start.Y + dy/2}
	if dist > 0 {
		bend := dist * (0.1 + rand.Float64()*0.25)
		if rand.IntN(2) == 0 {
			bend = -bend
		}
		ctrl.X += -dy / dist * bend
		ctrl.Y += dx / dist * bend
	}

	path := make([]Point, steps)
	for i := range path {
		t := easeInOut(float64(i) / float64(steps-1))
		mt := 1 - t
		path[i] = Point{
			X: mt*mt*start.X + 2*mt*t*ctrl.X + t*t*end.X,
			Y: mt*mt*start.Y + 2*mt*t*ctrl.Y + t*t*end.Y,
		}
	}
	path[steps-1] = end
	return path
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}
