// Package geometry provides the pixel-space primitives shared by the
// detection and removal stages: axis-aligned boxes, overlap metrics and
// small clustering helpers.
package geometry

// Box is an axis-aligned rectangle in pixel coordinates. X2 and Y2 are
// exclusive, so Width and Height are X2-X1 and Y2-Y1.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Valid reports whether the box has positive extent on both axes.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Area returns the covered area in pixels, or 0 for an invalid box.
func (b Box) Area() int {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center returns the box midpoint.
func (b Box) Center() (x, y float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// Clamp constrains the box to an image of the given dimensions while
// keeping at least one pixel of extent.
func (b Box) Clamp(w, h int) Box {
	c := b
	c.X1 = clamp(c.X1, 0, w-1)
	c.Y1 = clamp(c.Y1, 0, h-1)
	c.X2 = clamp(c.X2, c.X1+1, w)
	c.Y2 = clamp(c.Y2, c.Y1+1, h)
	return c
}

// IoU returns the intersection-over-union of two boxes in [0,1].
// Disjoint boxes score 0; a valid box scores 1 against itself.
func (b Box) IoU(o Box) float64 {
	ix1 := max(b.X1, o.X1)
	iy1 := max(b.Y1, o.Y1)
	ix2 := min(b.X2, o.X2)
	iy2 := min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := float64((ix2 - ix1) * (iy2 - iy1))
	union := float64(b.Area()+o.Area()) - inter
	return inter / (union + 1e-6)
}

// Average returns the arithmetic mean box of the given boxes. The zero
// Box is returned for an empty slice.
func Average(boxes []Box) Box {
	if len(boxes) == 0 {
		return Box{}
	}
	var x1, y1, x2, y2 int
	for _, b := range boxes {
		x1 += b.X1
		y1 += b.Y1
		x2 += b.X2
		y2 += b.Y2
	}
	n := len(boxes)
	return Box{X1: x1 / n, Y1: y1 / n, X2: x2 / n, Y2: y2 / n}
}

// WeightedAverage returns the weight-proportional mean box. Weights must
// be non-negative; a zero total weight falls back to Average.
func WeightedAverage(boxes []Box, weights []float64) Box {
	if len(boxes) == 0 {
		return Box{}
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return Average(boxes)
	}
	var x1, y1, x2, y2 float64
	for i, b := range boxes {
		w := weights[i] / total
		x1 += float64(b.X1) * w
		y1 += float64(b.Y1) * w
		x2 += float64(b.X2) * w
		y2 += float64(b.Y2) * w
	}
	return Box{X1: int(x1), Y1: int(y1), X2: int(x2), Y2: int(y2)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
