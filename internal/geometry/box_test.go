package geometry

import (
	"math"
	"testing"
)

func TestBoxDimensions(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 110, Y2: 70}
	if got := b.Width(); got != 100 {
		t.Errorf("Width() = %d, want 100", got)
	}
	if got := b.Height(); got != 50 {
		t.Errorf("Height() = %d, want 50", got)
	}
	if got := b.Area(); got != 5000 {
		t.Errorf("Area() = %d, want 5000", got)
	}
	cx, cy := b.Center()
	if cx != 60 || cy != 45 {
		t.Errorf("Center() = (%v,%v), want (60,45)", cx, cy)
	}
}

func TestBoxValid(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want bool
	}{
		{"normal", Box{0, 0, 10, 10}, true},
		{"zero width", Box{5, 0, 5, 10}, false},
		{"inverted", Box{10, 10, 0, 0}, false},
		{"one pixel", Box{3, 3, 4, 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIoUIdentity(t *testing.T) {
	b := Box{X1: 100, Y1: 100, X2: 300, Y2: 200}
	if got := b.IoU(b); math.Abs(got-1.0) > 1e-4 {
		t.Errorf("IoU(self) = %v, want ~1.0", got)
	}
}

func TestIoUDisjoint(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := a.IoU(b); got != 0 {
		t.Errorf("IoU(disjoint) = %v, want 0", got)
	}
	// Boxes sharing only an edge do not intersect.
	c := Box{X1: 10, Y1: 0, X2: 20, Y2: 10}
	if got := a.IoU(c); got != 0 {
		t.Errorf("IoU(edge-adjacent) = %v, want 0", got)
	}
}

func TestIoUSymmetric(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	b := Box{X1: 50, Y1: 50, X2: 150, Y2: 150}
	if ab, ba := a.IoU(b), b.IoU(a); ab != ba {
		t.Errorf("IoU not symmetric: %v vs %v", ab, ba)
	}
	// 50x50 overlap over 2*10000-2500 union.
	want := 2500.0 / 17500.0
	if got := a.IoU(b); math.Abs(got-want) > 1e-3 {
		t.Errorf("IoU = %v, want ~%v", got, want)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   Box
		w, h int
		want Box
	}{
		{"inside", Box{10, 10, 50, 50}, 100, 100, Box{10, 10, 50, 50}},
		{"overflow", Box{-5, -5, 120, 130}, 100, 100, Box{0, 0, 100, 100}},
		{"collapsed keeps one pixel", Box{99, 99, 99, 99}, 100, 100, Box{99, 99, 100, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(tt.w, tt.h); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAverage(t *testing.T) {
	boxes := []Box{
		{X1: 0, Y1: 0, X2: 10, Y2: 10},
		{X1: 10, Y1: 10, X2: 20, Y2: 20},
		{X1: 20, Y1: 20, X2: 30, Y2: 30},
	}
	want := Box{X1: 10, Y1: 10, X2: 20, Y2: 20}
	if got := Average(boxes); got != want {
		t.Errorf("Average() = %+v, want %+v", got, want)
	}
	if got := Average(nil); got != (Box{}) {
		t.Errorf("Average(nil) = %+v, want zero box", got)
	}
}

func TestWeightedAverageDominantWeight(t *testing.T) {
	boxes := []Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
		{X1: 200, Y1: 200, X2: 300, Y2: 300},
	}
	got := WeightedAverage(boxes, []float64{1, 0})
	if got != boxes[0] {
		t.Errorf("WeightedAverage with single live weight = %+v, want %+v", got, boxes[0])
	}
	// Zero weights degrade to the plain mean.
	got = WeightedAverage(boxes, []float64{0, 0})
	want := Average(boxes)
	if got != want {
		t.Errorf("WeightedAverage with zero weights = %+v, want %+v", got, want)
	}
}

func TestClusterBoxes(t *testing.T) {
	boxes := []Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 100},   // overlaps 1
		{X1: 10, Y1: 10, X2: 110, Y2: 110}, // overlaps 0
		{X1: 500, Y1: 500, X2: 600, Y2: 600},
	}
	groups := ClusterBoxes(boxes, 0.5)
	if len(groups) != 2 {
		t.Fatalf("ClusterBoxes produced %d groups, want 2", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[1]) != 1 {
		t.Errorf("group sizes = %d,%d, want 2,1", len(groups[0]), len(groups[1]))
	}
}

func TestUnionFindTransitive(t *testing.T) {
	uf := NewUnionFind(4)
	uf.Union(0, 1)
	uf.Union(1, 2)
	if uf.Find(0) != uf.Find(2) {
		t.Error("0 and 2 should share a root after chained unions")
	}
	if uf.Find(3) == uf.Find(0) {
		t.Error("3 should remain a singleton")
	}
}
