package spatial

import "math"

// BBox is an axis-aligned bounding box, the only geometry the R-tree
// itself stores and compares (§3 "Each has a bounding box").
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Empty reports whether the box has never been expanded (the zero value).
func (b BBox) Empty() bool {
	return b.MinX == 0 && b.MinY == 0 && b.MaxX == 0 && b.MaxY == 0
}

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// ExpandPoint returns b enlarged to contain p.
func (b BBox) ExpandPoint(p Point) BBox {
	return BBox{
		MinX: math.Min(b.MinX, p.X),
		MinY: math.Min(b.MinY, p.Y),
		MaxX: math.Max(b.MaxX, p.X),
		MaxY: math.Max(b.MaxY, p.Y),
	}
}

// Area returns the box's area (0 for degenerate/point boxes).
func (b BBox) Area() float64 {
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
}

// Enlargement returns how much area b would gain to contain o — the R*
// "choose subtree by least enlargement" metric (§4.7.4).
func (b BBox) Enlargement(o BBox) float64 {
	return b.Union(o).Area() - b.Area()
}

// Intersects reports whether b and o share any area (touching edges
// count as intersecting).
func (b BBox) Intersects(o BBox) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX && b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

// Contains reports whether b fully contains o.
func (b BBox) Contains(o BBox) bool {
	return b.MinX <= o.MinX && b.MinY <= o.MinY && b.MaxX >= o.MaxX && b.MaxY >= o.MaxY
}

// ContainsPoint reports whether b contains p, inclusive of its edges.
func (b BBox) ContainsPoint(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Center returns the box's centroid.
func (b BBox) Center() Point {
	return Point{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
}

// MinDistSq returns the minimum squared Euclidean distance from p to the
// nearest point of b — zero if p is inside b. Used by k-nearest's
// priority queue (§4.7.5); squared to avoid a sqrt per comparison.
func (b BBox) MinDistSq(p Point) float64 {
	dx := 0.0
	switch {
	case p.X < b.MinX:
		dx = b.MinX - p.X
	case p.X > b.MaxX:
		dx = p.X - b.MaxX
	}
	dy := 0.0
	switch {
	case p.Y < b.MinY:
		dy = b.MinY - p.Y
	case p.Y > b.MaxY:
		dy = p.Y - b.MaxY
	}
	return dx*dx + dy*dy
}
