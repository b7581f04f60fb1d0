// Package spatial implements bundoc's disk-backed spatial index: a
// page-addressed R-tree with an LRU page cache, checksum-verified reads,
// a reusable free list, and Sort-Tile-Recursive (STR) bulk loading. No
// example repo in the retrieval pack carries a spatial index — the page
// layout and cache contract below are ported from the Rust original this
// spec distills from (see DESIGN.md), expressed in the structural idiom
// of this module's own storage package (fixed-size pages, a pager doing
// raw file I/O, a container/list LRU).
package spatial

import "math"

// Point is a single (x, y) coordinate.
type Point struct{ X, Y float64 }

// Circle is a center point plus radius.
type Circle struct {
	Center Point
	Radius float64
}

// Ring is a closed sequence of points; the first ring of a Polygon is its
// exterior, subsequent rings are holes.
type Ring []Point

// Polygon is an exterior ring plus zero or more hole rings.
type Polygon struct {
	Exterior Ring
	Holes    []Ring
}

// LineString is an open or closed sequence of points.
type LineString []Point

// MultiPoint is a collection of independent points.
type MultiPoint []Point

// MultiLineString is a collection of independent line strings.
type MultiLineString []LineString

// MultiPolygon is a collection of independent polygons.
type MultiPolygon []Polygon

// Envelope is an axis-aligned rectangle, given directly rather than
// derived from a shape — the common query-window geometry.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// Geometry is implemented by every shape the spatial index can store or
// query with; BBox is the only operation the index itself needs.
type Geometry interface {
	BBox() BBox
}

func (p Point) BBox() BBox { return BBox{p.X, p.Y, p.X, p.Y} }

func (c Circle) BBox() BBox {
	return BBox{c.Center.X - c.Radius, c.Center.Y - c.Radius, c.Center.X + c.Radius, c.Center.Y + c.Radius}
}

func ringBBox(r Ring) BBox {
	if len(r) == 0 {
		return BBox{}
	}
	b := BBox{r[0].X, r[0].Y, r[0].X, r[0].Y}
	for _, p := range r[1:] {
		b = b.ExpandPoint(p)
	}
	return b
}

func (p Polygon) BBox() BBox { return ringBBox(p.Exterior) }

func (l LineString) BBox() BBox { return ringBBox(Ring(l)) }

func (mp MultiPoint) BBox() BBox { return ringBBox(Ring(mp)) }

func (ml MultiLineString) BBox() BBox {
	var b BBox
	first := true
	for _, l := range ml {
		lb := l.BBox()
		if first {
			b, first = lb, false
			continue
		}
		b = b.Union(lb)
	}
	return b
}

func (mp MultiPolygon) BBox() BBox {
	var b BBox
	first := true
	for _, p := range mp {
		pb := p.BBox()
		if first {
			b, first = pb, false
			continue
		}
		b = b.Union(pb)
	}
	return b
}

func (e Envelope) BBox() BBox { return BBox{e.MinX, e.MinY, e.MaxX, e.MaxY} }

// EnvelopeOf returns the bounding envelope of a circle of radius r
// centered at c, used by Near to degrade to a Within query (§4.7.5).
func EnvelopeOf(c Point, r float64) Envelope {
	return Envelope{c.X - r, c.Y - r, c.X + r, c.Y + r}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
