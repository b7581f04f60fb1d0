package filter

import (
	"fmt"

	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/spatial"
	"github.com/kartikbazzad/bundoc/value"
)

// SpatialMode distinguishes the four spatial query shapes (§4.7.5).
type SpatialMode int

const (
	SpatialWithin SpatialMode = iota
	SpatialIntersects
	SpatialNear
	SpatialKNearest
)

// SpatialFilter matches documents whose indexed geometry field satisfies a
// spatial predicate. Without a spatial index the full-scan fallback
// evaluates the predicate on each document's bounding box, which matches
// what the index itself would prune on.
type SpatialFilter struct {
	field  string
	mode   SpatialMode
	geom   spatial.Geometry
	center spatial.Point
	radius float64
	k      int
}

// Within matches documents whose geometry lies entirely inside g's
// bounding box.
func Within(field string, g spatial.Geometry) Filter {
	return &SpatialFilter{field: field, mode: SpatialWithin, geom: g}
}

// Intersects matches documents whose geometry's bounding box shares any
// area with g's.
func Intersects(field string, g spatial.Geometry) Filter {
	return &SpatialFilter{field: field, mode: SpatialIntersects, geom: g}
}

// Near matches documents whose geometry lies within radius of center.
func Near(field string, center spatial.Point, radius float64) Filter {
	return &SpatialFilter{field: field, mode: SpatialNear, center: center, radius: radius}
}

// KNearest matches the k documents whose geometry is closest to center.
// Only meaningful against a spatial index; as a full-scan fallback it
// degrades to sorting all geometry-bearing documents by distance.
func KNearest(field string, center spatial.Point, k int) Filter {
	return &SpatialFilter{field: field, mode: SpatialKNearest, center: center, k: k}
}

func (f *SpatialFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	g, err := spatial.ValueToGeometry(v)
	if err != nil {
		return false
	}
	box := g.BBox()
	switch f.mode {
	case SpatialWithin:
		return f.geom.BBox().Contains(box)
	case SpatialIntersects:
		return f.geom.BBox().Intersects(box)
	case SpatialNear:
		return spatial.Distance(box.Center(), f.center) <= f.radius
	case SpatialKNearest:
		// k-nearest is a ranking, not a per-document predicate; the
		// executor intercepts this mode before full-scan evaluation.
		return true
	default:
		return false
	}
}

func (f *SpatialFilter) Field() (string, bool)         { return f.field, true }
func (f *SpatialFilter) IndexType() (index.Type, bool) { return index.Spatial, true }

func (f *SpatialFilter) String() string {
	switch f.mode {
	case SpatialWithin:
		return fmt.Sprintf("%s WITHIN %v", f.field, f.geom.BBox())
	case SpatialIntersects:
		return fmt.Sprintf("%s INTERSECTS %v", f.field, f.geom.BBox())
	case SpatialNear:
		return fmt.Sprintf("%s NEAR (%g, %g) r=%g", f.field, f.center.X, f.center.Y, f.radius)
	case SpatialKNearest:
		return fmt.Sprintf("%s KNEAREST (%g, %g) k=%d", f.field, f.center.X, f.center.Y, f.k)
	default:
		return f.field + " SPATIAL?"
	}
}

// Mode exposes the query shape for executor routing.
func (f *SpatialFilter) Mode() SpatialMode { return f.mode }

// Geometry returns the query geometry for within/intersects modes.
func (f *SpatialFilter) Geometry() spatial.Geometry { return f.geom }

// NearParams returns the center/radius/k parameters for near and
// k-nearest modes.
func (f *SpatialFilter) NearParams() (center spatial.Point, radius float64, k int) {
	return f.center, f.radius, f.k
}
