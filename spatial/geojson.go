package spatial

import (
	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/value"
)

// ValueToGeometry interprets an indexed field's value as a GeoJSON-shaped
// geometry document: {"type": "Point", "coordinates": [x, y]} and the
// LineString/Polygon/MultiPoint/MultiLineString/MultiPolygon analogues,
// or the Point shorthands: a bare [x, y] array or an {x: …, y: …}
// document. GeoJSON is the convention
// every document-store geometry field in the wild uses, so indexed
// values are expected in this shape rather than a bespoke encoding.
func ValueToGeometry(v value.Value) (Geometry, error) {
	if arr, ok := v.AsArray(); ok && len(arr) == 2 {
		if p, err := pointFromArray(arr); err == nil {
			return p, nil
		}
	}

	doc, ok := v.AsDocument()
	if !ok {
		return nil, dberr.Indexingf("spatial: field is not a geometry document")
	}

	// {x: …, y: …} is the compact point shorthand.
	if xv, hasX := doc.Get("x"); hasX {
		if yv, hasY := doc.Get("y"); hasY {
			x, okX := toFloat(xv)
			y, okY := toFloat(yv)
			if okX && okY {
				return Point{X: x, Y: y}, nil
			}
		}
	}

	typeVal, ok := doc.Get("type")
	if !ok {
		return nil, dberr.Indexingf("spatial: geometry missing \"type\"")
	}
	typeName, ok := typeVal.AsString()
	if !ok {
		return nil, dberr.Indexingf("spatial: geometry \"type\" must be a string")
	}
	coordsVal, ok := doc.Get("coordinates")
	if !ok {
		return nil, dberr.Indexingf("spatial: geometry missing \"coordinates\"")
	}
	coords, ok := coordsVal.AsArray()
	if !ok {
		return nil, dberr.Indexingf("spatial: geometry \"coordinates\" must be an array")
	}

	switch typeName {
	case "Point":
		return pointFromArray(coords)
	case "LineString":
		pts, err := lineFromArray(coords)
		return LineString(pts), err
	case "Polygon":
		return polygonFromRings(coords)
	case "MultiPoint":
		pts, err := lineFromArray(coords)
		return MultiPoint(pts), err
	case "MultiLineString":
		return multiLineFromArray(coords)
	case "MultiPolygon":
		return multiPolygonFromArray(coords)
	default:
		return nil, dberr.Indexingf("spatial: unsupported geometry type %q", typeName)
	}
}

func toFloat(v value.Value) (float64, bool) {
	if v.IsNumeric() {
		return v.AsF64()
	}
	return 0, false
}

func pointFromArray(coords []value.Value) (Point, error) {
	if len(coords) != 2 {
		return Point{}, dberr.Indexingf("spatial: point needs exactly 2 coordinates")
	}
	x, xok := toFloat(coords[0])
	y, yok := toFloat(coords[1])
	if !xok || !yok {
		return Point{}, dberr.Indexingf("spatial: point coordinates must be numeric")
	}
	return Point{X: x, Y: y}, nil
}

func lineFromArray(coords []value.Value) ([]Point, error) {
	pts := make([]Point, len(coords))
	for i, c := range coords {
		arr, ok := c.AsArray()
		if !ok {
			return nil, dberr.Indexingf("spatial: expected a [x, y] coordinate pair")
		}
		p, err := pointFromArray(arr)
		if err != nil {
			return nil, err
		}
		pts[i] = p
	}
	return pts, nil
}

func ringFromArray(coords []value.Value) (Ring, error) {
	pts, err := lineFromArray(coords)
	return Ring(pts), err
}

func polygonFromRings(coords []value.Value) (Polygon, error) {
	if len(coords) == 0 {
		return Polygon{}, dberr.Indexingf("spatial: polygon needs at least an exterior ring")
	}
	extArr, ok := coords[0].AsArray()
	if !ok {
		return Polygon{}, dberr.Indexingf("spatial: polygon ring must be an array")
	}
	ext, err := ringFromArray(extArr)
	if err != nil {
		return Polygon{}, err
	}
	holes := make([]Ring, 0, len(coords)-1)
	for _, h := range coords[1:] {
		hArr, ok := h.AsArray()
		if !ok {
			return Polygon{}, dberr.Indexingf("spatial: polygon hole must be an array")
		}
		ring, err := ringFromArray(hArr)
		if err != nil {
			return Polygon{}, err
		}
		holes = append(holes, ring)
	}
	return Polygon{Exterior: ext, Holes: holes}, nil
}

func multiLineFromArray(coords []value.Value) (MultiLineString, error) {
	out := make(MultiLineString, len(coords))
	for i, c := range coords {
		arr, ok := c.AsArray()
		if !ok {
			return nil, dberr.Indexingf("spatial: multilinestring element must be an array")
		}
		pts, err := lineFromArray(arr)
		if err != nil {
			return nil, err
		}
		out[i] = LineString(pts)
	}
	return out, nil
}

func multiPolygonFromArray(coords []value.Value) (MultiPolygon, error) {
	out := make(MultiPolygon, len(coords))
	for i, c := range coords {
		arr, ok := c.AsArray()
		if !ok {
			return nil, dberr.Indexingf("spatial: multipolygon element must be an array")
		}
		poly, err := polygonFromRings(arr)
		if err != nil {
			return nil, err
		}
		out[i] = poly
	}
	return out, nil
}
