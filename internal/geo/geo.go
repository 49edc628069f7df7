// Package geo converts server positions to and from simplefeatures geometry.
//
// World coordinates are stored as-is, without a spatial reference. SQLite has
// no spatial awareness, so geometry columns hold WKB and are read back through
// the geom Scan implementation.
package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bzforge/bzfs/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PointFromPosition builds an XYZ point.
func PointFromPosition(p core.Position3D) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: float64(p.X), Y: float64(p.Y)},
		Z:    float64(p.Z),
		Type: geom.DimXYZ,
	})
}

// PositionFromPoint reverses PointFromPosition. An empty point yields the origin.
func PositionFromPoint(pt geom.Point) core.Position3D {
	c, ok := pt.Coordinates()
	if !ok {
		return core.Position3D{}
	}
	return core.Position3D{X: float32(c.X), Y: float32(c.Y), Z: float32(c.Z)}
}

// PositionFromString parses "x,y" or "x,y,z".
func PositionFromString(coords string) (core.Position3D, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	var v [3]float32
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return core.Position3D{}, ErrInvalidCoordinates
		}
		v[i] = float32(f)
	}
	return core.Position3D{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Track builds an XYZ line string through the given positions. Fewer than two
// positions give an empty line string.
func Track(positions []core.Position3D) geom.LineString {
	if len(positions) < 2 {
		return geom.LineString{}.ForceCoordinatesType(geom.DimXYZ)
	}
	flat := make([]float64, 0, len(positions)*3)
	for _, p := range positions {
		flat = append(flat, float64(p.X), float64(p.Y), float64(p.Z))
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXYZ))
}

// ParseTrack reads a WKT line string back into positions.
func ParseTrack(wkt string) ([]core.Position3D, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return nil, err
	}
	ls, ok := g.AsLineString()
	if !ok {
		return nil, ErrInvalidCoordinates
	}
	seq := ls.Coordinates()
	out := make([]core.Position3D, 0, seq.Length())
	for i := 0; i < seq.Length(); i++ {
		c := seq.Get(i)
		out = append(out, core.Position3D{X: float32(c.X), Y: float32(c.Y), Z: float32(c.Z)})
	}
	return out, nil
}
