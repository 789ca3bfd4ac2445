package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/trafficlab/egorecorder/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Simulator positions are local meters in a left-handed frame (y grows to the
// south). Stored points are either the raw world XY or, when a map origin is
// configured, EPSG:4326 longitude/latitude.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Position3DFromString parses a "long,lat" or "long,lat,elev" string into a core.Position3D.
func Position3DFromString(coords string) (core.Position3D, error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) < 2 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	var elev float64
	if len(coordsSplit) > 2 {
		elev, err = strconv.ParseFloat(strings.TrimSpace(coordsSplit[2]), 64)
		if err != nil {
			return core.Position3D{}, ErrInvalidCoordinates
		}
	}
	if math.Abs(lat) > 90 || math.Abs(long) > 180 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	return core.Position3D{X: long, Y: lat, Z: elev}, nil
}

// WorldPoint stores a world position as an XYZ point in simulator meters.
// Non-finite coordinates are rejected.
func WorldPoint(p core.Position3D) (geom.Point, error) {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: p.X, Y: p.Y},
			Z:    p.Z,
			Type: geom.DimXYZ,
		},
	)
}

// Projector places the simulator's local frame on the globe. The world
// origin maps to the configured longitude/latitude.
type Projector struct {
	originX, originY float64 // EPSG:3857 meters
	scale            float64
	toGeo            func(a, b, c float64) (float64, float64, float64)
}

// NewProjector creates a projector anchored at origin ("long,lat" as X/Y).
func NewProjector(origin core.Position3D) *Projector {
	epsg := wgs84.EPSG()
	x, y, _ := epsg.Transform(4326, 3857)(origin.X, origin.Y, 0)
	return &Projector{
		originX: x,
		originY: y,
		// web mercator stretches distances by 1/cos(lat)
		scale: 1 / math.Cos(origin.Y*math.Pi/180),
		toGeo: epsg.Transform(3857, 4326),
	}
}

// LonLat converts a world position to longitude and latitude.
func (p *Projector) LonLat(pos core.Position3D) (lon, lat float64) {
	x := p.originX + pos.X*p.scale
	y := p.originY - pos.Y*p.scale
	lon, lat, _ = p.toGeo(x, y, 0)
	return lon, lat
}

// Point converts a world position to an EPSG:4326 point, keeping z as elevation.
// Non-finite positions are rejected.
func (p *Projector) Point(pos core.Position3D) (geom.Point, error) {
	lon, lat := p.LonLat(pos)
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: lon, Y: lat},
			Z:    pos.Z,
			Type: geom.DimXYZ,
		},
	)
}
