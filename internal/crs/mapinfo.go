package crs

import (
	"fmt"
	"strconv"
	"strings"
)

// MapInfo projection and datum numbers.
const (
	mapinfoLongLat       = 1
	mapinfoTransMercator = 8
	mapinfoMercator      = 10
	mapinfoDatumWGS84    = 104
	mapinfoDatumSphere   = 157 // WGS 84 sphere, used by popular visualisation mercator
)

// FromMapInfo maps a MapInfo "CoordSys Earth Projection ..." clause to a CRS.
func FromMapInfo(clause string) (CRS, error) {
	fields := strings.Fields(clause)
	if len(fields) > 0 && strings.EqualFold(fields[0], "CoordSys") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return CRS{}, fmt.Errorf("%w: empty CoordSys clause", ErrUnsupported)
	}
	if !strings.EqualFold(fields[0], "Earth") {
		return CRS{}, fmt.Errorf("%w: CoordSys %s", ErrUnsupported, fields[0])
	}
	if len(fields) < 2 || !strings.EqualFold(fields[1], "Projection") {
		return CRS{}, fmt.Errorf("%w: CoordSys without projection", ErrUnsupported)
	}

	// Everything up to Bounds or Affine is the comma separated parameter list.
	var list []string
	for _, f := range fields[2:] {
		if strings.EqualFold(f, "Bounds") || strings.EqualFold(f, "Affine") {
			break
		}
		list = append(list, f)
	}

	var params []string
	for _, p := range strings.Split(strings.Join(list, " "), ",") {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			params = append(params, p)
		}
	}
	if len(params) < 2 {
		return CRS{}, fmt.Errorf("%w: incomplete CoordSys %q", ErrUnsupported, clause)
	}

	proj, err1 := strconv.Atoi(params[0])
	datum, err2 := strconv.Atoi(params[1])
	if err1 != nil || err2 != nil {
		return CRS{}, fmt.Errorf("invalid CoordSys %q", clause)
	}

	switch {
	case proj == mapinfoLongLat && datum == mapinfoDatumWGS84:
		return WGS84, nil

	case proj == mapinfoMercator && datum == mapinfoDatumSphere:
		return WebMercator, nil

	case proj == mapinfoTransMercator && datum == mapinfoDatumWGS84:
		// units, origin longitude, origin latitude, scale, false easting, false northing
		if len(params) < 8 {
			return CRS{}, fmt.Errorf("%w: incomplete transverse mercator %q", ErrUnsupported, clause)
		}
		if !strings.EqualFold(params[2], "m") {
			return CRS{}, fmt.Errorf("%w: units %q", ErrUnsupported, params[2])
		}
		var v [5]float64
		for i := range v {
			f, err := strconv.ParseFloat(params[3+i], 64)
			if err != nil {
				return CRS{}, fmt.Errorf("invalid CoordSys parameter %q", params[3+i])
			}
			v[i] = f
		}
		return utmFromParameters(v[0], v[1], v[2], v[3], v[4])
	}

	return CRS{}, fmt.Errorf("%w: MapInfo projection %d datum %d", ErrUnsupported, proj, datum)
}
