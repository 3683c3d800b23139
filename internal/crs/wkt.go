package crs

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const wgs84GeogCS = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],` +
	`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// WKT returns the ESRI flavoured WKT used in Shapefile .prj sidecars.
func (c CRS) WKT() (string, error) {
	if c.Code == CodeWGS84 {
		return wgs84GeogCS, nil
	}

	if c.Code == CodeWebMercator {
		return `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",` + wgs84GeogCS +
			`,PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],` +
			`PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],` +
			`PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`, nil
	}

	if zone, south, ok := c.UTMZone(); ok {
		hemi, northing := "N", 0.0
		if south {
			hemi, northing = "S", utmFalseNorthing
		}
		tm := newUTM(zone, south)
		return fmt.Sprintf(`PROJCS["WGS_1984_UTM_Zone_%d%s",%s,PROJECTION["Transverse_Mercator"],`+
			`PARAMETER["False_Easting",%s],PARAMETER["False_Northing",%s],`+
			`PARAMETER["Central_Meridian",%s],PARAMETER["Scale_Factor",%s],`+
			`PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`,
			zone, hemi, wgs84GeogCS,
			wktNumber(utmFalseEasting), wktNumber(northing),
			wktNumber(tm.lon0), wktNumber(utmScale)), nil
	}

	return "", fmt.Errorf("%w: no WKT for %s", ErrUnsupported, c)
}

func wktNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

var (
	wktAuthority = regexp.MustCompile(`(?i)AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	wktUTMName   = regexp.MustCompile(`(?i)UTM[_ ]zone[_ ](\d{1,2})\s*([NS])`)
	wktParameter = regexp.MustCompile(`(?i)PARAMETER\[\s*"([^"]+)"\s*,\s*([-+0-9.eE]+)\s*\]`)
)

// ParseWKT recognises the WKT definitions written by common GIS tools for the
// systems this package supports.
func ParseWKT(wkt string) (CRS, error) {
	s := strings.TrimSpace(wkt)
	if s == "" {
		return CRS{}, fmt.Errorf("%w: empty WKT", ErrUnsupported)
	}

	// The last authority closes the outermost definition.
	if m := wktAuthority.FindAllStringSubmatch(s, -1); len(m) > 0 {
		code, _ := strconv.Atoi(m[len(m)-1][1])
		c := CRS{Code: code}
		if _, err := c.Projection(); err == nil {
			return c, nil
		}
	}

	upper := strings.ToUpper(s)
	if !isWGS84Datum(upper) {
		return CRS{}, fmt.Errorf("%w: datum is not WGS84", ErrUnsupported)
	}

	if strings.HasPrefix(upper, "GEOGCS") {
		return WGS84, nil
	}

	if !strings.HasPrefix(upper, "PROJCS") {
		return CRS{}, fmt.Errorf("%w: unrecognised WKT", ErrUnsupported)
	}

	if strings.Contains(upper, "MERCATOR_AUXILIARY_SPHERE") ||
		strings.Contains(upper, "PSEUDO_MERCATOR") ||
		strings.Contains(upper, "PSEUDO-MERCATOR") ||
		strings.Contains(upper, "WEB_MERCATOR") {
		return WebMercator, nil
	}

	if m := wktUTMName.FindStringSubmatch(s); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if zone >= 1 && zone <= 60 {
			return UTM(zone, strings.EqualFold(m[2], "S")), nil
		}
	}

	if strings.Contains(upper, "TRANSVERSE_MERCATOR") {
		params := map[string]float64{}
		for _, m := range wktParameter.FindAllStringSubmatch(s, -1) {
			v, err := strconv.ParseFloat(m[2], 64)
			if err == nil {
				params[strings.ToLower(m[1])] = v
			}
		}
		return utmFromParameters(
			params["central_meridian"],
			params["latitude_of_origin"],
			params["scale_factor"],
			params["false_easting"],
			params["false_northing"],
		)
	}

	return CRS{}, fmt.Errorf("%w: unrecognised projection", ErrUnsupported)
}

func isWGS84Datum(upperWKT string) bool {
	for _, name := range []string{"WGS_1984", "WGS 84", "WGS84", "WGS_84"} {
		if strings.Contains(upperWKT, name) {
			return true
		}
	}
	return false
}

// utmFromParameters matches Transverse Mercator parameters against the UTM grid.
func utmFromParameters(lon0, lat0, scale, falseEasting, falseNorthing float64) (CRS, error) {
	const eps = 1e-9

	if math.Abs(lat0) > eps || math.Abs(scale-utmScale) > eps || math.Abs(falseEasting-utmFalseEasting) > eps {
		return CRS{}, fmt.Errorf("%w: transverse mercator parameters are not UTM", ErrUnsupported)
	}

	var south bool
	switch {
	case math.Abs(falseNorthing) < eps:
	case math.Abs(falseNorthing-utmFalseNorthing) < eps:
		south = true
	default:
		return CRS{}, fmt.Errorf("%w: false northing %g is not UTM", ErrUnsupported, falseNorthing)
	}

	z := (lon0 + 183) / 6
	zone := int(math.Round(z))
	if math.Abs(z-float64(zone)) > eps || zone < 1 || zone > 60 {
		return CRS{}, fmt.Errorf("%w: central meridian %g is not a UTM zone meridian", ErrUnsupported, lon0)
	}

	return UTM(zone, south), nil
}
