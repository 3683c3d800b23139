// Package crs identifies coordinate reference systems by EPSG code and converts
// coordinates between the systems the grid generator supports.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Well known EPSG codes.
const (
	CodeWGS84       = 4326
	CodeWebMercator = 3857
	CodeUTMNorth    = 32600 // + zone
	CodeUTMSouth    = 32700 // + zone
)

var (
	// WGS84 is the geographic longitude/latitude system (EPSG:4326).
	WGS84 = CRS{Code: CodeWGS84}
	// WebMercator is the spherical pseudo-Mercator used by web maps (EPSG:3857).
	WebMercator = CRS{Code: CodeWebMercator}
)

// ErrUnsupported is returned for CRS identifiers that have no projection here.
var ErrUnsupported = errors.New("unsupported coordinate reference system")

// CRS is a coordinate reference system identified by its EPSG code.
// The zero value means the CRS is unset.
type CRS struct {
	Code int
}

// EPSG returns the CRS with the given EPSG code.
func EPSG(code int) CRS {
	return CRS{Code: code}
}

// UTM returns the WGS84 UTM CRS for a zone (1..60) and hemisphere.
func UTM(zone int, south bool) CRS {
	if south {
		return CRS{Code: CodeUTMSouth + zone}
	}
	return CRS{Code: CodeUTMNorth + zone}
}

// IsZero reports whether the CRS is unset.
func (c CRS) IsZero() bool {
	return c.Code == 0
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) IsGeographic() bool {
	return c.Code == CodeWGS84
}

// UTMZone returns the zone and hemisphere of a WGS84 UTM CRS.
func (c CRS) UTMZone() (zone int, south bool, ok bool) {
	switch {
	case c.Code > CodeUTMNorth && c.Code <= CodeUTMNorth+60:
		return c.Code - CodeUTMNorth, false, true
	case c.Code > CodeUTMSouth && c.Code <= CodeUTMSouth+60:
		return c.Code - CodeUTMSouth, true, true
	}
	return 0, false, false
}

// String returns the "EPSG:<code>" form, or "unset".
func (c CRS) String() string {
	if c.IsZero() {
		return "unset"
	}
	return "EPSG:" + strconv.Itoa(c.Code)
}

// Validate checks that the CRS is set and has a projection.
func (c CRS) Validate() error {
	if c.IsZero() {
		return errors.New("coordinate reference system is not set")
	}
	_, err := c.Projection()
	return err
}

// Parse reads a CRS identifier. Accepted forms are "EPSG:32629", "32629",
// "urn:ogc:def:crs:EPSG::32629", "CRS84", "urn:ogc:def:crs:OGC:1.3:CRS84" and "WGS84".
func Parse(s string) (CRS, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return CRS{}, errors.New("empty CRS identifier")
	}

	upper := strings.ToUpper(v)
	switch upper {
	case "WGS84", "WGS 84", "CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "URN:OGC:DEF:CRS:OGC::CRS84":
		return WGS84, nil
	}

	code := upper
	switch {
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		code = strings.TrimPrefix(upper, "URN:OGC:DEF:CRS:EPSG:")
		// urn form may carry a version: EPSG:6.6:4326 or EPSG::4326
		if i := strings.LastIndex(code, ":"); i >= 0 {
			code = code[i+1:]
		}
	case strings.HasPrefix(upper, "EPSG:"):
		code = strings.TrimPrefix(upper, "EPSG:")
	}

	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n <= 0 {
		return CRS{}, fmt.Errorf("invalid CRS identifier %q", s)
	}

	c := CRS{Code: n}
	if _, err := c.Projection(); err != nil {
		return CRS{}, err
	}
	return c, nil
}

// UTMZoneFor returns the WGS84 UTM CRS covering a longitude/latitude,
// including the Norway and Svalbard zone exceptions.
func UTMZoneFor(lon, lat float64) CRS {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	lon -= 180

	zone := int(math.Floor((lon+180)/6)) + 1
	if zone > 60 {
		zone = 60
	}

	switch {
	case lat >= 56 && lat < 64 && lon >= 3 && lon < 12:
		zone = 32
	case lat >= 72 && lat < 84 && lon >= 0:
		switch {
		case lon < 9:
			zone = 31
		case lon < 21:
			zone = 33
		case lon < 33:
			zone = 35
		case lon < 42:
			zone = 37
		}
	}

	return UTM(zone, lat < 0)
}
