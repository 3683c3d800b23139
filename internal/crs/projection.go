package crs

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection converts between a CRS and WGS84 longitude/latitude degrees.
type Projection interface {
	// ToWGS84 converts CRS coordinates to WGS84 longitude/latitude.
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude to CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)
}

// Projection returns the projection for the CRS.
func (c CRS) Projection() (Projection, error) {
	if c.Code == CodeWGS84 {
		return identity{}, nil
	}
	if c.Code == CodeWebMercator {
		return webMercator{}, nil
	}
	if zone, south, ok := c.UTMZone(); ok {
		return newUTM(zone, south), nil
	}
	if c.IsZero() {
		return nil, fmt.Errorf("%w: CRS is not set", ErrUnsupported)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, c)
}

// Transform returns an orb projection that maps coordinates from src to dst.
func Transform(src, dst CRS) (orb.Projection, error) {
	from, err := src.Projection()
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	to, err := dst.Projection()
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	if src == dst {
		return func(p orb.Point) orb.Point { return p }, nil
	}

	return func(p orb.Point) orb.Point {
		lon, lat := from.ToWGS84(p[0], p[1])
		x, y := to.FromWGS84(lon, lat)
		return orb.Point{x, y}
	}, nil
}

type identity struct{}

func (identity) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (identity) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }

type webMercator struct{}

func (webMercator) ToWGS84(x, y float64) (lon, lat float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p[0], p[1]
}

func (webMercator) FromWGS84(lon, lat float64) (x, y float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1]
}

const (
	wgs84SemiMajor  = 6378137.0
	wgs84Flattening = 1 / 298.257223563

	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0 // southern hemisphere

	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// krugerSeries holds the 6th order Krüger coefficients for an ellipsoid.
type krugerSeries struct {
	e     float64    // first eccentricity
	a     float64    // rectifying radius
	alpha [7]float64 // forward, 1-based
	beta  [7]float64 // inverse, 1-based
}

var wgs84Series = newKrugerSeries(wgs84SemiMajor, wgs84Flattening)

func newKrugerSeries(a, f float64) krugerSeries {
	n := f / (2 - f)
	n2 := n * n
	n3 := n2 * n
	n4 := n3 * n
	n5 := n4 * n
	n6 := n5 * n

	return krugerSeries{
		e: math.Sqrt(f * (2 - f)),
		a: a / (1 + n) * (1 + n2/4 + n4/64 + n6/256),
		alpha: [7]float64{0,
			n/2 - 2*n2/3 + 5*n3/16 + 41*n4/180 - 127*n5/288 + 7891*n6/37800,
			13*n2/48 - 3*n3/5 + 557*n4/1440 + 281*n5/630 - 1983433*n6/1935360,
			61*n3/240 - 103*n4/140 + 15061*n5/26880 + 167603*n6/181440,
			49561*n4/161280 - 179*n5/168 + 6601661*n6/7257600,
			34729*n5/80640 - 3418889*n6/1995840,
			212378941 * n6 / 319334400,
		},
		beta: [7]float64{0,
			n/2 - 2*n2/3 + 37*n3/96 - n4/360 - 81*n5/512 + 96199*n6/604800,
			n2/48 + n3/15 - 437*n4/1440 + 46*n5/105 - 1118711*n6/3870720,
			17*n3/480 - 37*n4/840 - 209*n5/4480 + 5569*n6/90720,
			4397*n4/161280 - 11*n5/504 - 830251*n6/7257600,
			4583*n5/161280 - 108847*n6/3991680,
			20648693 * n6 / 638668800,
		},
	}
}

// transverseMercator is an ellipsoidal Transverse Mercator projection.
type transverseMercator struct {
	series        krugerSeries
	lon0          float64 // central meridian, degrees
	k0            float64
	falseEasting  float64
	falseNorthing float64
}

func newUTM(zone int, south bool) transverseMercator {
	tm := transverseMercator{
		series:       wgs84Series,
		lon0:         float64(zone-1)*6 - 180 + 3,
		k0:           utmScale,
		falseEasting: utmFalseEasting,
	}
	if south {
		tm.falseNorthing = utmFalseNorthing
	}
	return tm
}

func (p transverseMercator) FromWGS84(lon, lat float64) (x, y float64) {
	s := p.series
	phi := lat * deg2rad
	lambda := math.Remainder(lon-p.lon0, 360) * deg2rad

	cosL, sinL := math.Cos(lambda), math.Sin(lambda)
	tau := math.Tan(phi)
	sigma := math.Sinh(s.e * math.Atanh(s.e*tau/math.Sqrt(1+tau*tau)))
	tauP := tau*math.Sqrt(1+sigma*sigma) - sigma*math.Sqrt(1+tau*tau)

	xiP := math.Atan2(tauP, cosL)
	etaP := math.Asinh(sinL / math.Sqrt(tauP*tauP+cosL*cosL))

	xi, eta := xiP, etaP
	for j := 1; j <= 6; j++ {
		k := 2 * float64(j)
		xi += s.alpha[j] * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += s.alpha[j] * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}

	return p.k0*s.a*eta + p.falseEasting, p.k0*s.a*xi + p.falseNorthing
}

func (p transverseMercator) ToWGS84(x, y float64) (lon, lat float64) {
	s := p.series
	eta := (x - p.falseEasting) / (p.k0 * s.a)
	xi := (y - p.falseNorthing) / (p.k0 * s.a)

	xiP, etaP := xi, eta
	for j := 1; j <= 6; j++ {
		k := 2 * float64(j)
		xiP -= s.beta[j] * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= s.beta[j] * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	sinhEtaP := math.Sinh(etaP)
	sinXiP, cosXiP := math.Sin(xiP), math.Cos(xiP)
	tauP := sinXiP / math.Sqrt(sinhEtaP*sinhEtaP+cosXiP*cosXiP)

	// Newton-Raphson on tau, converges in a few steps
	e2 := s.e * s.e
	tau := tauP
	for i := 0; i < 10; i++ {
		sigma := math.Sinh(s.e * math.Atanh(s.e*tau/math.Sqrt(1+tau*tau)))
		tauI := tau*math.Sqrt(1+sigma*sigma) - sigma*math.Sqrt(1+tau*tau)
		delta := (tauP - tauI) / math.Sqrt(1+tauI*tauI) *
			(1 + (1-e2)*tau*tau) / ((1 - e2) * math.Sqrt(1+tau*tau))
		tau += delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}

	lat = math.Atan(tau) * rad2deg
	lon = p.lon0 + math.Atan2(sinhEtaP, cosXiP)*rad2deg
	return lon, lat
}
