package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/wroge/wgs84"
)

// UTMZone returns the UTM zone number and hemisphere for a lng/lat
// coordinate, including the Norway and Svalbard zone exceptions.
func UTMZone(lng, lat float64) (zone int, northern bool) {
	zone = int((lng+180)/6)%60 + 1

	// Zone 32 is widened over southern Norway.
	if lat >= 56 && lat < 64 && lng >= 3 && lng < 12 {
		zone = 32
	}
	// Svalbard uses zones 31, 33, 35, 37 only.
	if lat >= 72 && lat < 84 {
		switch {
		case lng >= 0 && lng < 9:
			zone = 31
		case lng >= 9 && lng < 21:
			zone = 33
		case lng >= 21 && lng < 33:
			zone = 35
		case lng >= 33 && lng < 42:
			zone = 37
		}
	}
	return zone, lat >= 0
}

// UTMEPSG selects the local UTM EPSG code for a WGS84 polygon from its
// centroid: 32600 + zone for the northern hemisphere, 32700 + zone for
// the southern.
func UTMEPSG(p orb.Polygon) (int, error) {
	if len(p) == 0 || len(p[0]) < 4 {
		return 0, fmt.Errorf("geo: polygon has no usable exterior ring")
	}
	centroid, _ := planar.CentroidArea(p)
	zone, northern := UTMZone(centroid[0], centroid[1])
	epsg := 32600 + zone
	if !northern {
		epsg += 100
	}
	return epsg, nil
}

// EPSGZone splits a UTM EPSG code back into zone number and hemisphere.
func EPSGZone(epsg int) (zone int, northern bool, err error) {
	switch {
	case epsg > 32600 && epsg <= 32660:
		return epsg - 32600, true, nil
	case epsg > 32700 && epsg <= 32760:
		return epsg - 32700, false, nil
	}
	return 0, false, fmt.Errorf("geo: %d is not a UTM EPSG code", epsg)
}

// LonLatToUTM returns a transform from WGS84 lng/lat into the given UTM
// zone. All points go through the same zone, so geometry near a zone
// boundary stays on one consistent grid.
func LonLatToUTM(zone int, northern bool) wgs84.Func {
	return wgs84.LonLat().To(wgs84.UTM(float64(zone), northern))
}

// UTMToLonLat is the inverse of LonLatToUTM.
func UTMToLonLat(zone int, northern bool) wgs84.Func {
	return wgs84.UTM(float64(zone), northern).To(wgs84.LonLat())
}

// LonLatToMercator transforms WGS84 lng/lat into web mercator (EPSG:3857),
// the serving projection.
func LonLatToMercator() wgs84.Func {
	return wgs84.LonLat().To(wgs84.WebMercator())
}

// MercatorToUTM transforms web mercator coordinates into the given UTM
// zone, used when warping stacked rasters to the serving projection.
func MercatorToUTM(zone int, northern bool) wgs84.Func {
	return wgs84.WebMercator().To(wgs84.UTM(float64(zone), northern))
}

// TransformPolygon applies a coordinate transform to every point of a
// polygon, returning a new polygon.
func TransformPolygon(p orb.Polygon, f wgs84.Func) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		r := make(orb.Ring, len(ring))
		for j, pt := range ring {
			x, y, _ := f(pt[0], pt[1], 0)
			r[j] = orb.Point{x, y}
		}
		out[i] = r
	}
	return out
}

// UTMWKT renders an OGC WKT description of a UTM spatial reference. It is
// carried in work items and manifests so consumers can stitch together
// outputs from chunks in different zones.
func UTMWKT(epsg int) (string, error) {
	zone, northern, err := EPSGZone(epsg)
	if err != nil {
		return "", err
	}
	hemi := "N"
	falseNorthing := 0.0
	if !northern {
		hemi = "S"
		falseNorthing = 10000000
	}
	meridian := zone*6 - 183
	return fmt.Sprintf(`PROJCS["WGS 84 / UTM zone %d%s",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",%d],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",%.0f],UNIT["metre",1],AUTHORITY["EPSG","%d"]]`,
		zone, hemi, meridian, falseNorthing, epsg), nil
}
