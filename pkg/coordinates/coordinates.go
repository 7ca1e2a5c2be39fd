// Package coordinates provides the spherical-Earth geometry used to decide
// whether two airborne nodes can see each other.
//
// All functions are pure. Inputs are not validated: latitudes outside
// [-90, 90] or longitudes outside [-180, 180] propagate through the math
// without error, and paths crossing the antimeridian are not handled.
package coordinates

import "math"

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusMeters is the mean spherical Earth radius used for
	// distance, horizon and dead-reckoning calculations.
	EarthRadiusMeters = 6371000.0

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048

	// NauticalMilesToMeters converts nautical miles to meters
	NauticalMilesToMeters = 1852.0

	// KnotsToMetersPerSecond converts knots to meters per second
	KnotsToMetersPerSecond = NauticalMilesToMeters / 3600.0
)

// Geographic represents a position on or above Earth's surface.
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64 `json:"lat"`

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64 `json:"lon"`

	// Altitude in meters above the reference surface.
	// Negative values are treated as ground level by the LOS functions.
	Altitude float64 `json:"alt"`
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// Bearing calculates the initial bearing (forward azimuth) from one point to another.
// Returns bearing in degrees (0-360), where 0/360 = North, 90 = East, 180 = South, 270 = West.
func Bearing(from, to Geographic) float64 {
	lat1 := from.Latitude * DegreesToRadians
	lon1 := from.Longitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	lon2 := to.Longitude * DegreesToRadians

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeAzimuth(math.Atan2(y, x) * RadiansToDegrees)
}

// Haversine returns the great-circle distance in meters between two
// latitude/longitude pairs given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * DegreesToRadians
	phi2 := lat2 * DegreesToRadians
	dPhi := (lat2 - lat1) * DegreesToRadians
	dLambda := (lon2 - lon1) * DegreesToRadians

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// DistanceMeters calculates the great-circle distance between two points in meters.
// Altitude is ignored.
func DistanceMeters(from, to Geographic) float64 {
	return Haversine(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}

// DistanceNauticalMiles calculates the great-circle distance between two points.
// Returns distance in nautical miles.
func DistanceNauticalMiles(from, to Geographic) float64 {
	return DistanceMeters(from, to) / NauticalMilesToMeters
}

// HorizonDistance returns the radio horizon distance in meters for a node at
// the given altitude: sqrt(2 * R * h). Altitudes at or below zero have no
// horizon of their own.
func HorizonDistance(altitude float64) float64 {
	if altitude <= 0 {
		return 0
	}
	return math.Sqrt(2 * EarthRadiusMeters * altitude)
}

// MaxLOSRange returns the maximum line-of-sight range in meters between two
// nodes at the given altitudes, the sum of both horizon distances.
//
// A ground-level node (altitude <= 0) contributes nothing, so it can only be
// seen up to the other node's horizon.
func MaxLOSRange(alt1, alt2 float64) float64 {
	return HorizonDistance(alt1) + HorizonDistance(alt2)
}

// InLineOfSight reports whether two positions are within the maximum
// line-of-sight range implied by their altitudes.
func InLineOfSight(a, b Geographic) bool {
	return DistanceMeters(a, b) <= MaxLOSRange(a.Altitude, b.Altitude)
}
