// Package tracking forecasts where a node will be after a short interval,
// assuming it keeps its current ground speed and track.
package tracking

import (
	"math"
	"time"

	"github.com/unklstewy/los-relay/pkg/coordinates"
)

// MaxForecastSeconds bounds the interval over which the flat-Earth
// extrapolation is considered usable at mid-latitudes.
const MaxForecastSeconds = 20 * 60.0

// PredictedPosition represents a node's forecast position.
type PredictedPosition struct {
	// Position is the forecast geographic location
	Position coordinates.Geographic `json:"position"`

	// PredictionTime is when this prediction is valid
	PredictionTime time.Time `json:"prediction_time"`

	// Confidence is a measure of prediction reliability (0-1)
	Confidence float64 `json:"confidence"`

	// Moved is false when velocity or heading was unknown and the
	// original position was returned unchanged.
	Moved bool `json:"moved"`
}

// Extrapolate moves a position along a constant heading for elapsedSeconds.
//
// velocity is ground speed in meters per second and heading is the true
// track in degrees clockwise from north. When either is nil there is not
// enough data to guess, and pos is returned unchanged. elapsedSeconds may be
// negative to extrapolate backward.
//
// The displacement is computed on a local flat plane and converted to a
// latitude/longitude delta on a sphere of radius EarthRadiusMeters, with the
// east component divided by cos(latitude). Accuracy degrades for long
// intervals and near the poles, where the longitude delta blows up; no
// error is raised for such inputs. Altitude is carried through unchanged.
func Extrapolate(pos coordinates.Geographic, velocity, heading *float64, elapsedSeconds float64) coordinates.Geographic {
	if velocity == nil || heading == nil {
		return pos
	}

	distance := *velocity * elapsedSeconds
	trackRad := *heading * coordinates.DegreesToRadians

	deltaN := distance * math.Cos(trackRad)
	deltaE := distance * math.Sin(trackRad)

	R := coordinates.EarthRadiusMeters
	return coordinates.Geographic{
		Latitude:  pos.Latitude + (deltaN/R)*coordinates.RadiansToDegrees,
		Longitude: pos.Longitude + (deltaE/(R*math.Cos(pos.Latitude*coordinates.DegreesToRadians)))*coordinates.RadiansToDegrees,
		Altitude:  pos.Altitude,
	}
}

// ExtrapolateAt forecasts pos, observed at time from, to time to.
func ExtrapolateAt(pos coordinates.Geographic, velocity, heading *float64, from, to time.Time) coordinates.Geographic {
	return Extrapolate(pos, velocity, heading, to.Sub(from).Seconds())
}

// Confidence scores a forecast by the length of the interval: 1.0 at zero,
// falling linearly to 0 at MaxForecastSeconds in either direction.
func Confidence(elapsedSeconds float64) float64 {
	return math.Max(0.0, 1.0-math.Abs(elapsedSeconds)/MaxForecastSeconds)
}

// Predict forecasts pos from observedAt to predictionTime and attaches a
// confidence score.
func Predict(pos coordinates.Geographic, velocity, heading *float64, observedAt, predictionTime time.Time) PredictedPosition {
	deltaT := predictionTime.Sub(observedAt).Seconds()
	moved := velocity != nil && heading != nil

	confidence := Confidence(deltaT)
	if !moved && deltaT != 0 {
		// Position is stale by deltaT and we could not move it
		confidence *= 0.5
	}

	return PredictedPosition{
		Position:       Extrapolate(pos, velocity, heading, deltaT),
		PredictionTime: predictionTime,
		Confidence:     confidence,
		Moved:          moved,
	}
}
