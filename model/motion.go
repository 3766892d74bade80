package model

import "strings"

// Direction is one of the eight compass points a swarm can travel towards.
type Direction string

const (
	North     Direction = "N"
	NorthEast Direction = "NE"
	East      Direction = "E"
	SouthEast Direction = "SE"
	South     Direction = "S"
	SouthWest Direction = "SW"
	West      Direction = "W"
	NorthWest Direction = "NW"
)

// Directions lists the compass points in clockwise order starting at north.
var Directions = []Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

// ParseDirection maps a free-form string onto a Direction. Matching is
// case-insensitive and ignores surrounding whitespace; anything unrecognised
// becomes North.
func ParseDirection(s string) Direction {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if d.Known() {
		return d
	}
	return North
}

// Known reports whether d is one of the eight compass points.
func (d Direction) Known() bool {
	for _, known := range Directions {
		if d == known {
			return true
		}
	}
	return false
}

// MotionConfig parameterises the motion integrator.
type MotionConfig struct {
	SpeedMph  float64
	Direction Direction
	Moving    bool
}

// DefaultMotion is a stationary swarm pointed north at walking pace.
var DefaultMotion = MotionConfig{SpeedMph: 5, Direction: North}
