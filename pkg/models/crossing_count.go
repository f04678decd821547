package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/pair"
)

// CrossingCount is how often a pair has co-located at one venue.
type CrossingCount struct {
	ID         string    `json:"id" db:"id"`
	UserLowID  string    `json:"user_low_id" db:"user_low_id"`
	UserHighID string    `json:"user_high_id" db:"user_high_id"`
	VenueID    string    `json:"venue_id" db:"venue_id"`
	VenueName  string    `json:"venue_name" db:"venue_name"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	CrossCount int       `json:"cross_count" db:"cross_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

func (c *CrossingCount) Pair() pair.Pair {
	return pair.Pair{Low: c.UserLowID, High: c.UserHighID}
}

// CrossingTally is the outcome of recording one crossing.
type CrossingTally struct {
	IsNew bool `json:"is_new"`
	Count int  `json:"count"`
}
