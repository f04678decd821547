package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/pair"
)

// CrossedPathRelationship records that a pair has crossed paths somewhere.
// The venue fields reflect the crossing that created the row and are never refreshed.
type CrossedPathRelationship struct {
	ID         string    `json:"id" db:"id"`
	UserLowID  string    `json:"user_low_id" db:"user_low_id"`
	UserHighID string    `json:"user_high_id" db:"user_high_id"`
	VenueID    string    `json:"venue_id" db:"venue_id"`
	VenueName  string    `json:"venue_name" db:"venue_name"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

func (r *CrossedPathRelationship) Pair() pair.Pair {
	return pair.Pair{Low: r.UserLowID, High: r.UserHighID}
}

// RelationshipOutcome reports whether EnsureRelationship inserted the row.
type RelationshipOutcome struct {
	Created bool `json:"created"`
}
