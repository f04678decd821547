package models

import (
	"strings"
	"time"
)

// Visit is one confirmed attendance by a user at a venue. Rows are append-only.
type Visit struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	VenueID   string    `json:"venue_id" db:"venue_id"`
	VenueName string    `json:"venue_name" db:"venue_name"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	VisitedAt time.Time `json:"visited_at" db:"visited_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Venue returns the venue reference the visit was made at.
func (v *Visit) Venue() VenueRef {
	return VenueRef{
		ID:        v.VenueID,
		Name:      v.VenueName,
		Latitude:  v.Latitude,
		Longitude: v.Longitude,
	}
}

// VisitInput is the write model handed over by the confirmation workflow.
type VisitInput struct {
	UserID    string
	VenueID   string
	VenueName string
	Latitude  float64
	Longitude float64
	VisitedAt time.Time
}

// Normalize trims ids and defaults the timestamp to now, in UTC.
func (in *VisitInput) Normalize() {
	in.UserID = strings.TrimSpace(in.UserID)
	in.VenueID = strings.TrimSpace(in.VenueID)
	in.VenueName = strings.TrimSpace(in.VenueName)
	if in.VisitedAt.IsZero() {
		in.VisitedAt = time.Now()
	}
	in.VisitedAt = in.VisitedAt.UTC()
}

// Visitor is a user that has visited a venue at least once.
type Visitor struct {
	UserID        string    `json:"user_id"`
	LastVisitedAt time.Time `json:"last_visited_at"`
}

// VenueRef identifies a venue and where it is.
type VenueRef struct {
	ID        string  `json:"venue_id"`
	Name      string  `json:"venue_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
