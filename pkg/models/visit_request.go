package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// VisitRequest is the wire form of a confirmed visit, shared by the HTTP API
// and the attendance topic.
type VisitRequest struct {
	EventID   string     `json:"event_id,omitempty"`
	UserID    string     `json:"user_id" validate:"required,max=255"`
	VenueID   string     `json:"venue_id" validate:"required,max=255"`
	VenueName string     `json:"venue_name" validate:"required,max=512"`
	Latitude  float64    `json:"latitude" validate:"latitude"`
	Longitude float64    `json:"longitude" validate:"longitude"`
	VisitedAt *time.Time `json:"visited_at,omitempty"`
}

func (r *VisitRequest) Validate() error {
	return validate.Struct(r)
}

func (r *VisitRequest) ToInput() VisitInput {
	in := VisitInput{
		UserID:    r.UserID,
		VenueID:   r.VenueID,
		VenueName: r.VenueName,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}
	if r.VisitedAt != nil {
		in.VisitedAt = *r.VisitedAt
	}
	in.Normalize()
	return in
}

// ValidationMessages flattens validator errors into field -> rule.
func ValidationMessages(err error) map[string]any {
	out := map[string]any{}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
