package crossing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/pair"
)

// ErrInvalidVisit is returned before anything is written when a visit lacks a
// user or venue.
var ErrInvalidVisit = errors.New("invalid visit")

// WriteFailure means the visit was not stored. Nothing else was attempted.
type WriteFailure struct {
	UserID  string
	VenueID string
	Err     error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("failed to record visit for user %s at venue %s: %v", e.UserID, e.VenueID, e.Err)
}

func (e *WriteFailure) Unwrap() error {
	return e.Err
}

// LookupFailure means the venue's other visitors could not be enumerated.
// The visit is stored and pairs reached before the failure stay committed.
type LookupFailure struct {
	VisitID string
	VenueID string
	Err     error
}

func (e *LookupFailure) Error() string {
	return fmt.Sprintf("failed to find visitors of venue %s for visit %s: %v", e.VenueID, e.VisitID, e.Err)
}

func (e *LookupFailure) Unwrap() error {
	return e.Err
}

// Stage names the step a pair update failed in.
type Stage string

const (
	StageCanonicalize Stage = "canonicalize"
	StageLock         Stage = "lock"
	StageCounter      Stage = "counter"
	// StageRelationship failures happen after the counter row was created.
	StageRelationship Stage = "relationship"
	StageCancelled    Stage = "cancelled"
)

// PairUpdateFailure is one pair that could not be updated. It never aborts
// the other pairs of the same visit.
type PairUpdateFailure struct {
	Pair        pair.Pair
	OtherUserID string
	Stage       Stage
	Err         error
}

func (f PairUpdateFailure) Error() string {
	return fmt.Sprintf("pair %s failed at %s: %v", f.Pair, f.Stage, f.Err)
}

func (f PairUpdateFailure) Unwrap() error {
	return f.Err
}

func (f PairUpdateFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Pair        pair.Pair `json:"pair"`
		OtherUserID string    `json:"other_user_id"`
		Stage       Stage     `json:"stage"`
		Error       string    `json:"error"`
	}{f.Pair, f.OtherUserID, f.Stage, msg})
}
