// Package pair gives two users an order independent identity.
//
// Every read or write against the pair tables goes through Canonicalize so a
// relationship is never stored twice with the roles swapped.
package pair

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPair is returned when two ids cannot form a pair.
var ErrInvalidPair = errors.New("invalid pair")

var (
	pairIDNamespace      = uuid.MustParse("6f1c2a7e-93b4-4d5e-8a0f-1b2c3d4e5f60")
	pairVenueIDNamespace = uuid.MustParse("0d9e8f7a-6b5c-4d3e-9f2a-1b0c9d8e7f61")
)

// Pair is a canonical two-user key. Low sorts before High byte-wise.
type Pair struct {
	Low  string `json:"user_low_id"`
	High string `json:"user_high_id"`
}

// Canonicalize orders two distinct user ids. The result does not depend on
// argument order.
func Canonicalize(userA, userB string) (Pair, error) {
	if userA == "" || userB == "" {
		return Pair{}, fmt.Errorf("%w: user ids must not be empty", ErrInvalidPair)
	}
	if userA == userB {
		return Pair{}, fmt.Errorf("%w: user %s cannot cross paths with themselves", ErrInvalidPair, userA)
	}
	if userA < userB {
		return Pair{Low: userA, High: userB}, nil
	}
	return Pair{Low: userB, High: userA}, nil
}

// Key is a stable string form of the pair. Each id is length prefixed, so ids
// may contain any byte without two pairs sharing a key.
func (p Pair) Key() string {
	return encodeKey(p.Low, p.High)
}

// VenueKey scopes the pair key to one venue.
func (p Pair) VenueKey(venueID string) string {
	return encodeKey(p.Low, p.High, venueID)
}

func encodeKey(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// ID is the deterministic row id of the pair's relationship.
func (p Pair) ID() string {
	return uuid.NewSHA1(pairIDNamespace, []byte(p.Key())).String()
}

// VenueID is the deterministic row id of the pair's counter at a venue.
func (p Pair) VenueID(venueID string) string {
	return uuid.NewSHA1(pairVenueIDNamespace, []byte(p.VenueKey(venueID))).String()
}

// Has reports whether userID is one side of the pair.
func (p Pair) Has(userID string) bool {
	return userID == p.Low || userID == p.High
}

// Other returns the counterpart of userID, or "" when userID is not in the pair.
func (p Pair) Other(userID string) string {
	switch userID {
	case p.Low:
		return p.High
	case p.High:
		return p.Low
	default:
		return ""
	}
}

func (p Pair) String() string {
	return "(" + p.Low + ", " + p.High + ")"
}
