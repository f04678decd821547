package crossing

import (
	"errors"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
)

// PairCrossing is a pair that was fully updated for this visit.
type PairCrossing struct {
	Pair                pair.Pair `json:"pair"`
	OtherUserID         string    `json:"other_user_id"`
	Count               int       `json:"count"`
	IsNew               bool      `json:"is_new"`
	RelationshipCreated bool      `json:"relationship_created"`
}

// CrossingResult describes what one recorded visit did.
type CrossingResult struct {
	Visit                *models.Visit       `json:"visit"`
	VisitorsProcessed    int                 `json:"visitors_processed"`
	NewCrossings         int                 `json:"new_crossings"`
	RepeatCrossings      int                 `json:"repeat_crossings"`
	RelationshipsCreated int                 `json:"relationships_created"`
	Crossings            []PairCrossing      `json:"crossings"`
	Failures             []PairUpdateFailure `json:"failures"`
}

func newResult(visit *models.Visit) *CrossingResult {
	return &CrossingResult{
		Visit:     visit,
		Crossings: []PairCrossing{},
		Failures:  []PairUpdateFailure{},
	}
}

func (r *CrossingResult) HasFailures() bool {
	return len(r.Failures) > 0
}

// Err joins the pair failures, or returns nil when every pair succeeded.
func (r *CrossingResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *CrossingResult) addCrossing(c PairCrossing) {
	r.Crossings = append(r.Crossings, c)
	if c.IsNew {
		r.NewCrossings++
	} else {
		r.RepeatCrossings++
	}
	if c.RelationshipCreated {
		r.RelationshipsCreated++
	}
}
