// Package memory holds in-process implementations of the visit, counter and
// relationship stores. They back DB_DRIVER=memory and engine tests.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/keylock"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
)

// VisitStore keeps visits in insertion order.
type VisitStore struct {
	mu     sync.RWMutex
	visits []models.Visit
}

func NewVisitStore() *VisitStore {
	return &VisitStore{}
}

func (s *VisitStore) RecordVisit(ctx context.Context, in models.VisitInput) (*models.Visit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in.Normalize()

	v := models.Visit{
		ID:        uuid.New().String(),
		UserID:    in.UserID,
		VenueID:   in.VenueID,
		VenueName: in.VenueName,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		VisitedAt: in.VisitedAt,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.visits = append(s.visits, v)
	s.mu.Unlock()

	return &v, nil
}

// FindOtherVisitors snapshots the venue's visitors and yields them by user id.
func (s *VisitStore) FindOtherVisitors(ctx context.Context, venueID, excludingUserID string) iter.Seq2[models.Visitor, error] {
	return func(yield func(models.Visitor, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(models.Visitor{}, err)
			return
		}

		latest := map[string]time.Time{}
		s.mu.RLock()
		for _, v := range s.visits {
			if v.VenueID != venueID || v.UserID == excludingUserID {
				continue
			}
			if at, ok := latest[v.UserID]; !ok || v.VisitedAt.After(at) {
				latest[v.UserID] = v.VisitedAt
			}
		}
		s.mu.RUnlock()

		visitors := make([]models.Visitor, 0, len(latest))
		for userID, at := range latest {
			visitors = append(visitors, models.Visitor{UserID: userID, LastVisitedAt: at})
		}
		sort.Slice(visitors, func(i, j int) bool { return visitors[i].UserID < visitors[j].UserID })

		for _, v := range visitors {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func (s *VisitStore) ListForUser(ctx context.Context, userID string, limit int) ([]models.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visits := []models.Visit{}
	for _, v := range s.visits {
		if v.UserID == userID {
			visits = append(visits, v)
		}
	}
	sort.SliceStable(visits, func(i, j int) bool { return visits[i].VisitedAt.After(visits[j].VisitedAt) })
	if limit > 0 && len(visits) > limit {
		visits = visits[:limit]
	}
	return visits, nil
}

type pairVenue struct {
	pair    pair.Pair
	venueID string
}

// CrossingCounter counts crossings per (pair, venue). Each key's
// read-modify-write runs under a striped key lock.
type CrossingCounter struct {
	locks  *keylock.Local
	mu     sync.RWMutex
	counts map[pairVenue]*models.CrossingCount
}

func NewCrossingCounter() *CrossingCounter {
	return &CrossingCounter{
		locks:  keylock.NewLocal(0),
		counts: map[pairVenue]*models.CrossingCount{},
	}
}

func (c *CrossingCounter) RecordCrossing(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.CrossingTally, error) {
	key := pairVenue{pair: p, venueID: venue.ID}
	unlock, err := c.locks.Lock(ctx, p.VenueKey(venue.ID))
	if err != nil {
		return models.CrossingTally{}, err
	}
	defer unlock()

	now := time.Now().UTC()

	c.mu.RLock()
	existing, ok := c.counts[key]
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		existing.CrossCount++
		existing.UpdatedAt = now
		count := existing.CrossCount
		c.mu.Unlock()
		return models.CrossingTally{IsNew: false, Count: count}, nil
	}

	c.mu.Lock()
	c.counts[key] = &models.CrossingCount{
		ID:         p.VenueID(venue.ID),
		UserLowID:  p.Low,
		UserHighID: p.High,
		VenueID:    venue.ID,
		VenueName:  venue.Name,
		Latitude:   venue.Latitude,
		Longitude:  venue.Longitude,
		CrossCount: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	c.mu.Unlock()

	return models.CrossingTally{IsNew: true, Count: 1}, nil
}

func (c *CrossingCounter) Get(ctx context.Context, p pair.Pair, venueID string) (*models.CrossingCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row, ok := c.counts[pairVenue{pair: p, venueID: venueID}]
	if !ok {
		return nil, nil
	}
	out := *row
	return &out, nil
}

func (c *CrossingCounter) ListForPair(ctx context.Context, p pair.Pair) ([]models.CrossingCount, error) {
	return c.list(func(row *models.CrossingCount) bool { return row.Pair() == p }), nil
}

func (c *CrossingCounter) ListForUser(ctx context.Context, userID string) ([]models.CrossingCount, error) {
	return c.list(func(row *models.CrossingCount) bool { return row.Pair().Has(userID) }), nil
}

func (c *CrossingCounter) list(match func(*models.CrossingCount) bool) []models.CrossingCount {
	c.mu.RLock()
	rows := []models.CrossingCount{}
	for _, row := range c.counts {
		if match(row) {
			rows = append(rows, *row)
		}
	}
	c.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CrossCount != rows[j].CrossCount {
			return rows[i].CrossCount > rows[j].CrossCount
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// RelationshipAggregator keeps the first relationship seen per pair.
type RelationshipAggregator struct {
	mu            sync.RWMutex
	relationships map[pair.Pair]models.CrossedPathRelationship
}

func NewRelationshipAggregator() *RelationshipAggregator {
	return &RelationshipAggregator{relationships: map[pair.Pair]models.CrossedPathRelationship{}}
}

func (a *RelationshipAggregator) EnsureRelationship(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.RelationshipOutcome, error) {
	if err := ctx.Err(); err != nil {
		return models.RelationshipOutcome{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.relationships[p]; ok {
		return models.RelationshipOutcome{Created: false}, nil
	}
	a.relationships[p] = models.CrossedPathRelationship{
		ID:         p.ID(),
		UserLowID:  p.Low,
		UserHighID: p.High,
		VenueID:    venue.ID,
		VenueName:  venue.Name,
		Latitude:   venue.Latitude,
		Longitude:  venue.Longitude,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	return models.RelationshipOutcome{Created: true}, nil
}

func (a *RelationshipAggregator) Get(ctx context.Context, p pair.Pair) (*models.CrossedPathRelationship, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rel, ok := a.relationships[p]
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

func (a *RelationshipAggregator) ListForUser(ctx context.Context, userID string) ([]models.CrossedPathRelationship, error) {
	a.mu.RLock()
	rels := []models.CrossedPathRelationship{}
	for p, rel := range a.relationships {
		if p.Has(userID) && rel.IsActive {
			rels = append(rels, rel)
		}
	}
	a.mu.RUnlock()

	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].CreatedAt.After(rels[j].CreatedAt)
		}
		return rels[i].ID < rels[j].ID
	})
	return rels, nil
}
